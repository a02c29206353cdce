package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap/zaptest"
)

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	got := make(chan peer.ID, 4)
	recv := func(self peer.ID) Handler {
		return func(from packet.Conn, data []byte) {
			if _, err := packet.Decode(data); err != nil {
				t.Errorf("decode: %v", err)
			}
			got <- self
		}
	}
	a, b, c := peer.NewID(), peer.NewID(), peer.NewID()
	ea := hub.Join(a, recv(a))
	defer ea.Close()
	defer hub.Join(b, recv(b)).Close()
	defer hub.Join(c, recv(c)).Close()

	if err := ea.Broadcast(packet.LoadStarted{Scene: "Arena"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	seen := map[peer.ID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-got:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for delivery, seen %v", seen)
		}
	}
	if seen[a] || !seen[b] || !seen[c] {
		t.Fatalf("expected delivery to b and c only, got %v", seen)
	}
}

func TestHubSendToUnknownPeer(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	e := hub.Join(peer.NewID(), func(packet.Conn, []byte) {})
	defer e.Close()
	err := e.SendTo(peer.NewID(), packet.LoadStarted{Scene: "Arena"})
	if !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHubSendCarriesOrigin(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	from := make(chan peer.ID, 1)
	a, b := peer.NewID(), peer.NewID()
	ea := hub.Join(a, func(packet.Conn, []byte) {})
	defer ea.Close()
	defer hub.Join(b, func(c packet.Conn, _ []byte) { from <- c.PeerID() }).Close()

	if err := ea.SendTo(b, packet.RequestStartGame{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case id := <-from:
		if id != a {
			t.Fatalf("expected origin %s, got %s", a, id)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}
