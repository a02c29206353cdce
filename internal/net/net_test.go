package net

import (
	"bytes"
	"errors"
	stdnet "net"
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap/zaptest"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := packet.Encode(packet.LoadStarted{Scene: "Arena"})
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.Len(); got != len(payload)+2 {
		t.Fatalf("frame is %d bytes, want %d", got, len(payload)+2)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %x vs %x", got, payload)
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{0x02, 0x00})); err == nil {
		t.Fatal("expected error for an empty frame")
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0x08, 0x00, 0x01})); err == nil {
		t.Fatal("expected error for a truncated payload")
	}
	if err := WriteFrame(&bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error writing an empty payload")
	}
}

func pipeSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	log := zaptest.NewLogger(t)
	a, b := stdnet.Pipe()
	opts := SessionOptions{InQueueSize: 8, OutQueueSize: 8}
	sa := NewSession(a, 1, opts, log)
	sb := NewSession(b, 2, opts, log)
	sa.Start()
	sb.Start()
	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func receive(t *testing.T, s *Session) packet.Message {
	t.Helper()
	select {
	case data := <-s.InQueue:
		m, err := packet.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestSessionDeliversAfterFlush(t *testing.T) {
	sa, sb := pipeSessions(t)
	sa.Send(packet.Hello{Name: "chef"})
	select {
	case <-sb.InQueue:
		t.Fatal("frame delivered before FlushOutput")
	case <-time.After(20 * time.Millisecond):
	}
	sa.FlushOutput()
	if m, ok := receive(t, sb).(packet.Hello); !ok || m.Name != "chef" {
		t.Fatalf("unexpected message %#v", m)
	}
}

func TestSessionCloseEndsPeer(t *testing.T) {
	sa, sb := pipeSessions(t)
	sa.Close()
	select {
	case <-sb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote session did not notice the close")
	}
	if sa.State() != packet.StateDisconnecting {
		t.Fatalf("closed session state %v", sa.State())
	}
}

func TestSessionStoreRouting(t *testing.T) {
	sa, sb := pipeSessions(t)
	store := NewSessionStore()
	store.Add(sa)

	id := peer.NewID()
	if err := store.SendTo(id, packet.LoadComplete{Scene: "Arena"}); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("unbound peer: expected not found, got %v", err)
	}

	// Handshaking sessions do not receive broadcasts.
	if err := store.Broadcast(packet.LoadStarted{Scene: "Lobby"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	store.Bind(sa, id)
	if sa.PeerID() != id || sa.State() != packet.StateJoined {
		t.Fatal("bind did not update the session")
	}
	if err := store.Broadcast(packet.LoadStarted{Scene: "Arena"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if err := store.SendTo(id, packet.LoadComplete{Scene: "Arena"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	sa.FlushOutput()

	if m, ok := receive(t, sb).(packet.LoadStarted); !ok || m.Scene != "Arena" {
		t.Fatalf("expected the Arena broadcast first, got %#v", m)
	}
	if _, ok := receive(t, sb).(packet.LoadComplete); !ok {
		t.Fatal("expected LoadComplete")
	}

	if got := store.Remove(sa); got != id || store.ByPeer(id) != nil || store.Count() != 0 {
		t.Fatal("remove did not forget the session")
	}
}

func TestUplinkOnlyReachesAuthority(t *testing.T) {
	sa, sb := pipeSessions(t)
	auth := peer.NewID()
	up := Uplink{Session: sa, Authority: func() peer.ID { return auth }}

	if err := up.Broadcast(packet.RequestStartGame{}); !errors.Is(err, syncerr.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := up.SendTo(peer.NewID(), packet.RequestStartGame{}); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := up.SendTo(auth, packet.RequestSceneLoad{Scene: "Arena"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if m, ok := receive(t, sb).(packet.RequestSceneLoad); !ok || m.Scene != "Arena" {
		t.Fatalf("unexpected message %#v", m)
	}
}
