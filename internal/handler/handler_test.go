package handler

import (
	"context"
	stdnet "net"
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/config"
	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	deps *Deps
	reg  *packet.Registry
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	peers := peer.NewAuthorityRegistry(peer.NewID())
	sessions := net.NewSessionStore()
	bus := event.NewBus(peers, log)
	machine := phase.NewMachine(peers, sessions, bus, phase.Options{}, log)
	loader := scene.LoaderFunc(func(context.Context, string, scene.LoadMode, func(float64)) error { return nil })
	coord := scene.NewCoordinator(peers, sessions, bus, scene.MapCatalog{"Arena": {Name: "Arena"}}, loader, scene.Options{}, log)
	peers.OnConnected(coord.PeerConnected)
	peers.OnConnected(machine.SyncPeer)

	f := &fixture{
		deps: &Deps{
			Ctx:      context.Background(),
			Config:   &cfg,
			Log:      log,
			Peers:    peers,
			Sessions: sessions,
			Phase:    machine,
			Scenes:   coord,
		},
		reg: packet.NewRegistry(log),
	}
	RegisterAll(f.reg, f.deps)
	return f
}

func (f *fixture) connect(t *testing.T) *net.Session {
	t.Helper()
	a, b := stdnet.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	sess := net.NewSession(a, uint64(f.deps.Sessions.Count()+1), net.SessionOptions{InQueueSize: 8, OutQueueSize: 32}, f.deps.Log)
	f.deps.Sessions.Add(sess)
	return sess
}

func (f *fixture) dispatch(t *testing.T, sess *net.Session, m packet.Message) error {
	t.Helper()
	return f.reg.Dispatch(sess, sess.State(), packet.Encode(m))
}

// outbound flushes sess and decodes everything it would have written.
func outbound(t *testing.T, sess *net.Session) []packet.Message {
	t.Helper()
	sess.FlushOutput()
	var out []packet.Message
	for {
		select {
		case data := <-sess.OutQueue:
			m, err := packet.Decode(data)
			if err != nil {
				t.Fatalf("decode outbound: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHelloWelcomesAndSyncsLateJoiner(t *testing.T) {
	f := newFixture(t, config.Config{})
	if err := f.deps.Scenes.RequestLoad(context.Background(), scene.Payload{Name: "Arena"}); err != nil {
		t.Fatalf("preload: %v", err)
	}

	sess := f.connect(t)
	if err := f.dispatch(t, sess, packet.Hello{Name: "chef"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if sess.State() != packet.StateJoined || sess.Name != "chef" {
		t.Fatalf("session not joined: state=%s name=%q", sess.State(), sess.Name)
	}
	if !f.deps.Peers.Contains(sess.PeerID()) {
		t.Fatal("peer not in registry")
	}

	msgs := outbound(t, sess)
	if len(msgs) < 3 {
		t.Fatalf("expected welcome, scene state and phase state, got %d messages", len(msgs))
	}
	w, ok := msgs[0].(packet.Welcome)
	if !ok || peer.ID(w.PeerID) != sess.PeerID() || peer.ID(w.AuthorityID) != f.deps.Peers.LocalID() {
		t.Fatalf("first message should be the welcome, got %#v", msgs[0])
	}
	var sawScenes, sawPhase bool
	for _, m := range msgs[1:] {
		switch m := m.(type) {
		case packet.SceneStateSync:
			sawScenes = len(m.Scenes) == 1 && m.Scenes[0].Scene == "Arena"
		case packet.PhaseChanged:
			sawPhase = true
		}
	}
	if !sawScenes || !sawPhase {
		t.Fatalf("late-join state missing: scenes=%v phase=%v", sawScenes, sawPhase)
	}
}

func TestHelloChecksJoinKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tomato"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	cfg.Session.JoinKeyHash = string(hash)
	f := newFixture(t, cfg)

	bad := f.connect(t)
	_ = f.dispatch(t, bad, packet.Hello{Name: "intruder", JoinKey: "potato"})
	msgs := outbound(t, bad)
	if len(msgs) != 1 {
		t.Fatalf("expected a single rejection, got %d messages", len(msgs))
	}
	if r, ok := msgs[0].(packet.JoinRejected); !ok || r.Reason != "invalid join key" {
		t.Fatalf("unexpected reply %#v", msgs[0])
	}
	if f.deps.Peers.Count() != 1 {
		t.Fatal("rejected peer entered the registry")
	}

	good := f.connect(t)
	_ = f.dispatch(t, good, packet.Hello{Name: "chef", JoinKey: "tomato"})
	if good.State() != packet.StateJoined {
		t.Fatal("correct key should be admitted")
	}
}

func TestHelloRejectsWhenFull(t *testing.T) {
	var cfg config.Config
	cfg.Session.MaxPeers = 2 // host + one
	f := newFixture(t, cfg)

	first := f.connect(t)
	_ = f.dispatch(t, first, packet.Hello{Name: "a"})
	second := f.connect(t)
	_ = f.dispatch(t, second, packet.Hello{Name: "b"})

	msgs := outbound(t, second)
	if len(msgs) != 1 {
		t.Fatalf("expected rejection only, got %v", msgs)
	}
	if r, ok := msgs[0].(packet.JoinRejected); !ok || r.Reason != "session full" {
		t.Fatalf("unexpected reply %#v", msgs[0])
	}
}

func TestJoinedOnlyOpcodesGated(t *testing.T) {
	f := newFixture(t, config.Config{})
	sess := f.connect(t)
	if err := f.dispatch(t, sess, packet.RequestStartGame{}); err == nil {
		t.Fatal("start game before hello should be refused by state gating")
	}
	if f.deps.Phase.Current().Phase != phase.Waiting {
		t.Fatal("phase changed")
	}
}

func TestRemoteRequestsAreRefused(t *testing.T) {
	f := newFixture(t, config.Config{})
	sess := f.connect(t)
	_ = f.dispatch(t, sess, packet.Hello{Name: "chef"})
	outbound(t, sess)

	if err := f.dispatch(t, sess, packet.RequestStartGame{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.deps.Phase.Current().Phase != phase.Waiting {
		t.Fatal("a non-host peer must not start the game")
	}

	if err := f.dispatch(t, sess, packet.RequestSceneLoad{Scene: "Arena"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	msgs := outbound(t, sess)
	if len(msgs) != 1 {
		t.Fatalf("expected one LoadError, got %v", msgs)
	}
	if e, ok := msgs[0].(packet.LoadError); !ok || e.Scene != "Arena" {
		t.Fatalf("unexpected reply %#v", msgs[0])
	}
	if f.deps.Scenes.IsLoaded("Arena") {
		t.Fatal("remote request must not load the scene")
	}
}

func TestAckUsesConnectionIdentity(t *testing.T) {
	f := newFixture(t, config.Config{})
	sess := f.connect(t)
	_ = f.dispatch(t, sess, packet.Hello{Name: "chef"})

	errc := make(chan error, 1)
	go func() {
		errc <- f.deps.Scenes.RequestLoad(context.Background(), scene.Payload{Name: "Arena", RequiresSync: true})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if p := f.deps.Scenes.Pending(); len(p) == 1 && p[0].State == scene.AwaitingAcks {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("load never reached the barrier")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The claimed ID is wrong; the connection's identity still counts.
	if err := f.dispatch(t, sess, packet.SceneLoadAcknowledged{PeerID: string(peer.NewID()), Scene: "Arena"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("load: %v", err)
	}
}
