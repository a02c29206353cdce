package phase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap/zaptest"
)

type sent struct {
	to  peer.ID // peer.None for broadcast
	msg packet.Message
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (s *recordingSender) SendTo(id peer.ID, m packet.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sent{to: id, msg: m})
	return nil
}

func (s *recordingSender) Broadcast(m packet.Message) error {
	return s.SendTo(peer.None, m)
}

func (s *recordingSender) count(opcode byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.msg.Opcode() == opcode {
			n++
		}
	}
	return n
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type recorderFunc func(Transition)

func (f recorderFunc) RecordPhase(t Transition) { f(t) }

type fixture struct {
	machine *Machine
	sender  *recordingSender
	clock   *fakeClock
	bus     *event.Bus
	reg     *peer.Registry
	changes []Changed
}

func newFixture(t *testing.T, authority bool) *fixture {
	t.Helper()
	var reg *peer.Registry
	if authority {
		reg = peer.NewAuthorityRegistry(peer.NewID())
	} else {
		reg = peer.NewPeerRegistry()
		reg.Assign(peer.NewID(), peer.NewID())
	}
	f := &fixture{
		sender: &recordingSender{},
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		reg:    reg,
	}
	log := zaptest.NewLogger(t)
	f.bus = event.NewBus(reg, log)
	event.SubscribeLocal(f.bus, func(c Changed) { f.changes = append(f.changes, c) }, 0)
	f.machine = NewMachine(reg, f.sender, f.bus, Options{Clock: f.clock.Now}, log)
	return f
}

func TestPreparationTimesOutIntoPlaying(t *testing.T) {
	f := newFixture(t, true)
	start := f.clock.now

	if err := f.machine.StartPreparation(10 * time.Second); err != nil {
		t.Fatalf("start preparation: %v", err)
	}
	if f.sender.count(packet.S_OPCODE_COUNTDOWN_NOTICE) != 1 {
		t.Fatalf("expected one countdown notice")
	}

	f.clock.now = start.Add(11 * time.Second)
	f.machine.Tick(f.clock.now)

	st := f.machine.Current()
	if st.Phase != Playing || st.Duration != 180*time.Second {
		t.Fatalf("expected Playing for 180s, got %s for %s", st.Phase, st.Duration)
	}
	if got := f.sender.count(packet.S_OPCODE_PHASE_CHANGED); got != 2 {
		t.Fatalf("expected 2 PhaseChanged broadcasts (prep + playing), got %d", got)
	}

	// A second tick in the same state must not re-fire.
	f.machine.Tick(f.clock.now)
	if got := f.sender.count(packet.S_OPCODE_PHASE_CHANGED); got != 2 {
		t.Fatalf("expected PhaseChanged exactly once for the timeout, got %d total", got)
	}
	if len(f.changes) != 2 || f.changes[1].Previous != Preparation || f.changes[1].Current != Playing {
		t.Fatalf("unexpected local changes %+v", f.changes)
	}
}

func TestPlayingTimesOutIntoWaiting(t *testing.T) {
	f := newFixture(t, true)
	if err := f.machine.StartPlaying(5 * time.Second); err != nil {
		t.Fatalf("start playing: %v", err)
	}
	f.clock.now = f.clock.now.Add(5 * time.Second)
	f.machine.Tick(f.clock.now)

	st := f.machine.Current()
	if st.Phase != Waiting || st.Duration != 0 {
		t.Fatalf("expected Waiting with no duration, got %+v", st)
	}
}

func TestWaitingAndResultsNeverAutoAdvance(t *testing.T) {
	f := newFixture(t, true)
	f.machine.Tick(f.clock.now.Add(time.Hour))
	if f.machine.Current().Phase != Waiting {
		t.Fatalf("waiting must not auto-advance")
	}

	if err := f.machine.StartPlaying(time.Second); err != nil {
		t.Fatalf("start playing: %v", err)
	}
	if err := f.machine.ShowResults(2 * time.Second); err != nil {
		t.Fatalf("show results: %v", err)
	}
	f.clock.now = f.clock.now.Add(time.Minute)
	f.machine.Tick(f.clock.now)
	if f.machine.Current().Phase != Results {
		t.Fatalf("results must not auto-advance, got %s", f.machine.Current().Phase)
	}
}

func TestTimeRemainingMonotonicAndZeroAfterEndGame(t *testing.T) {
	f := newFixture(t, true)
	start := f.clock.now
	if err := f.machine.StartPreparation(10 * time.Second); err != nil {
		t.Fatalf("start preparation: %v", err)
	}

	prev := f.machine.TimeRemaining(start)
	if prev != 10*time.Second {
		t.Fatalf("expected 10s remaining, got %s", prev)
	}
	for i := 1; i <= 12; i++ {
		got := f.machine.TimeRemaining(start.Add(time.Duration(i) * time.Second))
		if got > prev {
			t.Fatalf("remaining increased from %s to %s", prev, got)
		}
		if got < 0 {
			t.Fatalf("remaining went negative: %s", got)
		}
		prev = got
	}

	if err := f.machine.EndGame(); err != nil {
		t.Fatalf("end game: %v", err)
	}
	if got := f.machine.TimeRemaining(f.clock.now); got != 0 {
		t.Fatalf("expected 0 after EndGame, got %s", got)
	}
}

func TestNonAuthorityMutatorsAreNoOps(t *testing.T) {
	f := newFixture(t, false)
	before := f.machine.Current()

	ops := map[string]func() error{
		"prep":    func() error { return f.machine.StartPreparation(time.Second) },
		"playing": func() error { return f.machine.StartPlaying(time.Second) },
		"results": func() error { return f.machine.ShowResults(time.Second) },
		"end":     func() error { return f.machine.EndGame() },
		"request": func() error { return f.machine.RequestStartGame(f.reg.LocalID()) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, syncerr.ErrPermission) {
			t.Fatalf("%s: expected permission error, got %v", name, err)
		}
	}
	f.machine.Tick(f.clock.now.Add(time.Hour))

	if f.machine.Current() != before {
		t.Fatalf("state changed on non-authority: %+v", f.machine.Current())
	}
	if len(f.sender.msgs) != 0 || len(f.changes) != 0 {
		t.Fatalf("expected no broadcasts or events, got %d/%d", len(f.sender.msgs), len(f.changes))
	}
}

func TestPreparationRefusedMidRound(t *testing.T) {
	f := newFixture(t, true)
	if err := f.machine.StartPlaying(time.Minute); err != nil {
		t.Fatalf("start playing: %v", err)
	}
	if err := f.machine.StartPreparation(time.Second); !errors.Is(err, syncerr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.machine.Current().Phase != Playing {
		t.Fatalf("expected phase unchanged")
	}
}

func TestNegativeDurationRejected(t *testing.T) {
	f := newFixture(t, true)
	if err := f.machine.StartPreparation(-time.Second); !errors.Is(err, syncerr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRequestStartGameHostOnly(t *testing.T) {
	f := newFixture(t, true)
	guest := peer.NewID()
	f.reg.Connect(guest)

	if err := f.machine.RequestStartGame(guest); !errors.Is(err, syncerr.ErrPermission) {
		t.Fatalf("expected guest request to be refused, got %v", err)
	}
	if err := f.machine.RequestStartGame(f.reg.LocalID()); err != nil {
		t.Fatalf("host request: %v", err)
	}
	st := f.machine.Current()
	if st.Phase != Preparation || st.Duration != 10*time.Second {
		t.Fatalf("expected 10s preparation, got %+v", st)
	}
	if f.machine.Round() != 1 {
		t.Fatalf("expected round 1, got %d", f.machine.Round())
	}
}

func TestSyncPeerSendsCurrentState(t *testing.T) {
	f := newFixture(t, true)
	guest := peer.NewID()
	if err := f.machine.StartPreparation(3 * time.Second); err != nil {
		t.Fatalf("start preparation: %v", err)
	}
	f.machine.SyncPeer(guest)

	last := f.sender.msgs[len(f.sender.msgs)-1]
	if last.to != guest {
		t.Fatalf("expected message addressed to guest, got %q", last.to)
	}
	pc, ok := last.msg.(packet.PhaseChanged)
	if !ok || Phase(pc.Phase) != Preparation || pc.DurationMillis != 3000 {
		t.Fatalf("unexpected sync message %+v", last.msg)
	}
}

func TestRecorderSeesTransitions(t *testing.T) {
	f := newFixture(t, true)
	var got []Transition
	f.machine.opts.Recorder = recorderFunc(func(tr Transition) { got = append(got, tr) })

	for _, step := range []func() error{
		func() error { return f.machine.StartPreparation(time.Second) },
		func() error { return f.machine.StartPlaying(time.Second) },
		f.machine.EndGame,
	} {
		if err := step(); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(got))
	}
	if got[0].From != Waiting || got[0].To != Preparation || got[0].Round != 1 {
		t.Fatalf("unexpected first transition %+v", got[0])
	}
	if got[2].To != Waiting {
		t.Fatalf("expected last transition to Waiting, got %+v", got[2])
	}
}
