package phase

import (
	"fmt"
	"sync"
	"time"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/transport"
	"go.uber.org/zap"
)

// Options configures a Machine. Zero values fall back to defaults.
type Options struct {
	Preparation time.Duration // used by RequestStartGame, default 10s
	Policy      DurationPolicy
	Recorder    Recorder
	Clock       func() time.Time
}

// Machine is the authority-owned phase state machine. All mutators are
// no-ops returning ErrPermission on a non-authority instance.
//
// Waiting → Preparation → Playing → Results → (Waiting | Preparation).
// StartPlaying is accepted from any phase.
type Machine struct {
	mu    sync.Mutex
	state State
	round int

	lifecycle peer.Lifecycle
	sender    transport.Sender
	bus       *event.Bus
	opts      Options
	log       *zap.Logger
}

func NewMachine(lifecycle peer.Lifecycle, sender transport.Sender, bus *event.Bus, opts Options, log *zap.Logger) *Machine {
	if opts.Preparation <= 0 {
		opts.Preparation = 10 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = FixedPolicy(DefaultPlayingDuration)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Machine{
		state:     State{Phase: Waiting},
		lifecycle: lifecycle,
		sender:    sender,
		bus:       bus,
		opts:      opts,
		log:       log.With(zap.String("component", "phase")),
	}
}

// Current returns a copy of the replicated state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Round is the number of preparation phases started so far.
func (m *Machine) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

// TimeRemaining in the current phase at now.
func (m *Machine) TimeRemaining(now time.Time) time.Duration {
	return m.Current().TimeRemaining(now)
}

func (m *Machine) authorize(op string) error {
	if m.lifecycle.IsAuthority() {
		return nil
	}
	m.log.Warn("phase change refused on non-authority", zap.String("op", op))
	return fmt.Errorf("%s: %w", op, syncerr.ErrPermission)
}

func checkDuration(op string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%s: negative duration %s: %w", op, d, syncerr.ErrInvalidArgument)
	}
	return nil
}

// StartPreparation begins a round's countdown. Allowed from Waiting or
// Results only; starting a round over a running one is a conflict rather
// than a silent restart.
func (m *Machine) StartPreparation(d time.Duration) error {
	if err := m.authorize("start preparation"); err != nil {
		return err
	}
	if err := checkDuration("start preparation", d); err != nil {
		return err
	}

	m.mu.Lock()
	if cur := m.state.Phase; cur != Waiting && cur != Results {
		m.mu.Unlock()
		m.log.Warn("preparation refused", zap.Stringer("phase", cur))
		return fmt.Errorf("start preparation from %s: %w", cur, syncerr.ErrConflict)
	}
	m.round++
	changed := m.transitionLocked(Preparation, d)
	m.sendLocked(countdownMessage(d))
	m.mu.Unlock()

	m.publish(changed)
	event.PublishLocal(m.bus, Countdown{Seconds: int(countdownSeconds(d))})
	return nil
}

// StartPlaying enters Playing for d. The prior phase is not checked;
// skipping Preparation is logged.
func (m *Machine) StartPlaying(d time.Duration) error {
	if err := m.authorize("start playing"); err != nil {
		return err
	}
	if err := checkDuration("start playing", d); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.Phase != Preparation {
		m.log.Warn("playing started without preparation", zap.Stringer("from", m.state.Phase))
	}
	changed := m.transitionLocked(Playing, d)
	m.mu.Unlock()

	m.publish(changed)
	return nil
}

// StartPlayingDefault enters Playing for the policy's duration.
func (m *Machine) StartPlayingDefault() error {
	return m.StartPlaying(m.opts.Policy.PlayingDuration(m.Round(), len(m.lifecycle.Connected())))
}

// ShowResults enters Results for d. Allowed from Playing only; Results
// never times out on its own.
func (m *Machine) ShowResults(d time.Duration) error {
	if err := m.authorize("show results"); err != nil {
		return err
	}
	if err := checkDuration("show results", d); err != nil {
		return err
	}

	m.mu.Lock()
	if cur := m.state.Phase; cur != Playing {
		m.mu.Unlock()
		return fmt.Errorf("show results from %s: %w", cur, syncerr.ErrConflict)
	}
	changed := m.transitionLocked(Results, d)
	m.mu.Unlock()

	m.publish(changed)
	return nil
}

// EndGame returns the session to Waiting with no duration.
func (m *Machine) EndGame() error {
	if err := m.authorize("end game"); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.Phase == Waiting && m.state.Duration == 0 {
		m.mu.Unlock()
		return nil
	}
	changed := m.transitionLocked(Waiting, 0)
	m.mu.Unlock()

	m.publish(changed)
	return nil
}

// Tick fires the phase timeout: Preparation → Playing, Playing → Waiting.
// Called once per authority tick; a no-op on peers.
func (m *Machine) Tick(now time.Time) {
	if !m.lifecycle.IsAuthority() {
		return
	}
	st := m.Current()
	if !st.Expired(now) {
		return
	}

	var err error
	switch st.Phase {
	case Preparation:
		err = m.StartPlayingDefault()
	case Playing:
		err = m.EndGame()
	default:
		return
	}
	if err != nil {
		m.log.Error("phase timeout transition failed", zap.Stringer("phase", st.Phase), zap.Error(err))
	}
}

// RequestStartGame starts a round on behalf of from. Only the authority's
// own peer may start the game.
func (m *Machine) RequestStartGame(from peer.ID) error {
	if err := m.authorize("request start game"); err != nil {
		return err
	}
	if from != m.lifecycle.LocalID() {
		m.log.Warn("start game requested by non-host peer", zap.String("peer", from.Short()))
		return fmt.Errorf("start game from %s: %w", from.Short(), syncerr.ErrPermission)
	}
	return m.StartPreparation(m.opts.Preparation)
}

// SyncPeer pushes the current state to a newly connected peer.
func (m *Machine) SyncPeer(id peer.ID) {
	if !m.lifecycle.IsAuthority() || id == m.lifecycle.LocalID() {
		return
	}
	msg := m.Current().message()
	if err := m.sender.SendTo(id, msg); err != nil {
		m.log.Warn("phase sync to late joiner failed", zap.String("peer", id.Short()), zap.Error(err))
	}
}

// transitionLocked mutates the state, broadcasts PhaseChanged and records
// the transition. Caller holds m.mu.
func (m *Machine) transitionLocked(to Phase, d time.Duration) Changed {
	now := m.opts.Clock()
	from := m.state.Phase
	m.state = State{Phase: to, StartedAt: now, Duration: d}
	m.sendLocked(m.state.message())

	if m.opts.Recorder != nil {
		m.opts.Recorder.RecordPhase(Transition{Round: m.round, From: from, To: to, Duration: d, At: now})
	}
	m.log.Info("phase changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Duration("duration", d),
		zap.Int("round", m.round),
	)
	return Changed{Previous: from, Current: to, StartedAt: now, Duration: d}
}

func (m *Machine) sendLocked(msg packet.Message) {
	if err := m.sender.Broadcast(msg); err != nil {
		m.log.Warn("phase broadcast failed", zap.Uint8("opcode", msg.Opcode()), zap.Error(err))
	}
}

func (m *Machine) publish(c Changed) {
	event.PublishLocal(m.bus, c)
}
