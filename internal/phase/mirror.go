package phase

import (
	"sync"
	"time"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/net/packet"
	"go.uber.org/zap"
)

// Mirror is a peer's read-only copy of the authority's phase state. It is
// updated by inbound PhaseChanged messages and raises the same local
// events as the authority's Machine.
//
// StartedAt is the authority's clock; remaining time assumes the clocks
// are roughly in sync.
type Mirror struct {
	mu    sync.Mutex
	state State
	bus   *event.Bus
	log   *zap.Logger
}

func NewMirror(bus *event.Bus, log *zap.Logger) *Mirror {
	return &Mirror{
		state: State{Phase: Waiting},
		bus:   bus,
		log:   log.With(zap.String("component", "phase-mirror")),
	}
}

// Apply installs the replicated state from msg. A Changed event is
// published only when the phase value differs.
func (m *Mirror) Apply(msg packet.PhaseChanged) {
	next := stateFromMessage(msg)

	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev.Phase == next.Phase {
		return
	}
	m.log.Info("phase changed",
		zap.Stringer("from", prev.Phase),
		zap.Stringer("to", next.Phase),
		zap.Duration("duration", next.Duration),
	)
	event.PublishLocal(m.bus, Changed{
		Previous:  prev.Phase,
		Current:   next.Phase,
		StartedAt: next.StartedAt,
		Duration:  next.Duration,
	})
}

// ApplyCountdown raises a local Countdown event.
func (m *Mirror) ApplyCountdown(msg packet.CountdownNotice) {
	m.log.Debug("countdown", zap.Int32("seconds", msg.Seconds))
	event.PublishLocal(m.bus, Countdown{Seconds: int(msg.Seconds)})
}

func (m *Mirror) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mirror) TimeRemaining(now time.Time) time.Duration {
	return m.Current().TimeRemaining(now)
}
