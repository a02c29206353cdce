package phase

import (
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap/zaptest"
)

func TestMirrorAppliesAuthorityState(t *testing.T) {
	reg := peer.NewPeerRegistry()
	bus := event.NewBus(reg, zaptest.NewLogger(t))
	var changes []Changed
	var countdowns []int
	event.SubscribeLocal(bus, func(c Changed) { changes = append(changes, c) }, 0)
	event.SubscribeLocal(bus, func(c Countdown) { countdowns = append(countdowns, c.Seconds) }, 0)

	m := NewMirror(bus, zaptest.NewLogger(t))
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	authority := State{Phase: Preparation, StartedAt: start, Duration: 10 * time.Second}

	m.Apply(authority.message())
	m.Apply(authority.message()) // duplicate push, no new event
	m.ApplyCountdown(countdownMessage(10 * time.Second))

	if len(changes) != 1 || changes[0].Previous != Waiting || changes[0].Current != Preparation {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if len(countdowns) != 1 || countdowns[0] != 10 {
		t.Fatalf("unexpected countdowns %v", countdowns)
	}
	if got := m.TimeRemaining(start.Add(4 * time.Second)); got != 6*time.Second {
		t.Fatalf("expected 6s remaining, got %s", got)
	}
}

func TestCountdownRoundsUp(t *testing.T) {
	if got := countdownSeconds(2500 * time.Millisecond); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}
