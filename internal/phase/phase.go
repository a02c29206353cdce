// Package phase holds the session-wide game phase. The authority owns a
// Machine and pushes every change to peers; peers keep a Mirror.
package phase

import (
	"fmt"
	"math"
	"time"

	"github.com/reciperage/syncd/internal/net/packet"
)

// Phase is the session-wide game phase.
type Phase uint8

const (
	Waiting Phase = iota
	Preparation
	Playing
	Results
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "Waiting"
	case Preparation:
		return "Preparation"
	case Playing:
		return "Playing"
	case Results:
		return "Results"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// State is the replicated phase value.
type State struct {
	Phase     Phase
	StartedAt time.Time
	Duration  time.Duration
}

// TimeRemaining is max(0, Duration-(now-StartedAt)); zero when the phase
// has no duration.
func (s State) TimeRemaining(now time.Time) time.Duration {
	if s.Duration <= 0 {
		return 0
	}
	left := s.Duration - now.Sub(s.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether a timed phase has run out.
func (s State) Expired(now time.Time) bool {
	return s.Duration > 0 && now.Sub(s.StartedAt) >= s.Duration
}

func (s State) message() packet.PhaseChanged {
	var started int64
	if !s.StartedAt.IsZero() {
		started = s.StartedAt.UnixMilli()
	}
	return packet.PhaseChanged{
		Phase:           byte(s.Phase),
		StartedAtMillis: started,
		DurationMillis:  int32(s.Duration.Milliseconds()),
	}
}

func stateFromMessage(m packet.PhaseChanged) State {
	s := State{
		Phase:    Phase(m.Phase),
		Duration: time.Duration(m.DurationMillis) * time.Millisecond,
	}
	if m.StartedAtMillis != 0 {
		s.StartedAt = time.UnixMilli(m.StartedAtMillis)
	}
	return s
}

func countdownSeconds(d time.Duration) int32 {
	return int32(math.Ceil(d.Seconds()))
}

func countdownMessage(d time.Duration) packet.CountdownNotice {
	return packet.CountdownNotice{Seconds: countdownSeconds(d)}
}
