package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain connection queues, join/leave
	PhasePreUpdate               // 1: reserved
	PhaseUpdate                  // 2: phase machine tick
	PhasePostUpdate              // 3: network event flush
	PhaseOutput                  // 4: flush connection output buffers
	PhasePersist                 // 5: history journal flush
	PhaseCleanup                 // 6: reserved
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Interval accumulates tick time and reports when a period has elapsed.
// Leftover time carries over so a 100ms interval on a 30ms tick fires on
// ticks 4, 7, 10 ... rather than drifting.
type Interval struct {
	Every time.Duration
	acc   time.Duration
}

// Due adds dt and reports whether the period elapsed.
func (iv *Interval) Due(dt time.Duration) bool {
	if iv.Every <= 0 {
		return true
	}
	iv.acc += dt
	if iv.acc < iv.Every {
		return false
	}
	iv.acc -= iv.Every
	if iv.acc >= iv.Every {
		iv.acc = 0 // a long stall fires once, not in a burst
	}
	return true
}
