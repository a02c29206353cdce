package system

import (
	"time"

	coresys "github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/phase"
)

// PhaseSystem advances timed phases. Phase 2 (Update).
type PhaseSystem struct {
	machine *phase.Machine
	clock   func() time.Time
}

func NewPhaseSystem(machine *phase.Machine, clock func() time.Time) *PhaseSystem {
	if clock == nil {
		clock = time.Now
	}
	return &PhaseSystem{machine: machine, clock: clock}
}

func (s *PhaseSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *PhaseSystem) Update(_ time.Duration) {
	s.machine.Tick(s.clock())
}
