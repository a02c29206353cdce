package system

import (
	"sort"
	"time"
)

// Runner executes systems in phase order each tick. Systems sharing a phase
// run in registration order.
type Runner struct {
	systems []System
	sorted  bool

	ticks  uint64
	budget time.Duration
	onSlow func(tick uint64, took time.Duration)
	now    func() time.Time
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
		now:     time.Now,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// WatchBudget reports every full tick whose systems took longer than
// budget, typically the tick rate. A slow tick delays barrier acks and
// event batches for the whole session.
func (r *Runner) WatchBudget(budget time.Duration, fn func(tick uint64, took time.Duration)) {
	r.budget = budget
	r.onSlow = fn
}

// Ticks is the number of full ticks run so far.
func (r *Runner) Ticks() uint64 { return r.ticks }

func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	start := r.now()
	for _, s := range r.systems {
		s.Update(dt)
	}
	r.ticks++
	if r.onSlow != nil && r.budget > 0 {
		if took := r.now().Sub(start); took > r.budget {
			r.onSlow(r.ticks, took)
		}
	}
}

// TickPhase runs only the systems of the given phases, in phase order.
// Used on shutdown to push out what the last full tick produced.
func (r *Runner) TickPhase(dt time.Duration, phases ...Phase) {
	r.ensureSorted()
	for _, s := range r.systems {
		for _, p := range phases {
			if s.Phase() == p {
				s.Update(dt)
				break
			}
		}
	}
}

func (r *Runner) ensureSorted() {
	if r.sorted {
		return
	}
	sort.SliceStable(r.systems, func(i, j int) bool {
		return r.systems[i].Phase() < r.systems[j].Phase()
	})
	r.sorted = true
}
