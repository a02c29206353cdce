package system

import (
	"context"
	"time"

	coresys "github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/persist"
	"go.uber.org/zap"
)

// PersistenceSystem periodically writes the history journal to the
// database. Phase 5 (Persist).
type PersistenceSystem struct {
	journal  *persist.Journal
	interval coresys.Interval
	log      *zap.Logger
}

func NewPersistenceSystem(journal *persist.Journal, every time.Duration, log *zap.Logger) *PersistenceSystem {
	return &PersistenceSystem{
		journal:  journal,
		interval: coresys.Interval{Every: every},
		log:      log,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(dt time.Duration) {
	if !s.interval.Due(dt) {
		return
	}
	s.Flush()
}

// Flush writes everything buffered now. Also called on shutdown.
func (s *PersistenceSystem) Flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.journal.Flush(ctx); err != nil {
		s.log.Error("history flush failed", zap.Int("pending", s.journal.Pending()), zap.Error(err))
	}
}
