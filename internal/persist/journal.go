package persist

import (
	"context"
	"sync"

	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"go.uber.org/zap"
)

// HistoryWriter stores journal batches. HistoryRepo is the production one.
type HistoryWriter interface {
	WriteBatch(ctx context.Context, loads []SceneLoadRow, phases []PhaseRow) error
}

// maxJournal bounds buffered rows while the database is unreachable.
const maxJournal = 4096

// Journal buffers history records in memory. Recording never blocks on the
// database; Flush writes everything buffered in one transaction.
type Journal struct {
	mu     sync.Mutex
	loads  []SceneLoadRow
	phases []PhaseRow
	writer HistoryWriter
	log    *zap.Logger
}

func NewJournal(writer HistoryWriter, log *zap.Logger) *Journal {
	return &Journal{writer: writer, log: log}
}

func (j *Journal) RecordSceneLoad(o scene.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.loads) >= maxJournal {
		j.log.Warn("history journal full, dropping scene load", zap.String("scene", o.Scene))
		return
	}
	j.loads = append(j.loads, SceneLoadRow{
		Scene:     o.Scene,
		Mode:      o.Mode.String(),
		Sync:      o.Sync,
		Result:    o.Result,
		Acked:     o.Acked,
		Required:  o.Required,
		StartedAt: o.StartedAt,
		Elapsed:   o.Elapsed,
		Error:     o.Error,
	})
}

func (j *Journal) RecordPhase(t phase.Transition) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.phases) >= maxJournal {
		j.log.Warn("history journal full, dropping phase transition", zap.Stringer("to", t.To))
		return
	}
	j.phases = append(j.phases, PhaseRow{
		Round:    t.Round,
		From:     t.From.String(),
		To:       t.To.String(),
		Duration: t.Duration,
		At:       t.At,
	})
}

// Pending returns the number of buffered rows.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.loads) + len(j.phases)
}

// Flush writes the buffered rows. On failure they are put back in front of
// anything recorded meanwhile and retried on the next flush.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	loads, phases := j.loads, j.phases
	j.loads, j.phases = nil, nil
	j.mu.Unlock()

	if len(loads) == 0 && len(phases) == 0 {
		return nil
	}
	if err := j.writer.WriteBatch(ctx, loads, phases); err != nil {
		j.mu.Lock()
		var dropped int
		j.loads, dropped = requeue(loads, j.loads)
		var n int
		j.phases, n = requeue(phases, j.phases)
		dropped += n
		j.mu.Unlock()
		if dropped > 0 {
			j.log.Warn("history journal full after failed flush, dropping newest rows", zap.Int("dropped", dropped))
		}
		return err
	}
	j.log.Debug("history flushed", zap.Int("scene_loads", len(loads)), zap.Int("phases", len(phases)))
	return nil
}

// requeue puts failed rows back ahead of newer ones, keeping at most
// maxJournal and dropping from the newest end like the record paths do.
func requeue[T any](failed, newer []T) ([]T, int) {
	rows := append(failed, newer...)
	if len(rows) <= maxJournal {
		return rows, 0
	}
	return rows[:maxJournal], len(rows) - maxJournal
}
