package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	fail   error
	loads  []SceneLoadRow
	phases []PhaseRow
	calls  int
}

func (w *fakeWriter) WriteBatch(_ context.Context, loads []SceneLoadRow, phases []PhaseRow) error {
	w.calls++
	if w.fail != nil {
		return w.fail
	}
	w.loads = append(w.loads, loads...)
	w.phases = append(w.phases, phases...)
	return nil
}

func TestJournalFlushWritesRecords(t *testing.T) {
	w := &fakeWriter{}
	j := NewJournal(w, zaptest.NewLogger(t))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j.RecordSceneLoad(scene.Outcome{
		Scene: "Arena", Mode: scene.Single, Sync: true,
		Result: string(syncerr.KindTimeout), Acked: 2, Required: 3,
		StartedAt: at, Elapsed: 30 * time.Second,
	})
	j.RecordPhase(phase.Transition{Round: 1, From: phase.Waiting, To: phase.Preparation, Duration: 10 * time.Second, At: at})

	if j.Pending() != 2 {
		t.Fatalf("pending %d", j.Pending())
	}
	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(w.loads) != 1 || w.loads[0].Mode != "Single" || w.loads[0].Result != "TIMEOUT" {
		t.Fatalf("unexpected loads %+v", w.loads)
	}
	if len(w.phases) != 1 || w.phases[0].From != "Waiting" || w.phases[0].To != "Preparation" {
		t.Fatalf("unexpected phases %+v", w.phases)
	}
	if j.Pending() != 0 {
		t.Fatal("journal not drained")
	}

	// Nothing buffered, nothing written.
	if err := j.Flush(context.Background()); err != nil || w.calls != 1 {
		t.Fatalf("empty flush wrote: calls=%d err=%v", w.calls, err)
	}
}

func TestJournalKeepsRowsOnFailure(t *testing.T) {
	w := &fakeWriter{fail: errors.New("connection refused")}
	j := NewJournal(w, zaptest.NewLogger(t))
	j.RecordSceneLoad(scene.Outcome{Scene: "Lobby"})

	if err := j.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	j.RecordSceneLoad(scene.Outcome{Scene: "Arena"})
	if j.Pending() != 2 {
		t.Fatalf("pending %d after failed flush", j.Pending())
	}

	w.fail = nil
	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if len(w.loads) != 2 || w.loads[0].Scene != "Lobby" || w.loads[1].Scene != "Arena" {
		t.Fatalf("rows out of order after retry: %+v", w.loads)
	}
}

// fillingWriter records more rows into the journal while a flush is in
// flight, then fails.
type fillingWriter struct {
	j *Journal
	n int
}

func (w *fillingWriter) WriteBatch(context.Context, []SceneLoadRow, []PhaseRow) error {
	for i := 0; i < w.n; i++ {
		w.j.RecordSceneLoad(scene.Outcome{Scene: "Arena"})
	}
	return errors.New("db down")
}

func TestJournalRequeueKeepsCap(t *testing.T) {
	w := &fillingWriter{n: maxJournal}
	j := NewJournal(w, zaptest.NewLogger(t))
	w.j = j
	for i := 0; i < maxJournal; i++ {
		j.RecordSceneLoad(scene.Outcome{Scene: "Lobby"})
	}

	if err := j.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if got := j.Pending(); got != maxJournal {
		t.Fatalf("expected journal capped at %d, got %d", maxJournal, got)
	}
	// The older rows survive; the newest are the ones dropped.
	j.mu.Lock()
	first, last := j.loads[0].Scene, j.loads[len(j.loads)-1].Scene
	j.mu.Unlock()
	if first != "Lobby" || last != "Lobby" {
		t.Fatalf("expected only the original rows kept, got %s..%s", first, last)
	}
}
