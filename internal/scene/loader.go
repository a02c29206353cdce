package scene

import (
	"context"
	"fmt"
	"time"
)

// SimulatedLoader stands in for the engine's scene loading in the headless
// binaries: it takes Steps × Step to load and reports progress per step.
type SimulatedLoader struct {
	Step  time.Duration
	Steps int
	// Fail makes loads of the named scenes return an error.
	Fail map[string]string
}

func (l SimulatedLoader) Load(ctx context.Context, name string, mode LoadMode, progress func(float64)) error {
	steps := l.Steps
	if steps <= 0 {
		steps = 1
	}
	timer := time.NewTimer(l.Step)
	defer timer.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if msg, ok := l.Fail[name]; ok && i == steps {
			return fmt.Errorf("%s", msg)
		}
		if progress != nil {
			progress(float64(i) / float64(steps))
		}
		timer.Reset(l.Step)
	}
	return nil
}
