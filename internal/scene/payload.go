// Package scene coordinates barrier-synchronized scene loads across a
// session. The authority runs a Coordinator; every other peer runs a
// Follower that loads what it is told and acknowledges.
package scene

import (
	"context"
	"fmt"
	"time"
)

// LoadMode mirrors the engine's scene load modes.
type LoadMode uint8

const (
	Single   LoadMode = iota // replaces every loaded scene
	Additive                 // loads alongside the current scenes
)

func (m LoadMode) String() string {
	switch m {
	case Single:
		return "Single"
	case Additive:
		return "Additive"
	default:
		return fmt.Sprintf("LoadMode(%d)", uint8(m))
	}
}

// ParseLoadMode accepts "single" / "additive" in any case.
func ParseLoadMode(s string) (LoadMode, error) {
	switch s {
	case "", "single", "Single", "SINGLE":
		return Single, nil
	case "additive", "Additive", "ADDITIVE":
		return Additive, nil
	default:
		return Single, fmt.Errorf("unknown load mode %q", s)
	}
}

// Payload describes one loadable scene. Treated as immutable once a load
// for it begins.
type Payload struct {
	Name         string
	RequiresSync bool
	Dependencies []string
	Timeout      time.Duration
	Mode         LoadMode
}

// Catalog resolves scene names to payloads.
type Catalog interface {
	Resolve(name string) (Payload, bool)
}

// MapCatalog is a Catalog backed by a map, handy for tests and fixed setups.
type MapCatalog map[string]Payload

func (c MapCatalog) Resolve(name string) (Payload, bool) {
	p, ok := c[name]
	return p, ok
}

// Loader is the engine's asynchronous scene load primitive. Load blocks
// until the scene is loaded, reporting progress in [0,1] along the way.
type Loader interface {
	Load(ctx context.Context, name string, mode LoadMode, progress func(float64)) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, name string, mode LoadMode, progress func(float64)) error

func (f LoaderFunc) Load(ctx context.Context, name string, mode LoadMode, progress func(float64)) error {
	return f(ctx, name, mode, progress)
}

// RequestState is the lifecycle of one authority-side load request.
type RequestState int

const (
	Requested RequestState = iota
	Loading
	AwaitingAcks
	Complete
	TimedOut
	Failed
)

func (s RequestState) String() string {
	switch s {
	case Requested:
		return "Requested"
	case Loading:
		return "Loading"
	case AwaitingAcks:
		return "AwaitingAcks"
	case Complete:
		return "Complete"
	case TimedOut:
		return "TimedOut"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("RequestState(%d)", int(s))
	}
}
