package scene

import (
	"context"
	"fmt"
	"sync"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/transport"
	"go.uber.org/zap"
)

// Follower runs on a non-authority peer. It loads the scenes the authority
// announces and acknowledges sync loads so the barrier can resolve.
type Follower struct {
	mu     sync.Mutex
	loaded []Loaded

	lifecycle peer.Lifecycle
	uplink    transport.Sender
	bus       *event.Bus
	loader    Loader
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFollower(lifecycle peer.Lifecycle, uplink transport.Sender, bus *event.Bus, loader Loader, log *zap.Logger) *Follower {
	ctx, cancel := context.WithCancel(context.Background())
	return &Follower{
		lifecycle: lifecycle,
		uplink:    uplink,
		bus:       bus,
		loader:    loader,
		log:       log.With(zap.String("component", "scene")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// HandlePrepare starts loading msg.Scene and acknowledges to the authority
// once it is loaded. A failed load is not acknowledged; the authority's
// timeout settles the barrier.
func (f *Follower) HandlePrepare(msg packet.PrepareSceneLoad) {
	mode := LoadMode(msg.Mode)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.load(msg.Scene, mode); err != nil {
			f.log.Error("prepared scene load failed", zap.String("scene", msg.Scene), zap.Error(err))
			event.PublishLocal(f.bus, LoadFailed{Scene: msg.Scene, Reason: err.Error()})
			return
		}
		ack := packet.SceneLoadAcknowledged{PeerID: string(f.lifecycle.LocalID()), Scene: msg.Scene}
		if err := f.uplink.SendTo(f.lifecycle.AuthorityID(), ack); err != nil {
			f.log.Warn("scene ack failed", zap.String("scene", msg.Scene), zap.Error(err))
			return
		}
		f.log.Debug("scene acknowledged", zap.String("scene", msg.Scene))
	}()
}

// HandleStateSync loads the authority's current scene set on a late
// joiner, each scene additively whatever mode it carries. These loads are already complete session-wide, so nothing is
// acknowledged.
func (f *Follower) HandleStateSync(msg packet.SceneStateSync) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for _, s := range msg.Scenes {
			if !s.Active || f.IsLoaded(s.Scene) {
				continue
			}
			if err := f.load(s.Scene, Additive); err != nil {
				f.log.Error("state sync load failed", zap.String("scene", s.Scene), zap.Error(err))
				event.PublishLocal(f.bus, LoadFailed{Scene: s.Scene, Reason: err.Error()})
				return
			}
		}
		f.log.Info("scene state synced", zap.Int("scenes", len(msg.Scenes)))
	}()
}

func (f *Follower) load(name string, mode LoadMode) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("loader panic: %v", rec)
		}
	}()
	if err := f.loader.Load(f.ctx, name, mode, nil); err != nil {
		return err
	}
	f.mu.Lock()
	if mode == Single {
		f.loaded = f.loaded[:0]
	}
	f.loaded = appendLoaded(f.loaded, Loaded{Name: name, Mode: mode})
	f.mu.Unlock()
	return nil
}

// HandleStarted, HandleProgress and the terminal handlers surface authority
// notifications as local events.
func (f *Follower) HandleStarted(msg packet.LoadStarted) {
	event.PublishLocal(f.bus, LoadStarted{Scene: msg.Scene})
}

func (f *Follower) HandleProgress(msg packet.LoadProgress) {
	event.PublishLocal(f.bus, LoadProgress{Scene: msg.Scene, Progress: float64(msg.Progress)})
}

func (f *Follower) HandleComplete(msg packet.LoadComplete) {
	event.PublishLocal(f.bus, LoadCompleted{Scene: msg.Scene})
}

func (f *Follower) HandleTimeout(msg packet.LoadTimeout) {
	f.log.Warn("scene load timed out", zap.String("scene", msg.Scene))
	event.PublishLocal(f.bus, LoadTimedOut{Scene: msg.Scene})
}

func (f *Follower) HandleError(msg packet.LoadError) {
	f.log.Error("scene load error", zap.String("scene", msg.Scene), zap.String("reason", msg.Message))
	event.PublishLocal(f.bus, LoadFailed{Scene: msg.Scene, Reason: msg.Message})
}

func (f *Follower) IsLoaded(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.loaded {
		if l.Name == name {
			return true
		}
	}
	return false
}

func (f *Follower) LoadedScenes() []Loaded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Loaded(nil), f.loaded...)
}

// Wait blocks until every load started so far has finished.
func (f *Follower) Wait() { f.wg.Wait() }

// Close aborts pending loads and waits for them to return.
func (f *Follower) Close() {
	f.cancel()
	f.wg.Wait()
}
