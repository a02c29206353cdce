package scene

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/transport"
	"go.uber.org/zap"
)

// DefaultTimeout applies to sync payloads that do not set one.
const DefaultTimeout = 30 * time.Second

// progressStep throttles LoadProgress broadcasts for non-sync loads.
const progressStep = 0.05

// Options configures a Coordinator.
type Options struct {
	DefaultTimeout time.Duration
	Recorder       Recorder
	Clock          func() time.Time
}

type request struct {
	payload   Payload
	startedAt time.Time
	state     RequestState
	acked     map[peer.ID]struct{}
	done      chan struct{} // closed once every connected peer acknowledged
	resolved  bool
}

// Loaded is one scene currently loaded on the authority.
type Loaded struct {
	Name string
	Mode LoadMode
}

// Coordinator drives authority-side scene loads. RequestLoad blocks the
// caller; acknowledgements and connection changes arrive from the tick
// loop. All shared state is guarded by mu and never held across a send or
// a local event publish.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]*request
	loaded   []Loaded

	lifecycle peer.Lifecycle
	sender    transport.Sender
	bus       *event.Bus
	catalog   Catalog
	loader    Loader
	opts      Options
	log       *zap.Logger
}

func NewCoordinator(lifecycle peer.Lifecycle, sender transport.Sender, bus *event.Bus, catalog Catalog, loader Loader, opts Options, log *zap.Logger) *Coordinator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		inflight:  make(map[string]*request),
		lifecycle: lifecycle,
		sender:    sender,
		bus:       bus,
		catalog:   catalog,
		loader:    loader,
		opts:      opts,
		log:       log.With(zap.String("component", "scene")),
	}
}

// RequestLoad loads p on the authority and, for sync payloads, on every
// connected peer. It returns nil once the scene is loaded everywhere
// required, or an error wrapping ErrPermission, ErrConflict, ErrNotFound,
// ErrTimeout or ErrLoad. Failures are also broadcast to peers. There is no
// automatic retry.
func (c *Coordinator) RequestLoad(ctx context.Context, p Payload) error {
	if !c.lifecycle.IsAuthority() {
		c.log.Error("scene load requested on non-authority", zap.String("scene", p.Name))
		return fmt.Errorf("load scene %q: %w", p.Name, syncerr.ErrPermission)
	}
	if p.Name == "" {
		return fmt.Errorf("load scene: empty name: %w", syncerr.ErrInvalidArgument)
	}
	return c.load(ctx, p)
}

// RequestLoadByName is the validation gate for loads asked for by a
// connection: the requester must be the authority itself, the scene must
// be known and no other transition may be in flight. A rejected remote
// requester is told why with a LoadError.
func (c *Coordinator) RequestLoadByName(ctx context.Context, requester peer.ID, name string) error {
	if !c.lifecycle.IsAuthority() {
		c.log.Error("scene load requested on non-authority", zap.String("scene", name))
		return fmt.Errorf("load scene %q: %w", name, syncerr.ErrPermission)
	}
	if requester != c.lifecycle.LocalID() {
		c.reject(requester, name, "Unauthorized scene load attempt")
		return fmt.Errorf("load scene %q from %s: %w", name, requester.Short(), syncerr.ErrPermission)
	}
	p, ok := c.catalog.Resolve(name)
	if !ok {
		c.reject(requester, name, "Unknown scene")
		return fmt.Errorf("load scene %q: %w", name, syncerr.ErrNotFound)
	}
	if c.Transitioning() {
		c.reject(requester, name, "Invalid game state for scene load")
		return fmt.Errorf("load scene %q: transition in flight: %w", name, syncerr.ErrConflict)
	}
	return c.RequestLoad(ctx, p)
}

func (c *Coordinator) reject(requester peer.ID, name, reason string) {
	c.log.Warn("scene load rejected",
		zap.String("scene", name),
		zap.String("requester", requester.Short()),
		zap.String("reason", reason),
	)
	if requester == c.lifecycle.LocalID() {
		return
	}
	if err := c.sender.SendTo(requester, packet.LoadError{Scene: name, Message: reason}); err != nil {
		c.log.Debug("reject notify failed", zap.Error(err))
	}
}

func (c *Coordinator) load(ctx context.Context, p Payload) error {
	if p.RequiresSync && p.Timeout <= 0 {
		p.Timeout = c.opts.DefaultTimeout
	}

	req := &request{
		payload:   p,
		startedAt: c.opts.Clock(),
		state:     Requested,
		acked:     make(map[peer.ID]struct{}),
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	if _, busy := c.inflight[p.Name]; busy {
		c.mu.Unlock()
		c.log.Warn("scene load already in flight", zap.String("scene", p.Name))
		return fmt.Errorf("load scene %q: already in flight: %w", p.Name, syncerr.ErrConflict)
	}
	c.inflight[p.Name] = req
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, p.Name)
		c.mu.Unlock()
	}()

	for _, dep := range p.Dependencies {
		if c.IsLoaded(dep) {
			continue
		}
		dp, ok := c.catalog.Resolve(dep)
		if !ok {
			return c.fail(req, fmt.Errorf("dependency %q: %w", dep, syncerr.ErrNotFound))
		}
		dp.Mode = Additive
		if err := c.load(ctx, dp); err != nil {
			return c.fail(req, fmt.Errorf("dependency %q: %w", dep, err))
		}
	}

	c.broadcast(packet.LoadStarted{Scene: p.Name})
	event.PublishLocal(c.bus, LoadStarted{Scene: p.Name})
	c.log.Info("scene load started",
		zap.String("scene", p.Name),
		zap.Stringer("mode", p.Mode),
		zap.Bool("sync", p.RequiresSync),
	)

	if !p.RequiresSync {
		c.setState(req, Loading)
		if err := c.runLoader(ctx, p, c.progressReporter(p.Name)); err != nil {
			return c.fail(req, err)
		}
		return c.complete(req)
	}
	return c.awaitBarrier(ctx, req)
}

// awaitBarrier tells every peer to load, loads locally, and waits for the
// first of: all acknowledgements, local failure, timeout, ctx cancel.
func (c *Coordinator) awaitBarrier(ctx context.Context, req *request) error {
	p := req.payload
	c.setState(req, AwaitingAcks)
	c.broadcast(packet.PrepareSceneLoad{
		Scene:         p.Name,
		Mode:          byte(p.Mode),
		TimeoutMillis: int32(p.Timeout.Milliseconds()),
	})

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	localErr := make(chan error, 1)
	go func() {
		if err := c.runLoader(loadCtx, p, nil); err != nil {
			localErr <- err
			return
		}
		c.Acknowledge(c.lifecycle.LocalID(), p.Name)
	}()

	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()

	select {
	case <-req.done:
		return c.complete(req)
	case err := <-localErr:
		return c.fail(req, err)
	case <-timer.C:
		return c.timeout(req)
	case <-ctx.Done():
		return c.fail(req, ctx.Err())
	}
}

func (c *Coordinator) runLoader(ctx context.Context, p Payload, progress func(float64)) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("loader panic: %v", rec)
		}
	}()
	return c.loader.Load(ctx, p.Name, p.Mode, progress)
}

func (c *Coordinator) progressReporter(name string) func(float64) {
	last := -1.0
	return func(v float64) {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		if v-last < progressStep && v < 1 {
			return
		}
		last = v
		c.broadcast(packet.LoadProgress{Scene: name, Progress: float32(v)})
		event.PublishLocal(c.bus, LoadProgress{Scene: name, Progress: v})
	}
}

// Acknowledge records a peer's barrier vote for scene. Votes from peers
// that are not connected, or for scenes not awaiting acks, are ignored.
func (c *Coordinator) Acknowledge(from peer.ID, scene string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.inflight[scene]
	if !ok || req.state != AwaitingAcks {
		c.log.Debug("stray scene ack", zap.String("scene", scene), zap.String("peer", from.Short()))
		return
	}
	if !c.lifecycle.Contains(from) {
		c.log.Debug("ack from unknown peer", zap.String("scene", scene), zap.String("peer", from.Short()))
		return
	}
	req.acked[from] = struct{}{}
	c.log.Debug("scene ack",
		zap.String("scene", scene),
		zap.String("peer", from.Short()),
		zap.Int("acked", len(req.acked)),
	)
	c.checkBarrierLocked(req)
}

// checkBarrierLocked resolves req when every connected peer has acked.
func (c *Coordinator) checkBarrierLocked(req *request) {
	if req.resolved {
		return
	}
	for _, id := range c.lifecycle.Connected() {
		if _, ok := req.acked[id]; !ok {
			return
		}
	}
	req.resolved = true
	close(req.done)
}

// PeerConnected brings a late joiner up to date: it receives the loaded
// scene set, every entry marked Additive so nothing it already holds is
// unloaded, and a PrepareSceneLoad for every sync load still awaiting acks,
// which it now has to acknowledge like everyone else.
func (c *Coordinator) PeerConnected(id peer.ID) {
	if !c.lifecycle.IsAuthority() || id == c.lifecycle.LocalID() {
		return
	}

	c.mu.Lock()
	states := make([]packet.SceneState, 0, len(c.loaded))
	for _, l := range c.loaded {
		states = append(states, packet.SceneState{Scene: l.Name, Mode: byte(Additive), Active: true})
	}
	var pending []packet.PrepareSceneLoad
	for _, req := range c.inflight {
		if req.state == AwaitingAcks && !req.resolved {
			pending = append(pending, packet.PrepareSceneLoad{
				Scene:         req.payload.Name,
				Mode:          byte(req.payload.Mode),
				TimeoutMillis: int32(req.payload.Timeout.Milliseconds()),
			})
		}
	}
	c.mu.Unlock()

	if len(states) > 0 {
		if err := c.sender.SendTo(id, packet.SceneStateSync{Scenes: states}); err != nil {
			c.log.Warn("scene state sync failed", zap.String("peer", id.Short()), zap.Error(err))
		}
	}
	for _, msg := range pending {
		if err := c.sender.SendTo(id, msg); err != nil {
			c.log.Warn("late prepare failed", zap.String("peer", id.Short()), zap.Error(err))
		}
	}
	c.log.Info("late joiner synced",
		zap.String("peer", id.Short()),
		zap.Int("scenes", len(states)),
		zap.Int("pending", len(pending)),
	)
}

// PeerDisconnected prunes id from every barrier. If the remaining peers
// have all acknowledged, the barrier resolves now instead of timing out.
func (c *Coordinator) PeerDisconnected(id peer.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, req := range c.inflight {
		delete(req.acked, id)
		if req.state == AwaitingAcks {
			c.checkBarrierLocked(req)
		}
	}
}

func (c *Coordinator) setState(req *request, s RequestState) {
	c.mu.Lock()
	req.state = s
	c.mu.Unlock()
}

func (c *Coordinator) complete(req *request) error {
	p := req.payload
	c.mu.Lock()
	req.state = Complete
	acked := len(req.acked)
	if p.Mode == Single {
		c.loaded = keepDependencies(c.loaded, p.Dependencies)
	}
	c.loaded = appendLoaded(c.loaded, Loaded{Name: p.Name, Mode: p.Mode})
	c.mu.Unlock()

	c.broadcast(packet.LoadComplete{Scene: p.Name})
	event.PublishLocal(c.bus, LoadCompleted{Scene: p.Name})
	c.record(req, nil, acked)
	c.log.Info("scene load complete",
		zap.String("scene", p.Name),
		zap.Duration("elapsed", c.opts.Clock().Sub(req.startedAt)),
	)
	return nil
}

func (c *Coordinator) timeout(req *request) error {
	p := req.payload
	c.mu.Lock()
	req.state = TimedOut
	acked := len(req.acked)
	c.mu.Unlock()

	c.broadcast(packet.LoadTimeout{Scene: p.Name})
	event.PublishLocal(c.bus, LoadTimedOut{Scene: p.Name})
	err := fmt.Errorf("load scene %q: %d/%d peers acknowledged after %s: %w",
		p.Name, acked, len(c.lifecycle.Connected()), p.Timeout, syncerr.ErrTimeout)
	c.record(req, err, acked)
	c.log.Warn("scene load timeout", zap.String("scene", p.Name), zap.Int("acked", acked))
	return err
}

// fail broadcasts a LoadError and returns cause wrapped with ErrLoad,
// unless cause already carries a kind of its own.
func (c *Coordinator) fail(req *request, cause error) error {
	p := req.payload
	c.mu.Lock()
	req.state = Failed
	acked := len(req.acked)
	c.mu.Unlock()

	c.broadcast(packet.LoadError{Scene: p.Name, Message: cause.Error()})
	event.PublishLocal(c.bus, LoadFailed{Scene: p.Name, Reason: cause.Error()})

	var err error
	if syncerr.KindOf(cause) == syncerr.KindUnknown {
		err = fmt.Errorf("load scene %q: %w: %w", p.Name, syncerr.ErrLoad, cause)
	} else {
		err = fmt.Errorf("load scene %q: %w", p.Name, cause)
	}
	c.record(req, err, acked)
	c.log.Error("scene load failed", zap.String("scene", p.Name), zap.Error(cause))
	return err
}

func (c *Coordinator) record(req *request, err error, acked int) {
	if c.opts.Recorder == nil {
		return
	}
	o := Outcome{
		Scene:     req.payload.Name,
		Mode:      req.payload.Mode,
		Sync:      req.payload.RequiresSync,
		Result:    string(syncerr.KindOf(err)),
		Acked:     acked,
		Required:  len(c.lifecycle.Connected()),
		StartedAt: req.startedAt,
		Elapsed:   c.opts.Clock().Sub(req.startedAt),
	}
	if err != nil {
		o.Error = err.Error()
	}
	c.opts.Recorder.RecordSceneLoad(o)
}

func (c *Coordinator) broadcast(msg packet.Message) {
	if err := c.sender.Broadcast(msg); err != nil {
		c.log.Warn("scene broadcast failed", zap.Uint8("opcode", msg.Opcode()), zap.Error(err))
	}
}

// IsLoaded reports whether name is currently loaded on the authority.
func (c *Coordinator) IsLoaded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.loaded {
		if l.Name == name {
			return true
		}
	}
	return false
}

// LoadedScenes returns the loaded scenes in load order.
func (c *Coordinator) LoadedScenes() []Loaded {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Loaded(nil), c.loaded...)
}

// Transitioning reports whether any load is in flight.
func (c *Coordinator) Transitioning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight) > 0
}

// InFlight describes one pending request for status reporting.
type InFlight struct {
	Scene    string
	State    RequestState
	Acked    int
	Started  time.Time
	Deadline time.Time
}

// Pending lists in-flight requests.
func (c *Coordinator) Pending() []InFlight {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InFlight, 0, len(c.inflight))
	for _, req := range c.inflight {
		info := InFlight{
			Scene:   req.payload.Name,
			State:   req.state,
			Acked:   len(req.acked),
			Started: req.startedAt,
		}
		if req.payload.RequiresSync {
			info.Deadline = req.startedAt.Add(req.payload.Timeout)
		}
		out = append(out, info)
	}
	return out
}

// keepDependencies drops every loaded scene a Single load replaces, which
// is all of them except the ones it was just loaded on top of.
func keepDependencies(list []Loaded, deps []string) []Loaded {
	out := list[:0]
	for _, l := range list {
		for _, d := range deps {
			if l.Name == d {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

func appendLoaded(list []Loaded, l Loaded) []Loaded {
	for i := range list {
		if list[i].Name == l.Name {
			list[i] = l
			return list
		}
	}
	return append(list, l)
}
