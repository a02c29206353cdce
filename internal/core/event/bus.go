package event

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// Bus is a prioritized publish/subscribe dispatcher with two registries:
// local events never leave the process, network events are registered with
// a codec, queued by the authority and replicated in batches.
//
// Handlers are kept in ascending priority order (lower value runs first);
// equal priorities run in registration order.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	local   map[reflect.Type][]handler
	network map[reflect.Type][]handler

	types   map[string]*netType
	byGoTyp map[reflect.Type]*netType

	lifecycle peer.Lifecycle
	queue     *Queue
	log       *zap.Logger
}

type handler struct {
	id       uint64
	priority int
	fn       any // func(T)
}

// Subscription identifies one registered handler for Unsubscribe.
type Subscription struct {
	id      uint64
	key     reflect.Type
	network bool
}

func NewBus(lifecycle peer.Lifecycle, log *zap.Logger) *Bus {
	return &Bus{
		local:     make(map[reflect.Type][]handler),
		network:   make(map[reflect.Type][]handler),
		types:     make(map[string]*netType),
		byGoTyp:   make(map[reflect.Type]*netType),
		lifecycle: lifecycle,
		queue:     NewQueue(),
		log:       log,
	}
}

// Queue returns the pending network event queue drained by the flusher.
func (b *Bus) Queue() *Queue { return b.queue }

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (b *Bus) subscribe(reg map[reflect.Type][]handler, key reflect.Type, fn any, priority int, network bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	h := handler{id: b.nextID, priority: priority, fn: fn}
	list := append(reg[key], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority < list[j].priority })
	reg[key] = list
	return Subscription{id: h.id, key: key, network: network}
}

// SubscribeLocal registers fn for local events of type T.
func SubscribeLocal[T any](b *Bus, fn func(T), priority int) Subscription {
	return b.subscribe(b.local, typeKey[T](), fn, priority, false)
}

// SubscribeNetwork registers fn for replicated events of type T. T should
// be registered with RegisterNetwork before batches carrying it arrive.
func SubscribeNetwork[T any](b *Bus, fn func(T), priority int) Subscription {
	return b.subscribe(b.network, typeKey[T](), fn, priority, true)
}

// Unsubscribe removes a handler. Returns false if it was not registered.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg := b.local
	if sub.network {
		reg = b.network
	}
	list := reg[sub.key]
	for i, h := range list {
		if h.id == sub.id {
			reg[sub.key] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) snapshot(reg map[reflect.Type][]handler, key reflect.Type) []handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]handler(nil), reg[key]...)
}

// PublishLocal synchronously invokes every local handler for T in priority
// order. A panicking handler is logged and does not stop the others.
func PublishLocal[T any](b *Bus, ev T) {
	for _, h := range b.snapshot(b.local, typeKey[T]()) {
		fn := h.fn.(func(T))
		b.safeCall(ev, func() { fn(ev) })
	}
}

// safeCall runs one handler with panic recovery.
func (b *Bus) safeCall(ev any, call func()) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("event handler panic recovered",
				zap.String("event", fmt.Sprintf("%T", ev)),
				zap.Any("panic", rec),
			)
		}
	}()
	call()
}

// PublishLocalAsync runs every local handler for T concurrently and waits
// for all of them. Handler panics are recovered and joined into the
// returned error; one failing handler never prevents the others running.
func PublishLocalAsync[T any](ctx context.Context, b *Bus, ev T) error {
	handlers := b.snapshot(b.local, typeKey[T]())
	if len(handlers) == 0 {
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, fn func(T)) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("handler %d: panic: %v", i, rec)
				}
			}()
			fn(ev)
		}(i, h.fn.(func(T)))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return ctx.Err()
	}
}
