package event

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// Reliability is the delivery class requested for a network event.
type Reliability int

const (
	Reliable Reliability = iota
	Unreliable
)

func (r Reliability) String() string {
	if r == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// Codec converts a network event to and from its wire payload.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// JSONCodec encodes events as JSON objects.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

type netType struct {
	id          string
	goType      reflect.Type
	reliability Reliability
	encode      func(any) ([]byte, error)
	decode      func([]byte) (any, error)
	call        func(fn any, v any)
}

// RegisterNetwork binds T to a wire type ID, its codec and its default
// reliability. Registering the same ID twice replaces the earlier binding.
func RegisterNetwork[T any](b *Bus, typeID string, codec Codec[T], reliability Reliability) {
	nt := &netType{
		id:          typeID,
		goType:      typeKey[T](),
		reliability: reliability,
		encode:      func(v any) ([]byte, error) { return codec.Encode(v.(T)) },
		decode: func(data []byte) (any, error) {
			v, err := codec.Decode(data)
			return v, err
		},
		call: func(fn any, v any) { fn.(func(T))(v.(T)) },
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.types[typeID]; ok {
		delete(b.byGoTyp, old.goType)
	}
	b.types[typeID] = nt
	b.byGoTyp[nt.goType] = nt
}

// TypeID returns the wire ID registered for T.
func TypeID[T any](b *Bus) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nt, ok := b.byGoTyp[typeKey[T]()]
	if !ok {
		return "", false
	}
	return nt.id, true
}

// ReliabilityOf returns the registered default for T; unregistered types
// are reliable.
func ReliabilityOf[T any](b *Bus) Reliability {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if nt, ok := b.byGoTyp[typeKey[T]()]; ok {
		return nt.reliability
	}
	return Reliable
}

type publishOptions struct {
	priority int
	target   peer.ID
}

// PublishOption adjusts a PublishNetwork call.
type PublishOption func(*publishOptions)

// WithPriority sets the batch ordering priority; lower is sent first.
func WithPriority(p int) PublishOption {
	return func(o *publishOptions) { o.priority = p }
}

// WithTarget restricts delivery to one peer.
func WithTarget(id peer.ID) PublishOption {
	return func(o *publishOptions) { o.target = id }
}

// PublishNetwork queues ev for replication to peers. Only the authority may
// originate network events.
func PublishNetwork[T any](b *Bus, ev T, opts ...PublishOption) error {
	if !b.lifecycle.IsAuthority() {
		b.log.Warn("network event published by non-authority, ignored",
			zap.String("event", fmt.Sprintf("%T", ev)))
		return fmt.Errorf("publish %T: %w", ev, syncerr.ErrPermission)
	}

	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.RLock()
	nt, ok := b.byGoTyp[typeKey[T]()]
	b.mu.RUnlock()
	if !ok {
		b.log.Warn("network event type not registered", zap.String("event", fmt.Sprintf("%T", ev)))
		return fmt.Errorf("publish %T: %w", ev, syncerr.ErrNotFound)
	}

	payload, err := nt.encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", nt.id, err)
	}
	b.queue.Push(QueuedEvent{
		TypeID:      nt.id,
		Priority:    o.priority,
		Payload:     payload,
		Target:      o.target,
		Reliability: nt.reliability,
	})
	return nil
}

// DispatchNetwork decodes one replicated payload and runs the network
// handlers registered for its type. Unknown type IDs return ErrNotFound.
func (b *Bus) DispatchNetwork(typeID string, payload []byte) error {
	b.mu.RLock()
	nt, ok := b.types[typeID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("event type %q: %w", typeID, syncerr.ErrNotFound)
	}
	v, err := nt.decode(payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", typeID, err)
	}
	for _, h := range b.snapshot(b.network, nt.goType) {
		fn := h.fn
		b.safeCall(v, func() { nt.call(fn, v) })
	}
	return nil
}
