package transport

import (
	"fmt"
	"sync"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

const hubInboxSize = 1024

type frame struct {
	from peer.ID
	data []byte
}

type hubConn peer.ID

func (c hubConn) PeerID() peer.ID { return peer.ID(c) }

// Hub is an in-process transport. Every endpoint owns an inbox drained by
// its own goroutine, so handlers never run on the sender's stack. Messages
// are encoded on send and handed to handlers as bytes, exactly as a socket
// would deliver them.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[peer.ID]*Endpoint
	log       *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		endpoints: make(map[peer.ID]*Endpoint),
		log:       log,
	}
}

// Join attaches an endpoint for id and starts its pump goroutine.
func (h *Hub) Join(id peer.ID, handle Handler) *Endpoint {
	e := &Endpoint{
		id:     id,
		hub:    h,
		inbox:  make(chan frame, hubInboxSize),
		handle: handle,
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints[id] = e
	h.mu.Unlock()
	go e.pump()
	return e
}

func (h *Hub) lookup(id peer.ID) *Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endpoints[id]
}

func (h *Hub) others(self peer.ID) []*Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Endpoint, 0, len(h.endpoints))
	for id, e := range h.endpoints {
		if id != self {
			out = append(out, e)
		}
	}
	return out
}

// Endpoint is one participant's attachment to the hub. It implements Sender.
type Endpoint struct {
	id     peer.ID
	hub    *Hub
	inbox  chan frame
	handle Handler

	done      chan struct{}
	closeOnce sync.Once
}

func (e *Endpoint) PeerID() peer.ID { return e.id }

func (e *Endpoint) SendTo(id peer.ID, m packet.Message) error {
	target := e.hub.lookup(id)
	if target == nil {
		return fmt.Errorf("send to %s: %w", id.Short(), syncerr.ErrNotFound)
	}
	return target.deliver(frame{from: e.id, data: packet.Encode(m)})
}

func (e *Endpoint) Broadcast(m packet.Message) error {
	data := packet.Encode(m)
	var firstErr error
	for _, target := range e.hub.others(e.id) {
		if err := target.deliver(frame{from: e.id, data: data}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Endpoint) deliver(f frame) error {
	select {
	case <-e.done:
		return fmt.Errorf("deliver to %s: endpoint closed", e.id.Short())
	default:
	}
	select {
	case e.inbox <- f:
		return nil
	default:
		e.hub.log.Warn("hub inbox full, dropping message", zap.String("peer", e.id.Short()))
		return fmt.Errorf("deliver to %s: inbox full", e.id.Short())
	}
}

func (e *Endpoint) pump() {
	for {
		select {
		case f := <-e.inbox:
			e.handle(hubConn(f.from), f.data)
		case <-e.done:
			return
		}
	}
}

// Close detaches the endpoint. Pending messages are discarded.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.hub.mu.Lock()
		if e.hub.endpoints[e.id] == e {
			delete(e.hub.endpoints, e.id)
		}
		e.hub.mu.Unlock()
		close(e.done)
	})
}
