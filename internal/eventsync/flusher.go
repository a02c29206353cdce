// Package eventsync replicates queued network events from the authority to
// its peers in prioritized batches.
package eventsync

import (
	"time"

	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/transport"
	"go.uber.org/zap"
)

const (
	DefaultMaxBatchSize  = 10
	DefaultFlushInterval = 100 * time.Millisecond
)

// Flusher drains the bus queue into EventBatch broadcasts. It runs in the
// PostUpdate phase so events published during Update leave the same tick.
type Flusher struct {
	bus       *event.Bus
	lifecycle peer.Lifecycle
	sender    transport.Sender
	local     *Receiver // authority-side delivery, may be nil
	maxBatch  int
	interval  system.Interval
	log       *zap.Logger
}

func NewFlusher(bus *event.Bus, lifecycle peer.Lifecycle, sender transport.Sender, maxBatch int, every time.Duration, log *zap.Logger) *Flusher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	if every <= 0 {
		every = DefaultFlushInterval
	}
	return &Flusher{
		bus:       bus,
		lifecycle: lifecycle,
		sender:    sender,
		maxBatch:  maxBatch,
		interval:  system.Interval{Every: every},
		log:       log,
	}
}

// LoopBack makes every flushed batch also run through r on the authority,
// so the host's own network handlers see the same events as its peers.
func (f *Flusher) LoopBack(r *Receiver) { f.local = r }

func (f *Flusher) Phase() system.Phase { return system.PhasePostUpdate }

func (f *Flusher) Update(dt time.Duration) {
	if f.interval.Due(dt) {
		f.Flush()
	}
}

// Flush sends at most one batch and returns how many events it carried.
// Events beyond the batch size wait for the next flush.
func (f *Flusher) Flush() int {
	if !f.lifecycle.IsAuthority() {
		return 0
	}
	events := f.bus.Queue().Drain(f.maxBatch)
	if len(events) == 0 {
		return 0
	}

	batch := packet.EventBatch{Entries: make([]packet.BatchEntry, len(events))}
	for i, ev := range events {
		batch.Entries[i] = packet.BatchEntry{
			TypeID:   ev.TypeID,
			Priority: int32(ev.Priority),
			Payload:  ev.Payload,
			Target:   string(ev.Target),
			Reliable: ev.Reliability == event.Reliable,
		}
	}
	if err := f.sender.Broadcast(batch); err != nil {
		f.log.Warn("event batch broadcast failed", zap.Int("events", len(events)), zap.Error(err))
	}
	if f.local != nil {
		f.local.HandleBatch(batch)
	}
	f.log.Debug("event batch flushed",
		zap.Int("events", len(events)),
		zap.Int("pending", f.bus.Queue().Len()),
	)
	return len(events)
}
