package eventsync

import (
	"github.com/reciperage/syncd/internal/core/event"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// Receiver unpacks EventBatch messages into network handler calls on the
// local bus.
type Receiver struct {
	bus       *event.Bus
	lifecycle peer.Lifecycle
	log       *zap.Logger
}

func NewReceiver(bus *event.Bus, lifecycle peer.Lifecycle, log *zap.Logger) *Receiver {
	return &Receiver{bus: bus, lifecycle: lifecycle, log: log}
}

// HandleBatch dispatches entries in batch order. Entries targeted at
// another peer are skipped, as are entries whose type is not registered
// or whose payload does not decode.
func (r *Receiver) HandleBatch(batch packet.EventBatch) int {
	local := r.lifecycle.LocalID()
	dispatched := 0
	for _, e := range batch.Entries {
		if e.Target != "" && peer.ID(e.Target) != local {
			continue
		}
		if err := r.bus.DispatchNetwork(e.TypeID, e.Payload); err != nil {
			r.log.Warn("network event dropped", zap.String("type", e.TypeID), zap.Error(err))
			continue
		}
		dispatched++
	}
	return dispatched
}
