package system

import (
	"time"

	coresys "github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"go.uber.org/zap"
)

// UplinkSystem is a peer's input phase: it drains frames from the
// authority connection through the peer-side registry. Phase 0 (Input).
type UplinkSystem struct {
	sess       *net.Session
	registry   *packet.Registry
	maxPerTick int
	log        *zap.Logger
}

func NewUplinkSystem(sess *net.Session, registry *packet.Registry, maxPerTick int, log *zap.Logger) *UplinkSystem {
	return &UplinkSystem{sess: sess, registry: registry, maxPerTick: maxPerTick, log: log}
}

func (s *UplinkSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *UplinkSystem) Update(_ time.Duration) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-s.sess.InQueue:
			if err := s.registry.Dispatch(s.sess, s.sess.State(), data); err != nil {
				s.log.Debug("dispatch error", zap.Error(err))
			}
		default:
			return
		}
	}
}
