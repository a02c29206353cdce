package system

import (
	"time"

	coresys "github.com/reciperage/syncd/internal/core/system"
	"github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// InputSystem accepts new sessions, drains inbound frames through the
// packet registry, and turns closed sessions into peer disconnects.
// Phase 0 (Input).
type InputSystem struct {
	newSessions      <-chan *net.Session
	registry         *packet.Registry
	store            *net.SessionStore
	peers            *peer.Registry
	maxPerTick       int
	handshakeTimeout time.Duration
	log              *zap.Logger
}

func NewInputSystem(
	newSessions <-chan *net.Session,
	registry *packet.Registry,
	store *net.SessionStore,
	peers *peer.Registry,
	maxPerTick int,
	handshakeTimeout time.Duration,
	log *zap.Logger,
) *InputSystem {
	return &InputSystem{
		newSessions:      newSessions,
		registry:         registry,
		store:            store,
		peers:            peers,
		maxPerTick:       maxPerTick,
		handshakeTimeout: handshakeTimeout,
		log:              log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.newSessions:
			s.store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	now := time.Now()
	for _, sess := range s.store.All() {
		if sess.IsClosed() {
			// Acks sent just before a disconnect still count, so drain with
			// the last live state rather than Disconnecting.
			last := packet.StateHandshake
			if sess.PeerID() != peer.None {
				last = packet.StateJoined
			}
			s.drain(sess, last)
			s.handleDisconnect(sess)
			continue
		}
		if s.handshakeTimeout > 0 && sess.State() != packet.StateJoined && now.Sub(sess.ConnectedAt) > s.handshakeTimeout {
			s.log.Info("handshake timed out", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
			sess.Close()
			continue
		}
		s.drain(sess, sess.State())
	}

	// Early flush so replies produced here are on the wire while the rest
	// of the tick runs.
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

func (s *InputSystem) drain(sess *net.Session, state packet.SessionState) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			if err := s.registry.Dispatch(sess, state, data); err != nil {
				s.log.Debug("dispatch error",
					zap.Uint64("session", sess.ID),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}

// handleDisconnect forgets the session and, if it had joined, removes the
// peer, which prunes it from pending scene barriers.
func (s *InputSystem) handleDisconnect(sess *net.Session) {
	id := s.store.Remove(sess)
	if id == peer.None {
		return
	}
	if s.peers.Disconnect(id) {
		s.log.Info("peer left",
			zap.String("peer", id.Short()),
			zap.String("name", sess.Name),
			zap.Int("peers", s.peers.Count()),
		)
	}
}
