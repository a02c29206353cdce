package packet

import (
	"fmt"

	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// SessionState represents the connection's current protocol phase.
type SessionState int

const (
	StateHandshake SessionState = iota // connected, awaiting Hello / Welcome
	StateJoined                        // member of the session
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateJoined:
		return "Joined"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Conn is the sending side of an inbound message, as seen by handlers.
// On the authority it is the peer's connection; on a peer it is the uplink
// to the authority.
type Conn interface {
	PeerID() peer.ID
}

// HandlerFunc is the callback signature for message handlers.
type HandlerFunc func(conn Conn, m Message)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps opcodes to handlers with state-based access control.
type Registry struct {
	handlers map[byte]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given session states.
func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[opcode] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch decodes data, validates the session state, and calls the
// handler. Unknown opcodes are ignored; malformed payloads and disallowed
// states return an error.
func (reg *Registry) Dispatch(conn Conn, state SessionState, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	opcode := data[0]
	reg.log.Debug("packet received",
		zap.Uint8("opcode", opcode),
		zap.Int("size", len(data)),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("unknown opcode", zap.Uint8("opcode", opcode), zap.String("state", state.String()))
		return nil
	}

	if !entry.allowedStates[state] {
		reg.log.Warn("opcode not allowed in state",
			zap.Uint8("opcode", opcode),
			zap.String("state", state.String()),
		)
		return fmt.Errorf("opcode %d not allowed in state %s", opcode, state)
	}

	m, err := Decode(data)
	if err != nil {
		return err
	}
	return reg.safeCall(entry.fn, conn, m, opcode)
}

// safeCall executes a handler with panic recovery so a single bad message
// cannot take down the tick loop.
func (reg *Registry) safeCall(fn HandlerFunc, conn Conn, m Message, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(conn, m)
	return nil
}
