// Package transport defines the message-delivery primitive the
// synchronization components send through, plus an in-process hub used by
// tests and single-process sessions.
package transport

import (
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
)

// Sender delivers messages to one peer or to every connected peer other
// than the sender. Delivery is at-most-once; retransmission is the
// underlying connection's concern.
type Sender interface {
	SendTo(id peer.ID, m packet.Message) error
	Broadcast(m packet.Message) error
}

// Handler receives one encoded message from a connection.
type Handler func(from packet.Conn, data []byte)

// Discard is a Sender that drops everything. Useful for a host running
// without remote peers.
type Discard struct{}

func (Discard) SendTo(peer.ID, packet.Message) error { return nil }
func (Discard) Broadcast(packet.Message) error       { return nil }
