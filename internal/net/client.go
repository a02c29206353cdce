package net

import (
	"context"
	"fmt"
	"net"

	"github.com/reciperage/syncd/internal/core/syncerr"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// Dial connects a peer to the authority and starts the session loops.
func Dial(ctx context.Context, addr string, opts SessionOptions, log *zap.Logger) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sess := NewSession(conn, 0, opts, log)
	sess.Start()
	return sess, nil
}

// Uplink is a peer's Sender: everything goes to the authority over one
// session and is flushed immediately.
type Uplink struct {
	Session   *Session
	Authority func() peer.ID
}

func (u Uplink) SendTo(id peer.ID, m packet.Message) error {
	if u.Session.IsClosed() {
		return fmt.Errorf("send to %s: session closed: %w", id.Short(), syncerr.ErrNotFound)
	}
	if auth := u.Authority(); auth != peer.None && id != auth {
		return fmt.Errorf("send to %s: peers only reach the authority: %w", id.Short(), syncerr.ErrNotFound)
	}
	u.Session.Send(m)
	u.Session.FlushOutput()
	return nil
}

func (u Uplink) Broadcast(m packet.Message) error {
	return fmt.Errorf("broadcast %T: %w", m, syncerr.ErrPermission)
}
