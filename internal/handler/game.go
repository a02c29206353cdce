package handler

import (
	"github.com/reciperage/syncd/internal/net/packet"
	"go.uber.org/zap"
)

// HandleRequestStartGame forwards a start request to the phase machine,
// which only honors the host.
func HandleRequestStartGame(conn packet.Conn, deps *Deps) {
	if err := deps.Phase.RequestStartGame(conn.PeerID()); err != nil {
		deps.Log.Info("start game refused", zap.String("peer", conn.PeerID().Short()), zap.Error(err))
	}
}
