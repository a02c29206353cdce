package handler

import (
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// HandleSceneLoadAck counts a peer's barrier vote. The connection's own
// identity is authoritative; the ID carried in the message is only checked.
func HandleSceneLoadAck(conn packet.Conn, m packet.SceneLoadAcknowledged, deps *Deps) {
	from := conn.PeerID()
	if m.PeerID != "" && peer.ID(m.PeerID) != from {
		deps.Log.Warn("scene ack carries another peer's id",
			zap.String("conn", from.Short()),
			zap.String("claimed", peer.ID(m.PeerID).Short()),
		)
	}
	deps.Scenes.Acknowledge(from, m.Scene)
}

// HandleRequestSceneLoad runs a peer's load request through the
// coordinator's validation gate. Only the authority may load scenes, so a
// remote request is answered with a LoadError.
func HandleRequestSceneLoad(conn packet.Conn, m packet.RequestSceneLoad, deps *Deps) {
	if err := deps.Scenes.RequestLoadByName(deps.Ctx, conn.PeerID(), m.Scene); err != nil {
		deps.Log.Info("scene load request refused",
			zap.String("peer", conn.PeerID().Short()),
			zap.String("scene", m.Scene),
			zap.Error(err),
		)
	}
}
