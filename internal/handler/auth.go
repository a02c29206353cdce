package handler

import (
	"github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// HandleHello admits a connection into the session. The peer gets its
// Welcome first; registry listeners then queue the late-join state behind
// it on the same session.
func HandleHello(sess *net.Session, m packet.Hello, deps *Deps) {
	if hash := deps.Config.Session.JoinKeyHash; hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(m.JoinKey)); err != nil {
			reject(sess, "invalid join key", deps)
			return
		}
	}
	if max := deps.Config.Session.MaxPeers; max > 0 && deps.Peers.Count() >= max {
		reject(sess, "session full", deps)
		return
	}

	id := peer.NewID()
	sess.Name = m.Name
	deps.Sessions.Bind(sess, id)
	sess.Send(packet.Welcome{PeerID: string(id), AuthorityID: string(deps.Peers.LocalID())})
	deps.Peers.Connect(id)

	deps.Log.Info("peer joined",
		zap.String("peer", id.Short()),
		zap.String("name", m.Name),
		zap.String("ip", sess.IP),
		zap.Int("peers", deps.Peers.Count()),
	)
}

func reject(sess *net.Session, reason string, deps *Deps) {
	deps.Log.Warn("join rejected",
		zap.Uint64("session", sess.ID),
		zap.String("ip", sess.IP),
		zap.String("reason", reason),
	)
	sess.Send(packet.JoinRejected{Reason: reason})
	sess.FlushOutput()
	sess.SetState(packet.StateDisconnecting)
}

// HandleWelcome records the IDs the authority assigned.
func HandleWelcome(m packet.Welcome, deps *PeerDeps) {
	local, err := peer.Parse(m.PeerID)
	if err != nil {
		deps.Log.Error("bad peer id in welcome", zap.Error(err))
		return
	}
	authority, err := peer.Parse(m.AuthorityID)
	if err != nil {
		deps.Log.Error("bad authority id in welcome", zap.Error(err))
		return
	}
	deps.Peers.Assign(local, authority)
	deps.Peers.Connect(local)
	deps.Peers.Connect(authority)
	deps.Uplink.SetPeerID(local)
	deps.Uplink.SetState(packet.StateJoined)
	deps.Log.Info("joined session", zap.String("peer", local.Short()), zap.String("authority", authority.Short()))
	if deps.Welcomed != nil {
		deps.Welcomed(local, authority)
	}
}

func HandleJoinRejected(m packet.JoinRejected, deps *PeerDeps) {
	deps.Log.Error("join rejected by authority", zap.String("reason", m.Reason))
	deps.Uplink.Close()
}
