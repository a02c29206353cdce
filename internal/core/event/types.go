package event

import (
	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap"
)

// PeerConnected is published locally when a peer joins the session.
type PeerConnected struct {
	ID peer.ID
}

// PeerDisconnected is published locally when a peer leaves the session.
type PeerDisconnected struct {
	ID peer.ID
}

// RosterTypeID is the wire type of Roster.
const RosterTypeID = "session.roster"

// Roster is replicated to every peer whenever the connected set changes.
type Roster struct {
	Peers []string `json:"peers"`
}

// RegisterSessionEvents binds the built-in network event types.
func RegisterSessionEvents(b *Bus) {
	RegisterNetwork(b, RosterTypeID, JSONCodec[Roster]{}, Reliable)
}

// WatchPeers republishes registry changes on the bus: locally as
// PeerConnected / PeerDisconnected and, on the authority, as a Roster
// network event.
func WatchPeers(b *Bus, reg *peer.Registry) {
	roster := func() {
		if !reg.IsAuthority() {
			return
		}
		ids := reg.Connected()
		r := Roster{Peers: make([]string, len(ids))}
		for i, id := range ids {
			r.Peers[i] = id.String()
		}
		if err := PublishNetwork(b, r); err != nil {
			b.log.Warn("roster publish failed", zap.Error(err))
		}
	}
	reg.OnConnected(func(id peer.ID) {
		PublishLocal(b, PeerConnected{ID: id})
		roster()
	})
	reg.OnDisconnected(func(id peer.ID) {
		PublishLocal(b, PeerDisconnected{ID: id})
		roster()
	})
}

// FollowRoster keeps a peer's registry in line with the authority's
// replicated roster.
func FollowRoster(b *Bus, reg *peer.Registry) Subscription {
	return SubscribeNetwork(b, func(r Roster) {
		ids := make([]peer.ID, 0, len(r.Peers))
		for _, s := range r.Peers {
			ids = append(ids, peer.ID(s))
		}
		reg.Sync(ids)
	}, 0)
}
