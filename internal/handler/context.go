package handler

import (
	"context"

	"github.com/reciperage/syncd/internal/config"
	"github.com/reciperage/syncd/internal/eventsync"
	"github.com/reciperage/syncd/internal/net"
	"github.com/reciperage/syncd/internal/net/packet"
	"github.com/reciperage/syncd/internal/peer"
	"github.com/reciperage/syncd/internal/phase"
	"github.com/reciperage/syncd/internal/scene"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into the authority's handlers.
type Deps struct {
	Ctx      context.Context // scene loads started by handlers run under it
	Config   *config.Config
	Log      *zap.Logger
	Peers    *peer.Registry
	Sessions *net.SessionStore
	Phase    *phase.Machine
	Scenes   *scene.Coordinator
}

// RegisterAll registers the authority's message handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	// Handshake phase
	reg.Register(packet.C_OPCODE_HELLO,
		[]packet.SessionState{packet.StateHandshake},
		func(conn packet.Conn, m packet.Message) {
			HandleHello(conn.(*net.Session), m.(packet.Hello), deps)
		},
	)

	joined := []packet.SessionState{packet.StateJoined}

	reg.Register(packet.C_OPCODE_SCENE_LOAD_ACK, joined,
		func(conn packet.Conn, m packet.Message) {
			HandleSceneLoadAck(conn, m.(packet.SceneLoadAcknowledged), deps)
		},
	)
	reg.Register(packet.C_OPCODE_REQUEST_SCENE_LOAD, joined,
		func(conn packet.Conn, m packet.Message) {
			HandleRequestSceneLoad(conn, m.(packet.RequestSceneLoad), deps)
		},
	)
	reg.Register(packet.C_OPCODE_REQUEST_START_GAME, joined,
		func(conn packet.Conn, m packet.Message) {
			HandleRequestStartGame(conn, deps)
		},
	)
}

// PeerDeps holds the dependencies of a non-authority peer's handlers.
type PeerDeps struct {
	Log      *zap.Logger
	Peers    *peer.Registry
	Uplink   *net.Session
	Follower *scene.Follower
	Mirror   *phase.Mirror
	Events   *eventsync.Receiver
	// Welcomed is called once the authority has admitted this peer.
	Welcomed func(local, authority peer.ID)
}

// RegisterPeer registers the handlers a peer runs for authority messages.
func RegisterPeer(reg *packet.Registry, deps *PeerDeps) {
	handshake := []packet.SessionState{packet.StateHandshake}
	joined := []packet.SessionState{packet.StateJoined}

	reg.Register(packet.S_OPCODE_WELCOME, handshake,
		func(_ packet.Conn, m packet.Message) { HandleWelcome(m.(packet.Welcome), deps) })
	reg.Register(packet.S_OPCODE_JOIN_REJECTED, handshake,
		func(_ packet.Conn, m packet.Message) { HandleJoinRejected(m.(packet.JoinRejected), deps) })

	reg.Register(packet.S_OPCODE_PREPARE_SCENE_LOAD, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandlePrepare(m.(packet.PrepareSceneLoad)) })
	reg.Register(packet.S_OPCODE_SCENE_STATE_SYNC, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandleStateSync(m.(packet.SceneStateSync)) })
	reg.Register(packet.S_OPCODE_LOAD_STARTED, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandleStarted(m.(packet.LoadStarted)) })
	reg.Register(packet.S_OPCODE_LOAD_PROGRESS, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandleProgress(m.(packet.LoadProgress)) })
	reg.Register(packet.S_OPCODE_LOAD_COMPLETE, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandleComplete(m.(packet.LoadComplete)) })
	reg.Register(packet.S_OPCODE_LOAD_TIMEOUT, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandleTimeout(m.(packet.LoadTimeout)) })
	reg.Register(packet.S_OPCODE_LOAD_ERROR, joined,
		func(_ packet.Conn, m packet.Message) { deps.Follower.HandleError(m.(packet.LoadError)) })

	reg.Register(packet.S_OPCODE_PHASE_CHANGED, joined,
		func(_ packet.Conn, m packet.Message) { deps.Mirror.Apply(m.(packet.PhaseChanged)) })
	reg.Register(packet.S_OPCODE_COUNTDOWN_NOTICE, joined,
		func(_ packet.Conn, m packet.Message) { deps.Mirror.ApplyCountdown(m.(packet.CountdownNotice)) })
	reg.Register(packet.S_OPCODE_EVENT_BATCH, joined,
		func(_ packet.Conn, m packet.Message) { deps.Events.HandleBatch(m.(packet.EventBatch)) })
}
