package packet

import (
	"testing"

	"github.com/reciperage/syncd/internal/peer"
	"go.uber.org/zap/zaptest"
)

type testConn struct{ id peer.ID }

func (c testConn) PeerID() peer.ID { return c.id }

func TestDispatchRespectsState(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	var got []string
	reg.Register(C_OPCODE_SCENE_LOAD_ACK, []SessionState{StateJoined}, func(conn Conn, m Message) {
		got = append(got, m.(SceneLoadAcknowledged).Scene)
	})

	data := Encode(SceneLoadAcknowledged{PeerID: "p", Scene: "Arena"})
	if err := reg.Dispatch(testConn{"p"}, StateHandshake, data); err == nil {
		t.Fatalf("expected handshake-state dispatch to be rejected")
	}
	if err := reg.Dispatch(testConn{"p"}, StateJoined, data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(got) != 1 || got[0] != "Arena" {
		t.Fatalf("expected one Arena ack, got %v", got)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	reg.Register(C_OPCODE_REQUEST_START_GAME, []SessionState{StateJoined}, func(Conn, Message) {
		panic("boom")
	})
	err := reg.Dispatch(testConn{"p"}, StateJoined, Encode(RequestStartGame{}))
	if err == nil {
		t.Fatalf("expected panic to surface as error")
	}
}

func TestDispatchIgnoresUnknownOpcode(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	if err := reg.Dispatch(testConn{"p"}, StateJoined, []byte{0x70}); err != nil {
		t.Fatalf("expected unknown opcode to be ignored, got %v", err)
	}
}
