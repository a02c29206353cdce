package packet

import (
	"reflect"
	"testing"
)

func TestEventBatchRoundTrip(t *testing.T) {
	in := EventBatch{Entries: []BatchEntry{
		{TypeID: "order.served", Priority: 1, Payload: []byte(`{"id":7}`), Reliable: true},
		{TypeID: "chef.emote", Priority: 3, Payload: nil, Target: "0f4c", Reliable: false},
	}}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.(EventBatch)
	if !ok {
		t.Fatalf("expected EventBatch, got %T", out)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Entries))
	}
	if got.Entries[0].TypeID != "order.served" || string(got.Entries[0].Payload) != `{"id":7}` || !got.Entries[0].Reliable {
		t.Fatalf("unexpected first entry %+v", got.Entries[0])
	}
	if got.Entries[1].Target != "0f4c" || got.Entries[1].Reliable || len(got.Entries[1].Payload) != 0 {
		t.Fatalf("unexpected second entry %+v", got.Entries[1])
	}
}

func TestSceneStateSyncRoundTrip(t *testing.T) {
	in := SceneStateSync{Scenes: []SceneState{
		{Scene: "Lobby", Mode: 0, Active: true},
		{Scene: "Kitchen", Mode: 1, Active: true},
	}}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestDecodeTruncatedFails(t *testing.T) {
	data := Encode(PhaseChanged{Phase: 2, StartedAtMillis: 1700000000000, DurationMillis: 180000})
	if _, err := Decode(data[:len(data)-2]); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	if _, err := Decode([]byte{0x7F}); err == nil {
		t.Fatalf("expected unknown opcode error")
	}
}

func TestWriteSNormalisesNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	out, err := Decode(Encode(LoadStarted{Scene: decomposed}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := out.(LoadStarted).Scene; got != "Caf\u00e9" {
		t.Fatalf("expected composed form, got %q", got)
	}
}
