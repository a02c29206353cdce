package packet

import "fmt"

// Message is one typed protocol message.
type Message interface {
	Opcode() byte
	encode(w *Writer)
}

// Encode serialises m including its opcode byte.
func Encode(m Message) []byte {
	w := NewWriterWithOpcode(m.Opcode())
	m.encode(w)
	return w.Bytes()
}

// Decode parses one frame payload into its typed message.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}
	dec, ok := decoders[data[0]]
	if !ok {
		return nil, fmt.Errorf("unknown opcode 0x%02X", data[0])
	}
	r := NewReader(data)
	m := dec(r)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode opcode 0x%02X: %w", data[0], err)
	}
	return m, nil
}

var decoders = map[byte]func(r *Reader) Message{
	C_OPCODE_HELLO:              func(r *Reader) Message { return Hello{Name: r.ReadS(), JoinKey: r.ReadS()} },
	C_OPCODE_SCENE_LOAD_ACK:     func(r *Reader) Message { return SceneLoadAcknowledged{PeerID: r.ReadS(), Scene: r.ReadS()} },
	C_OPCODE_REQUEST_SCENE_LOAD: func(r *Reader) Message { return RequestSceneLoad{Scene: r.ReadS()} },
	C_OPCODE_REQUEST_START_GAME: func(r *Reader) Message { return RequestStartGame{} },

	S_OPCODE_WELCOME:       func(r *Reader) Message { return Welcome{PeerID: r.ReadS(), AuthorityID: r.ReadS()} },
	S_OPCODE_JOIN_REJECTED: func(r *Reader) Message { return JoinRejected{Reason: r.ReadS()} },
	S_OPCODE_LOAD_STARTED:  func(r *Reader) Message { return LoadStarted{Scene: r.ReadS()} },
	S_OPCODE_PREPARE_SCENE_LOAD: func(r *Reader) Message {
		return PrepareSceneLoad{Scene: r.ReadS(), Mode: r.ReadC(), TimeoutMillis: r.ReadD()}
	},
	S_OPCODE_LOAD_PROGRESS:    func(r *Reader) Message { return LoadProgress{Scene: r.ReadS(), Progress: r.ReadF()} },
	S_OPCODE_LOAD_COMPLETE:    func(r *Reader) Message { return LoadComplete{Scene: r.ReadS()} },
	S_OPCODE_LOAD_TIMEOUT:     func(r *Reader) Message { return LoadTimeout{Scene: r.ReadS()} },
	S_OPCODE_LOAD_ERROR:       func(r *Reader) Message { return LoadError{Scene: r.ReadS(), Message: r.ReadS()} },
	S_OPCODE_SCENE_STATE_SYNC: decodeSceneStateSync,
	S_OPCODE_PHASE_CHANGED: func(r *Reader) Message {
		return PhaseChanged{Phase: r.ReadC(), StartedAtMillis: r.ReadQ(), DurationMillis: r.ReadD()}
	},
	S_OPCODE_COUNTDOWN_NOTICE: func(r *Reader) Message { return CountdownNotice{Seconds: r.ReadD()} },
	S_OPCODE_EVENT_BATCH:      decodeEventBatch,
}

// ── Handshake ──

type Hello struct {
	Name    string
	JoinKey string
}

func (Hello) Opcode() byte { return C_OPCODE_HELLO }
func (m Hello) encode(w *Writer) {
	w.WriteS(m.Name)
	w.WriteS(m.JoinKey)
}

type Welcome struct {
	PeerID      string
	AuthorityID string
}

func (Welcome) Opcode() byte { return S_OPCODE_WELCOME }
func (m Welcome) encode(w *Writer) {
	w.WriteS(m.PeerID)
	w.WriteS(m.AuthorityID)
}

type JoinRejected struct {
	Reason string
}

func (JoinRejected) Opcode() byte       { return S_OPCODE_JOIN_REJECTED }
func (m JoinRejected) encode(w *Writer) { w.WriteS(m.Reason) }

// ── Scene synchronization ──

type LoadStarted struct {
	Scene string
}

func (LoadStarted) Opcode() byte       { return S_OPCODE_LOAD_STARTED }
func (m LoadStarted) encode(w *Writer) { w.WriteS(m.Scene) }

type PrepareSceneLoad struct {
	Scene         string
	Mode          byte
	TimeoutMillis int32
}

func (PrepareSceneLoad) Opcode() byte { return S_OPCODE_PREPARE_SCENE_LOAD }
func (m PrepareSceneLoad) encode(w *Writer) {
	w.WriteS(m.Scene)
	w.WriteC(m.Mode)
	w.WriteD(m.TimeoutMillis)
}

// SceneLoadAcknowledged is a peer's barrier vote. Scene disambiguates
// concurrent requests for different scenes.
type SceneLoadAcknowledged struct {
	PeerID string
	Scene  string
}

func (SceneLoadAcknowledged) Opcode() byte { return C_OPCODE_SCENE_LOAD_ACK }
func (m SceneLoadAcknowledged) encode(w *Writer) {
	w.WriteS(m.PeerID)
	w.WriteS(m.Scene)
}

type LoadProgress struct {
	Scene    string
	Progress float32
}

func (LoadProgress) Opcode() byte { return S_OPCODE_LOAD_PROGRESS }
func (m LoadProgress) encode(w *Writer) {
	w.WriteS(m.Scene)
	w.WriteF(m.Progress)
}

type LoadComplete struct {
	Scene string
}

func (LoadComplete) Opcode() byte       { return S_OPCODE_LOAD_COMPLETE }
func (m LoadComplete) encode(w *Writer) { w.WriteS(m.Scene) }

type LoadTimeout struct {
	Scene string
}

func (LoadTimeout) Opcode() byte       { return S_OPCODE_LOAD_TIMEOUT }
func (m LoadTimeout) encode(w *Writer) { w.WriteS(m.Scene) }

type LoadError struct {
	Scene   string
	Message string
}

func (LoadError) Opcode() byte { return S_OPCODE_LOAD_ERROR }
func (m LoadError) encode(w *Writer) {
	w.WriteS(m.Scene)
	w.WriteS(m.Message)
}

type SceneState struct {
	Scene  string
	Mode   byte
	Active bool
}

// SceneStateSync brings a late joiner up to the authority's loaded scenes.
type SceneStateSync struct {
	Scenes []SceneState
}

func (SceneStateSync) Opcode() byte { return S_OPCODE_SCENE_STATE_SYNC }
func (m SceneStateSync) encode(w *Writer) {
	w.WriteH(uint16(len(m.Scenes)))
	for _, s := range m.Scenes {
		w.WriteS(s.Scene)
		w.WriteC(s.Mode)
		w.WriteBool(s.Active)
	}
}

func decodeSceneStateSync(r *Reader) Message {
	n := int(r.ReadH())
	m := SceneStateSync{Scenes: make([]SceneState, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Scenes = append(m.Scenes, SceneState{Scene: r.ReadS(), Mode: r.ReadC(), Active: r.ReadBool()})
	}
	return m
}

// RequestSceneLoad asks the authority to load a scene. Only the authority's
// own connection passes the validation gate.
type RequestSceneLoad struct {
	Scene string
}

func (RequestSceneLoad) Opcode() byte       { return C_OPCODE_REQUEST_SCENE_LOAD }
func (m RequestSceneLoad) encode(w *Writer) { w.WriteS(m.Scene) }

// ── Game phase ──

type PhaseChanged struct {
	Phase           byte
	StartedAtMillis int64
	DurationMillis  int32
}

func (PhaseChanged) Opcode() byte { return S_OPCODE_PHASE_CHANGED }
func (m PhaseChanged) encode(w *Writer) {
	w.WriteC(m.Phase)
	w.WriteQ(m.StartedAtMillis)
	w.WriteD(m.DurationMillis)
}

type CountdownNotice struct {
	Seconds int32
}

func (CountdownNotice) Opcode() byte       { return S_OPCODE_COUNTDOWN_NOTICE }
func (m CountdownNotice) encode(w *Writer) { w.WriteD(m.Seconds) }

type RequestStartGame struct{}

func (RequestStartGame) Opcode() byte     { return C_OPCODE_REQUEST_START_GAME }
func (RequestStartGame) encode(w *Writer) {}

// ── Event batches ──

// BatchEntry is one replicated event. Target is empty for broadcast.
type BatchEntry struct {
	TypeID   string
	Priority int32
	Payload  []byte
	Target   string
	Reliable bool
}

type EventBatch struct {
	Entries []BatchEntry
}

func (EventBatch) Opcode() byte { return S_OPCODE_EVENT_BATCH }
func (m EventBatch) encode(w *Writer) {
	w.WriteH(uint16(len(m.Entries)))
	for _, e := range m.Entries {
		w.WriteS(e.TypeID)
		w.WriteD(e.Priority)
		w.WriteBytes(e.Payload)
		w.WriteS(e.Target)
		w.WriteBool(e.Reliable)
	}
}

func decodeEventBatch(r *Reader) Message {
	n := int(r.ReadH())
	m := EventBatch{Entries: make([]BatchEntry, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Entries = append(m.Entries, BatchEntry{
			TypeID:   r.ReadS(),
			Priority: r.ReadD(),
			Payload:  r.ReadBytes(),
			Target:   r.ReadS(),
			Reliable: r.ReadBool(),
		})
	}
	return m
}
