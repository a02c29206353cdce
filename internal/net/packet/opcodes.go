package packet

// Client → authority opcodes.
const (
	C_OPCODE_HELLO              byte = 0x01
	C_OPCODE_SCENE_LOAD_ACK     byte = 0x02
	C_OPCODE_REQUEST_SCENE_LOAD byte = 0x03
	C_OPCODE_REQUEST_START_GAME byte = 0x04
)

// Authority → client opcodes.
const (
	S_OPCODE_WELCOME            byte = 0x81
	S_OPCODE_JOIN_REJECTED      byte = 0x82
	S_OPCODE_LOAD_STARTED       byte = 0x83
	S_OPCODE_PREPARE_SCENE_LOAD byte = 0x84
	S_OPCODE_LOAD_PROGRESS      byte = 0x85
	S_OPCODE_LOAD_COMPLETE      byte = 0x86
	S_OPCODE_LOAD_TIMEOUT       byte = 0x87
	S_OPCODE_LOAD_ERROR         byte = 0x88
	S_OPCODE_SCENE_STATE_SYNC   byte = 0x89
	S_OPCODE_PHASE_CHANGED      byte = 0x8A
	S_OPCODE_COUNTDOWN_NOTICE   byte = 0x8B
	S_OPCODE_EVENT_BATCH        byte = 0x8C
)
