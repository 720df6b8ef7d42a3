// Package comms implements the framed message link between the FMU and the
// companion SOC computer. Reception is a single-slot mailbox with
// overwrite-on-arrival semantics: bounded memory is traded for possible
// message loss on the receive side.
package comms

// MessageType identifies the payload carried by one frame on the SOC link.
// The byte values are part of the wire protocol.
type MessageType byte

const (
	ModeCommand MessageType = iota
	Configuration
	SensorData
	EffectorCommand
)

func (t MessageType) valid() bool {
	return t <= EffectorCommand
}

func (t MessageType) String() string {
	switch t {
	case ModeCommand:
		return "mode-command"
	case Configuration:
		return "configuration"
	case SensorData:
		return "sensor-data"
	case EffectorCommand:
		return "effector-command"
	default:
		return "unknown"
	}
}

// Message is a decoded frame: a type tag plus its raw payload. Payload shape
// is kind-dependent and validated by the typed accessors, not by the mailbox.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Frame layout on the wire: [type: 1 byte][length: 2 bytes LE][payload].
// Byte-level integrity (CRC, escaping) belongs to the transport below.
const (
	frameHeaderSize = 3
	MaxPayloadSize  = 4096
)
