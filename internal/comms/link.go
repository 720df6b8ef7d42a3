package comms

import (
	"encoding/binary"
	"fmt"
	"math"

	"fmu-service/internal/logger"
	"fmu-service/internal/types"
)

// readChunkSize is how much Pump pulls off the transport per call.
const readChunkSize = 512

// Mode command payload bytes on the wire.
const (
	modeByteConfiguration = 0x00
	modeByteRun           = 0x01
)

// LinkStats counts link activity for the IPC mirror. Overwrites and dropped
// bytes are normal operation for a single-slot mailbox, not faults; they are
// counted so the accepted loss trade-off stays observable.
type LinkStats struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesDropped   uint64
	Overwrites     uint64
}

// SocLink frames typed messages over a serial byte channel to the companion
// SOC. At most one received message is held at a time; a newly decoded frame
// replaces any unread one regardless of kind. All methods except the
// constructor are owned by the control loop goroutine.
type SocLink struct {
	port    SerialPorter
	logger  *logger.Logger
	rxBuf   []byte
	pending *Message
	stats   LinkStats
	scratch [readChunkSize]byte
}

// NewSocLink wraps an already-open serial port.
func NewSocLink(port SerialPorter, l *logger.Logger) *SocLink {
	return &SocLink{
		port:   port,
		logger: l.WithTag("SocLink"),
	}
}

// OpenSocLink opens the SOC serial device and wraps it in a link. A failure
// here is unrecoverable at this layer; there is no retry.
func OpenSocLink(factory SerialPortFactory, path string, baudRate int, l *logger.Logger) (*SocLink, error) {
	port, err := factory.Open(path, baudRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open SOC link: %w", err)
	}
	l.Infof("SOC link open on %s at %d baud", path, baudRate)
	return NewSocLink(port, l), nil
}

// Send frames the payload and writes it to the transport immediately.
// Fire-and-forget: there is no acknowledgment above the transport.
func (s *SocLink) Send(t MessageType, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload of %d bytes exceeds frame limit of %d", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = byte(t)
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	n, err := s.port.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write %s frame: %w", t, err)
	}
	if n != len(frame) {
		return fmt.Errorf("short write on %s frame: %d of %d bytes", t, n, len(frame))
	}
	s.stats.FramesSent++
	return nil
}

// SendSensorData transmits a sensor data buffer to the SOC.
func (s *SocLink) SendSensorData(buf []byte) error {
	return s.Send(SensorData, buf)
}

// Pump polls the transport without blocking and decodes every complete frame
// that has arrived, keeping only the newest one. A frame that starts with an
// unknown type byte, or claims an oversized payload, is discarded by
// single-byte resync. Safe to call every iteration with no data pending.
func (s *SocLink) Pump() {
	n, err := s.port.Read(s.scratch[:])
	if err != nil {
		// Transient read faults never stall the loop. A dead transport
		// just means no frames arrive.
		s.logger.Debugf("Transport read failed: %v", err)
	}
	if n > 0 {
		s.rxBuf = append(s.rxBuf, s.scratch[:n]...)
	}

	for len(s.rxBuf) > 0 {
		t := MessageType(s.rxBuf[0])
		if !t.valid() {
			s.rxBuf = s.rxBuf[1:]
			s.stats.BytesDropped++
			continue
		}
		if len(s.rxBuf) < frameHeaderSize {
			return
		}
		length := int(binary.LittleEndian.Uint16(s.rxBuf[1:3]))
		if length > MaxPayloadSize {
			s.rxBuf = s.rxBuf[1:]
			s.stats.BytesDropped++
			continue
		}
		if len(s.rxBuf) < frameHeaderSize+length {
			return
		}

		payload := make([]byte, length)
		copy(payload, s.rxBuf[frameHeaderSize:frameHeaderSize+length])
		s.rxBuf = s.rxBuf[frameHeaderSize+length:]

		if s.pending != nil {
			s.stats.Overwrites++
			s.logger.Debugf("Unread %s message overwritten by %s frame", s.pending.Type, t)
		}
		s.pending = &Message{Type: t, Payload: payload}
		s.stats.FramesReceived++
	}
}

// ReceiveMessage drains the pending message only when its type matches want.
// On a mismatch the slot is left untouched so the consumer the message is
// destined for can still claim it.
func (s *SocLink) ReceiveMessage(want MessageType) ([]byte, bool) {
	if s.pending == nil || s.pending.Type != want {
		return nil, false
	}
	payload := s.pending.Payload
	s.pending = nil
	return payload, true
}

// ReceiveModeCommand decodes a pending mode command. The payload is a single
// enum-coded byte; anything else reports failure and leaves the message in
// place for the caller's retry policy.
func (s *SocLink) ReceiveModeCommand() (types.Mode, bool) {
	if s.pending == nil || s.pending.Type != ModeCommand {
		return "", false
	}
	if len(s.pending.Payload) != 1 {
		return "", false
	}

	var mode types.Mode
	switch s.pending.Payload[0] {
	case modeByteConfiguration:
		mode = types.ModeConfiguration
	case modeByteRun:
		mode = types.ModeRun
	default:
		return "", false
	}

	s.pending = nil
	return mode, true
}

// ReceiveConfigData drains a pending configuration message. The payload is
// opaque here and handed to the configuration collaborator verbatim.
func (s *SocLink) ReceiveConfigData() ([]byte, bool) {
	return s.ReceiveMessage(Configuration)
}

// ReceiveEffectorCommand decodes a pending effector command into one float32
// per channel, in payload order. A payload whose length is not a multiple of
// four reports failure and leaves the slot untouched.
func (s *SocLink) ReceiveEffectorCommand() ([]float32, bool) {
	if s.pending == nil || s.pending.Type != EffectorCommand {
		return nil, false
	}
	payload := s.pending.Payload
	if len(payload) == 0 || len(payload)%4 != 0 {
		return nil, false
	}

	commands := make([]float32, len(payload)/4)
	for i := range commands {
		commands[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}

	s.pending = nil
	return commands, true
}

// Stats returns a snapshot of the link counters.
func (s *SocLink) Stats() LinkStats {
	return s.stats
}

// Close closes the underlying transport.
func (s *SocLink) Close() error {
	return s.port.Close()
}

// ModeCommandPayload encodes a mode as a one-byte mode command payload.
// The SOC side of the protocol produces the same encoding.
func ModeCommandPayload(mode types.Mode) ([]byte, error) {
	switch mode {
	case types.ModeConfiguration:
		return []byte{modeByteConfiguration}, nil
	case types.ModeRun:
		return []byte{modeByteRun}, nil
	default:
		return nil, fmt.Errorf("mode %q cannot be requested over the link", mode)
	}
}

// EffectorCommandPayload encodes one float32 per channel in payload order.
func EffectorCommandPayload(commands []float32) []byte {
	payload := make([]byte, 4*len(commands))
	for i, c := range commands {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(c))
	}
	return payload
}
