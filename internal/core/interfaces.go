package core

import (
	"fmu-service/internal/comms"
	"fmu-service/internal/types"
)

// Sensors provides the sensor suite to the control loop.
type Sensors interface {
	// ReadSync reads the interrupt-paced sensor frame and returns its wire
	// encoding for transmission to the SOC.
	ReadSync() ([]byte, error)

	// ReadAsync polls the low-rate sensors. Runs every iteration; each
	// device decides internally whether fresh data is available.
	ReadAsync()
}

// Control runs the flight control laws.
type Control interface {
	// ActiveLevels reports how many control levels run this frame.
	ActiveLevels() int

	// Run executes one control level. Levels run in ascending order.
	Run(level int) error
}

// Effectors drives the physical outputs.
type Effectors interface {
	// ComputeOutputs converts control law results into effector values.
	// When throttleSafed is true the outputs are forced to safe values.
	ComputeOutputs(throttleSafed bool) error

	// CommandEffectors writes the computed values to the hardware.
	CommandEffectors() error

	// SetCommands overrides the computed values with externally supplied
	// ones, one per channel in order.
	SetCommands(values []float32, throttleSafed bool) error
}

// Config applies configuration payloads received in configuration mode.
type Config interface {
	Update(raw []byte) error
}

// SocLink is the message mailbox to the companion computer.
type SocLink interface {
	Send(t comms.MessageType, payload []byte) error
	SendSensorData(buf []byte) error
	Pump()
	ReceiveModeCommand() (types.Mode, bool)
	ReceiveConfigData() ([]byte, bool)
	ReceiveEffectorCommand() ([]float32, bool)
	Stats() comms.LinkStats
	Close() error
}

// MessagingClient mirrors mode and link health into Redis and accepts
// operator commands. The loop must keep running when it is unavailable.
type MessagingClient interface {
	Connect() error
	StartListening() error
	PublishMode(mode types.Mode) error
	PublishLinkStats(stats comms.LinkStats) error
	Close() error
}
