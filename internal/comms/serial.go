package comms

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// pumpReadTimeout bounds a single Pump read. Zero would mean a pure
// non-blocking read on some platforms but blocks forever on others, so a
// short timeout is configured explicitly.
const pumpReadTimeout = time.Millisecond

// RealSerialPortFactory opens hardware serial ports with 8N1 framing.
type RealSerialPortFactory struct{}

func (RealSerialPortFactory) Open(path string, baudRate int) (SerialPorter, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := port.SetReadTimeout(pumpReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	return port, nil
}
