// Package hardware binds the FMU to the IMU data ready line.
package hardware

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"fmu-service/internal/logger"
)

// ImuInterrupt watches the IMU data ready GPIO line and invokes a callback on
// every rising edge. The callback runs on the gpiocdev event goroutine, so it
// must only do interrupt-safe work like setting an atomic flag.
type ImuInterrupt struct {
	logger *logger.Logger
	chip   *gpiocdev.Chip
	line   *gpiocdev.Line
}

// NewImuInterrupt requests the data ready line as a rising edge input.
func NewImuInterrupt(chipName string, offset int, onDataReady func(), l *logger.Logger) (*ImuInterrupt, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipName, err)
	}

	line, err := chip.RequestLine(offset,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer("fmu-service"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventRisingEdge {
				onDataReady()
			}
		}))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request GPIO line %d: %w", offset, err)
	}

	l.Infof("IMU data ready interrupt on %s line %d", chipName, offset)
	return &ImuInterrupt{
		logger: l.WithTag("ImuInterrupt"),
		chip:   chip,
		line:   line,
	}, nil
}

// Close releases the line and chip.
func (i *ImuInterrupt) Close() {
	if i.line != nil {
		i.line.Close()
	}
	if i.chip != nil {
		i.chip.Close()
	}
}
