// Package core runs the FMU control loop: a tight interrupt-paced loop that
// evaluates the per-iteration states under the current mode.
package core

import (
	"context"
	"fmt"

	"fmu-service/internal/logger"
	"fmu-service/internal/mission"
	"fmu-service/internal/types"
)

// statsPublishInterval is how many iterations pass between link stat mirrors.
// The loop spins in the megahertz range; publishing every iteration would
// drown Redis.
const statsPublishInterval = 1_000_000

// FmuSystem wires the mission, the SOC link and the flight collaborators into
// the control loop. All collaborator calls happen on the loop goroutine.
type FmuSystem struct {
	mission   *mission.Mission
	link      SocLink
	messaging MessagingClient
	sensors   Sensors
	control   Control
	effectors Effectors
	config    Config
	logger    *logger.Logger

	stopChan chan struct{}
	doneChan chan struct{}

	iterations uint64
	mirrorOK   bool
}

func NewFmuSystem(m *mission.Mission, link SocLink, messaging MessagingClient,
	sensors Sensors, control Control, effectors Effectors, config Config,
	l *logger.Logger) *FmuSystem {
	return &FmuSystem{
		mission:   m,
		link:      link,
		messaging: messaging,
		sensors:   sensors,
		control:   control,
		effectors: effectors,
		config:    config,
		logger:    l.WithTag("FmuSystem"),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start connects the mirror, starts the mode machine and launches the loop.
// A missing Redis is logged and tolerated; a mode machine failure is not.
func (s *FmuSystem) Start(ctx context.Context) error {
	s.logger.Infof("Starting FMU system")

	if err := s.messaging.Connect(); err != nil {
		s.logger.Warnf("Running without Redis mirror: %v", err)
	} else {
		s.mirrorOK = true
		if err := s.messaging.StartListening(); err != nil {
			s.logger.Warnf("Failed to start Redis listeners: %v", err)
		}
		s.mission.OnModeChange(func(mode types.Mode) {
			if err := s.messaging.PublishMode(mode); err != nil {
				s.logger.Warnf("Failed to publish mode: %v", err)
			}
		})
	}

	if err := s.mission.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mission: %w", err)
	}

	go s.run()
	return nil
}

// run spins the control loop with no sleeping or blocking. Pacing comes from
// the IMU interrupt flag, not from the loop itself.
func (s *FmuSystem) run() {
	defer close(s.doneChan)
	s.logger.Infof("Control loop running")

	for {
		select {
		case <-s.stopChan:
			s.logger.Infof("Control loop stopped")
			return
		default:
		}
		s.iterate()
	}
}

// iterate executes one pass: apply a staged mode change, evaluate the
// eligible states for that mode, then poll the link so typed receives act on
// the freshest complete frame next pass.
func (s *FmuSystem) iterate() {
	s.mission.UpdateMode()

	switch s.mission.Mode() {
	case types.ModeRun:
		s.iterateRun()
	case types.ModeConfiguration:
		s.iterateConfiguration()
	}

	// Mode commands are accepted in every mode and staged for the next
	// iteration boundary.
	if mode, ok := s.link.ReceiveModeCommand(); ok {
		s.logger.Infof("SOC requested mode %s", mode)
		s.mission.SetRequestedMode(mode)
	}

	s.link.Pump()

	s.iterations++
	if s.mirrorOK && s.iterations%statsPublishInterval == 0 {
		if err := s.messaging.PublishLinkStats(s.link.Stats()); err != nil {
			s.logger.Debugf("Failed to publish link stats: %v", err)
		}
	}
}

func (s *FmuSystem) iterateRun() {
	// Sync data collection: gated on the IMU interrupt. The flag is cleared
	// before the read so an edge during the read is kept for the next pass.
	if s.mission.ConsumeImuDataReady() {
		frame, err := s.sensors.ReadSync()
		if err != nil {
			s.logger.Errorf("State %s: sensor read failed: %v", types.StateSyncDataCollection, err)
		} else {
			if err := s.link.SendSensorData(frame); err != nil {
				s.logger.Warnf("Failed to send sensor data: %v", err)
			}
			s.mission.TickFrame()
		}
	}

	// Async data collection runs unconditionally.
	s.sensors.ReadAsync()

	if s.mission.ConsumeFlightControlPending() {
		for level := 0; level < s.control.ActiveLevels(); level++ {
			if err := s.control.Run(level); err != nil {
				s.logger.Errorf("State %s: level %d failed: %v", types.StateFlightControl, level, err)
			}
		}
		if err := s.effectors.ComputeOutputs(s.mission.ThrottleSafed()); err != nil {
			s.logger.Errorf("State %s: output computation failed: %v", types.StateFlightControl, err)
		}
	}

	if s.mission.ConsumeEffectorOutputPending() {
		if err := s.effectors.CommandEffectors(); err != nil {
			s.logger.Errorf("State %s: effector command failed: %v", types.StateEffectorOutput, err)
		}
	}

	// SOC effector commands are drained every pass so a stale command never
	// lingers in the mailbox, but applied only under the override policy.
	if cmds, ok := s.link.ReceiveEffectorCommand(); ok {
		if s.mission.UseSocEffectorCommands() {
			if err := s.effectors.SetCommands(cmds, s.mission.ThrottleSafed()); err != nil {
				s.logger.Errorf("Failed to apply SOC effector commands: %v", err)
			}
		}
	}
}

func (s *FmuSystem) iterateConfiguration() {
	if raw, ok := s.link.ReceiveConfigData(); ok {
		if err := s.config.Update(raw); err != nil {
			s.logger.Warnf("Configuration update rejected: %v", err)
		}
	}
}

// Shutdown stops the loop, moves the mode machine to shutting-down and
// releases the link and mirror.
func (s *FmuSystem) Shutdown() {
	s.logger.Infof("Shutting down FMU system")

	close(s.stopChan)
	<-s.doneChan

	s.mission.Shutdown()

	if err := s.link.Close(); err != nil {
		s.logger.Warnf("Failed to close SOC link: %v", err)
	}
	if err := s.messaging.Close(); err != nil {
		s.logger.Warnf("Failed to close Redis client: %v", err)
	}
}
