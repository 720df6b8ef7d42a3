// Package mission owns the FMU mode machine and the per-iteration scheduling
// flags. Flag setters are safe to call from interrupt goroutines; everything
// else belongs to the control loop goroutine.
package mission

import (
	"context"
	"fmt"

	"github.com/librescoot/librefsm"
	"go.uber.org/atomic"

	"fmu-service/internal/fsm"
	"fmu-service/internal/logger"
	"fmu-service/internal/types"
)

// Mission tracks the current mode and the pending-work flags that gate the
// per-iteration states. Flags are edge-triggered: set by an event source,
// consumed exactly once by the loop.
type Mission struct {
	logger  *logger.Logger
	machine *librefsm.Machine

	imuDataReady          atomic.Bool
	flightControlPending  atomic.Bool
	effectorOutputPending atomic.Bool

	// requestedMode stages a mode change until the next iteration boundary.
	// Empty means no change requested.
	requestedMode atomic.String

	throttleSafed      atomic.Bool
	useSocEffectorCmds atomic.Bool

	// Frame counter and dividers for timer-derived flags. A divider of 0
	// disables that flag source entirely.
	frameCount        uint64
	flightControlDiv  int
	effectorOutputDiv int

	onModeChange func(types.Mode)
}

// New builds the mode machine. The dividers derive the flight control and
// effector output flags from the sensor frame count: a value of n fires the
// flag every n-th frame.
func New(l *logger.Logger, flightControlDiv, effectorOutputDiv int) (*Mission, error) {
	m := &Mission{
		logger:            l.WithTag("Mission"),
		flightControlDiv:  flightControlDiv,
		effectorOutputDiv: effectorOutputDiv,
	}
	m.throttleSafed.Store(true)

	def := fsm.NewDefinition(m)
	machine, err := def.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build mode machine: %w", err)
	}
	m.machine = machine

	m.machine.OnStateChange(func(from, to librefsm.StateID) {
		m.logger.Infof("Mode transition: %s -> %s", from, to)
		if m.onModeChange != nil {
			m.onModeChange(stateIDToMode(to))
		}
	})

	return m, nil
}

// OnModeChange registers a callback invoked on every mode transition.
// Must be called before Start.
func (m *Mission) OnModeChange(fn func(types.Mode)) {
	m.onModeChange = fn
}

// Start starts the machine and completes startup, landing in Run.
func (m *Mission) Start(ctx context.Context) error {
	if err := m.machine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mode machine: %w", err)
	}
	if err := m.machine.SendSync(librefsm.Event{ID: fsm.EvStartupComplete}); err != nil {
		return fmt.Errorf("failed to complete startup: %w", err)
	}
	return nil
}

// Mode returns the current mode.
func (m *Mission) Mode() types.Mode {
	return stateIDToMode(m.machine.CurrentState())
}

// SetRequestedMode stages a mode change. The change takes effect at the start
// of the next iteration; a later request before then replaces an earlier one.
func (m *Mission) SetRequestedMode(mode types.Mode) {
	m.requestedMode.Store(string(mode))
}

// UpdateMode applies a staged mode request, if any. Called exactly once per
// iteration before any state evaluation so the whole iteration runs under a
// single mode.
func (m *Mission) UpdateMode() {
	staged := m.requestedMode.Swap("")
	if staged == "" {
		return
	}

	requested := types.Mode(staged)
	if requested == m.Mode() {
		return
	}

	var ev librefsm.EventID
	switch requested {
	case types.ModeRun:
		ev = fsm.EvRunCommand
	case types.ModeConfiguration:
		ev = fsm.EvConfigCommand
	default:
		m.logger.Warnf("Ignoring request for mode %q", requested)
		return
	}

	if err := m.machine.SendSync(librefsm.Event{ID: ev}); err != nil {
		m.logger.Warnf("Mode request %q rejected: %v", requested, err)
	}
}

// Shutdown moves the machine to shutting-down.
func (m *Mission) Shutdown() {
	if err := m.machine.SendSync(librefsm.Event{ID: fsm.EvShutdown}); err != nil {
		m.logger.Warnf("Shutdown event rejected: %v", err)
	}
}

// SetImuDataReady flags that a new IMU frame is available. Called from the
// interrupt goroutine.
func (m *Mission) SetImuDataReady() {
	m.imuDataReady.Store(true)
}

// ConsumeImuDataReady reports and clears the IMU data ready flag. Clearing
// before the read means an interrupt arriving mid-read is kept for the next
// iteration rather than lost.
func (m *Mission) ConsumeImuDataReady() bool {
	return m.imuDataReady.Swap(false)
}

// SetFlightControlPending flags that the flight control state should run.
func (m *Mission) SetFlightControlPending() {
	m.flightControlPending.Store(true)
}

// ConsumeFlightControlPending reports and clears the flight control flag.
func (m *Mission) ConsumeFlightControlPending() bool {
	return m.flightControlPending.Swap(false)
}

// SetEffectorOutputPending flags that the effector output state should run.
func (m *Mission) SetEffectorOutputPending() {
	m.effectorOutputPending.Store(true)
}

// ConsumeEffectorOutputPending reports and clears the effector output flag.
func (m *Mission) ConsumeEffectorOutputPending() bool {
	return m.effectorOutputPending.Swap(false)
}

// TickFrame advances the sensor frame counter and raises the divider-derived
// flags. Called once per successful sensor frame.
func (m *Mission) TickFrame() {
	m.frameCount++
	if m.flightControlDiv > 0 && m.frameCount%uint64(m.flightControlDiv) == 0 {
		m.flightControlPending.Store(true)
	}
	if m.effectorOutputDiv > 0 && m.frameCount%uint64(m.effectorOutputDiv) == 0 {
		m.effectorOutputPending.Store(true)
	}
}

// ThrottleSafed reports whether effector outputs are forced to their safe
// values. Defaults to true until the operator arms the system.
func (m *Mission) ThrottleSafed() bool {
	return m.throttleSafed.Load()
}

// SetThrottleSafed sets the throttle safety latch.
func (m *Mission) SetThrottleSafed(safed bool) {
	m.throttleSafed.Store(safed)
}

// UseSocEffectorCommands reports whether effector commands received from the
// SOC are applied or only drained.
func (m *Mission) UseSocEffectorCommands() bool {
	return m.useSocEffectorCmds.Load()
}

// SetUseSocEffectorCommands selects whether SOC effector commands are applied.
func (m *Mission) SetUseSocEffectorCommands(use bool) {
	m.useSocEffectorCmds.Store(use)
}

// EnterRun implements fsm.Actions.
func (m *Mission) EnterRun(c *librefsm.Context) error {
	m.logger.Infof("Entering run mode")
	return nil
}

// EnterConfiguration implements fsm.Actions.
func (m *Mission) EnterConfiguration(c *librefsm.Context) error {
	m.logger.Infof("Entering configuration mode")
	return nil
}

// EnterShuttingDown implements fsm.Actions.
func (m *Mission) EnterShuttingDown(c *librefsm.Context) error {
	m.logger.Infof("Shutting down")
	return nil
}

func stateIDToMode(id librefsm.StateID) types.Mode {
	switch id {
	case fsm.StateInit:
		return types.ModeInit
	case fsm.StateRun:
		return types.ModeRun
	case fsm.StateConfiguration:
		return types.ModeConfiguration
	case fsm.StateShuttingDown:
		return types.ModeShuttingDown
	default:
		return types.Mode(string(id))
	}
}
