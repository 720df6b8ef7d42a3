package core

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"fmu-service/internal/comms"
	"fmu-service/internal/logger"
	"fmu-service/internal/mission"
	"fmu-service/internal/types"
)

type mockSensors struct {
	syncFrame  []byte
	syncErr    error
	syncReads  int
	asyncReads int
}

func (m *mockSensors) ReadSync() ([]byte, error) {
	m.syncReads++
	return m.syncFrame, m.syncErr
}

func (m *mockSensors) ReadAsync() {
	m.asyncReads++
}

type mockControl struct {
	levels int
	runs   []int
	runErr error
}

func (m *mockControl) ActiveLevels() int {
	return m.levels
}

func (m *mockControl) Run(level int) error {
	m.runs = append(m.runs, level)
	return m.runErr
}

type mockEffectors struct {
	computes    int
	commands    int
	setCommands [][]float32
	lastSafed   bool
}

func (m *mockEffectors) ComputeOutputs(throttleSafed bool) error {
	m.computes++
	m.lastSafed = throttleSafed
	return nil
}

func (m *mockEffectors) CommandEffectors() error {
	m.commands++
	return nil
}

func (m *mockEffectors) SetCommands(values []float32, throttleSafed bool) error {
	m.setCommands = append(m.setCommands, values)
	m.lastSafed = throttleSafed
	return nil
}

type mockConfig struct {
	updates [][]byte
}

func (m *mockConfig) Update(raw []byte) error {
	m.updates = append(m.updates, raw)
	return nil
}

// mockLink models the single-slot mailbox: one pending message of one kind.
type mockLink struct {
	pendingMode     *types.Mode
	pendingConfig   []byte
	pendingEffector []float32
	sent            [][]byte
	pumps           int
	closed          bool
}

func (m *mockLink) Send(t comms.MessageType, payload []byte) error {
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockLink) SendSensorData(buf []byte) error {
	return m.Send(comms.SensorData, buf)
}

func (m *mockLink) Pump() {
	m.pumps++
}

func (m *mockLink) ReceiveModeCommand() (types.Mode, bool) {
	if m.pendingMode == nil {
		return "", false
	}
	mode := *m.pendingMode
	m.pendingMode = nil
	return mode, true
}

func (m *mockLink) ReceiveConfigData() ([]byte, bool) {
	if m.pendingConfig == nil {
		return nil, false
	}
	raw := m.pendingConfig
	m.pendingConfig = nil
	return raw, true
}

func (m *mockLink) ReceiveEffectorCommand() ([]float32, bool) {
	if m.pendingEffector == nil {
		return nil, false
	}
	cmds := m.pendingEffector
	m.pendingEffector = nil
	return cmds, true
}

func (m *mockLink) Stats() comms.LinkStats {
	return comms.LinkStats{}
}

func (m *mockLink) Close() error {
	m.closed = true
	return nil
}

type mockMessaging struct {
	connectErr error
	listening  bool
	modes      []types.Mode
	closed     bool
}

func (m *mockMessaging) Connect() error {
	return m.connectErr
}

func (m *mockMessaging) StartListening() error {
	m.listening = true
	return nil
}

func (m *mockMessaging) PublishMode(mode types.Mode) error {
	m.modes = append(m.modes, mode)
	return nil
}

func (m *mockMessaging) PublishLinkStats(stats comms.LinkStats) error {
	return nil
}

func (m *mockMessaging) Close() error {
	m.closed = true
	return nil
}

type testHarness struct {
	sys       *FmuSystem
	mission   *mission.Mission
	link      *mockLink
	sensors   *mockSensors
	control   *mockControl
	effectors *mockEffectors
	config    *mockConfig
	messaging *mockMessaging
}

// newTestHarness builds a started system without launching the loop
// goroutine. Tests drive iterations by hand for determinism.
func newTestHarness(t *testing.T, fcDiv, eoDiv int) *testHarness {
	t.Helper()

	l := logger.NewLogger(log.New(io.Discard, "", 0), logger.LogLevelNone)
	m, err := mission.New(l, fcDiv, eoDiv)
	if err != nil {
		t.Fatalf("Failed to build mission: %v", err)
	}

	h := &testHarness{
		mission:   m,
		link:      &mockLink{},
		sensors:   &mockSensors{syncFrame: []byte{1, 2, 3}},
		control:   &mockControl{levels: 2},
		effectors: &mockEffectors{},
		config:    &mockConfig{},
		messaging: &mockMessaging{},
	}
	h.sys = NewFmuSystem(m, h.link, h.messaging, h.sensors, h.control, h.effectors, h.config, l)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start mission: %v", err)
	}
	return h
}

func TestSyncDataCollectionGatedOnInterrupt(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	h.sys.iterate()
	if h.sensors.syncReads != 0 {
		t.Error("Sync read fired without IMU data ready")
	}

	h.mission.SetImuDataReady()
	h.sys.iterate()
	if h.sensors.syncReads != 1 {
		t.Errorf("Expected 1 sync read, got %d", h.sensors.syncReads)
	}
	if len(h.link.sent) != 1 {
		t.Fatalf("Expected 1 sensor frame sent, got %d", len(h.link.sent))
	}

	// The flag was consumed; the next iteration must not refire.
	h.sys.iterate()
	if h.sensors.syncReads != 1 {
		t.Errorf("Sync read refired without a new interrupt: %d reads", h.sensors.syncReads)
	}
}

func TestSyncReadFailureSendsNothing(t *testing.T) {
	h := newTestHarness(t, 1, 1)
	h.sensors.syncErr = errors.New("bus fault")

	h.mission.SetImuDataReady()
	h.sys.iterate()

	if len(h.link.sent) != 0 {
		t.Error("Sensor frame sent despite read failure")
	}
	if h.control.runs != nil {
		t.Error("Frame counter advanced despite read failure")
	}
}

func TestAsyncDataCollectionRunsEveryIteration(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	for i := 0; i < 5; i++ {
		h.sys.iterate()
	}
	if h.sensors.asyncReads != 5 {
		t.Errorf("Expected 5 async reads, got %d", h.sensors.asyncReads)
	}
}

func TestFlightControlRunsAllLevelsOnce(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	h.control.levels = 3

	h.mission.SetFlightControlPending()
	h.sys.iterate()

	if len(h.control.runs) != 3 {
		t.Fatalf("Expected 3 control levels, got %d", len(h.control.runs))
	}
	for i, level := range h.control.runs {
		if level != i {
			t.Errorf("Expected level %d at position %d, got %d", i, i, level)
		}
	}
	if h.effectors.computes != 1 {
		t.Errorf("Expected 1 output computation, got %d", h.effectors.computes)
	}
	if !h.effectors.lastSafed {
		t.Error("Outputs computed unsafed before arming")
	}

	h.sys.iterate()
	if len(h.control.runs) != 3 {
		t.Error("Flight control refired without a new flag")
	}
}

func TestEffectorOutputEdgeTriggered(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	h.mission.SetEffectorOutputPending()
	h.sys.iterate()
	if h.effectors.commands != 1 {
		t.Errorf("Expected 1 effector command, got %d", h.effectors.commands)
	}

	h.sys.iterate()
	if h.effectors.commands != 1 {
		t.Error("Effector output refired without a new flag")
	}
}

func TestInterruptDrivesDividerCadence(t *testing.T) {
	h := newTestHarness(t, 2, 4)

	for i := 0; i < 4; i++ {
		h.mission.SetImuDataReady()
		h.sys.iterate()
	}

	// Dividers 2 and 4 over 4 frames: control twice, effectors once.
	// Each control pass covers both levels.
	if len(h.control.runs) != 4 {
		t.Errorf("Expected 4 control level runs, got %d", len(h.control.runs))
	}
	if h.effectors.commands != 1 {
		t.Errorf("Expected 1 effector command, got %d", h.effectors.commands)
	}
}

func TestSocEffectorCommandsDrainedButNotAppliedByDefault(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	h.link.pendingEffector = []float32{0.1, 0.2, 0.3}

	h.sys.iterate()

	if h.link.pendingEffector != nil {
		t.Error("Pending effector command not drained")
	}
	if len(h.effectors.setCommands) != 0 {
		t.Error("SOC effector command applied with override disabled")
	}
}

func TestSocEffectorCommandsAppliedUnderOverride(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	h.mission.SetUseSocEffectorCommands(true)
	h.mission.SetThrottleSafed(false)
	h.link.pendingEffector = []float32{0.1, 0.2, 0.3}

	h.sys.iterate()

	if len(h.effectors.setCommands) != 1 {
		t.Fatalf("Expected 1 applied command set, got %d", len(h.effectors.setCommands))
	}
	got := h.effectors.setCommands[0]
	want := []float32{0.1, 0.2, 0.3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Channel %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if h.effectors.lastSafed {
		t.Error("Commands applied safed after arming")
	}
}

func TestConfigurationAppliedOnlyInConfigurationMode(t *testing.T) {
	h := newTestHarness(t, 0, 0)
	h.link.pendingConfig = []byte("airframe")

	h.sys.iterate()
	if len(h.config.updates) != 0 {
		t.Error("Configuration applied in run mode")
	}
	if h.link.pendingConfig == nil {
		t.Error("Configuration message drained in run mode")
	}

	h.mission.SetRequestedMode(types.ModeConfiguration)
	h.sys.iterate()
	if len(h.config.updates) != 1 {
		t.Fatalf("Expected 1 configuration update, got %d", len(h.config.updates))
	}
	if string(h.config.updates[0]) != "airframe" {
		t.Errorf("Unexpected configuration payload: %q", h.config.updates[0])
	}
}

func TestFlightStatesFrozenInConfigurationMode(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	h.mission.SetRequestedMode(types.ModeConfiguration)
	h.sys.iterate()

	h.mission.SetImuDataReady()
	h.mission.SetFlightControlPending()
	h.mission.SetEffectorOutputPending()
	h.sys.iterate()

	if h.sensors.syncReads != 0 || h.sensors.asyncReads > 1 {
		t.Error("Sensor states ran in configuration mode")
	}
	if len(h.control.runs) != 0 {
		t.Error("Flight control ran in configuration mode")
	}
	if h.effectors.commands != 0 {
		t.Error("Effector output ran in configuration mode")
	}
}

func TestModeCommandStagedForNextIteration(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	configMode := types.ModeConfiguration
	h.link.pendingMode = &configMode

	// The command is read at the end of this iteration; the mode holds.
	h.sys.iterate()
	if h.mission.Mode() != types.ModeRun {
		t.Errorf("Mode changed mid-iteration, got %v", h.mission.Mode())
	}

	h.sys.iterate()
	if h.mission.Mode() != types.ModeConfiguration {
		t.Errorf("Staged mode not applied, got %v", h.mission.Mode())
	}
}

func TestPumpRunsEveryIteration(t *testing.T) {
	h := newTestHarness(t, 0, 0)

	for i := 0; i < 3; i++ {
		h.sys.iterate()
	}
	if h.link.pumps != 3 {
		t.Errorf("Expected 3 pumps, got %d", h.link.pumps)
	}
}

func TestStartToleratesMissingRedis(t *testing.T) {
	l := logger.NewLogger(log.New(io.Discard, "", 0), logger.LogLevelNone)
	m, err := mission.New(l, 1, 1)
	if err != nil {
		t.Fatalf("Failed to build mission: %v", err)
	}

	link := &mockLink{}
	msg := &mockMessaging{connectErr: errors.New("connection refused")}
	sys := NewFmuSystem(m, link, msg, &mockSensors{}, &mockControl{}, &mockEffectors{}, &mockConfig{}, l)

	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed without Redis: %v", err)
	}
	if msg.listening {
		t.Error("Listeners started despite failed connection")
	}

	sys.Shutdown()
	if !link.closed {
		t.Error("SOC link not closed on shutdown")
	}
	if !msg.closed {
		t.Error("Redis client not closed on shutdown")
	}
	if m.Mode() != types.ModeShuttingDown {
		t.Errorf("Expected shutting-down after shutdown, got %v", m.Mode())
	}
}

func TestStartPublishesModeChanges(t *testing.T) {
	l := logger.NewLogger(log.New(io.Discard, "", 0), logger.LogLevelNone)
	m, err := mission.New(l, 1, 1)
	if err != nil {
		t.Fatalf("Failed to build mission: %v", err)
	}

	link := &mockLink{}
	msg := &mockMessaging{}
	sys := NewFmuSystem(m, link, msg, &mockSensors{}, &mockControl{}, &mockEffectors{}, &mockConfig{}, l)

	if err := sys.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sys.Shutdown()

	if !msg.listening {
		t.Error("Listeners not started")
	}
	if len(msg.modes) == 0 || msg.modes[len(msg.modes)-1] != types.ModeRun {
		t.Errorf("Expected run mode published at startup, got %v", msg.modes)
	}
}
