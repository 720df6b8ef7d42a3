package fsm

import "github.com/librescoot/librefsm"

// FMU modes
const (
	StateInit          librefsm.StateID = "init"
	StateRun           librefsm.StateID = "run"
	StateConfiguration librefsm.StateID = "configuration"
	StateShuttingDown  librefsm.StateID = "shutting-down"
)

// FMU events
const (
	// Internal lifecycle
	EvStartupComplete librefsm.EventID = "startup-complete"
	EvShutdown        librefsm.EventID = "shutdown"

	// External commands (from the SOC or Redis)
	EvRunCommand    librefsm.EventID = "run-command"
	EvConfigCommand librefsm.EventID = "config-command"
)
