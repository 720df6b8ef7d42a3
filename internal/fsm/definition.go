package fsm

import "github.com/librescoot/librefsm"

// NewDefinition creates the FMU mode machine definition.
// The actions parameter provides the implementation for mode entry behavior.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateInit).
		State(StateRun,
			librefsm.WithOnEnter(actions.EnterRun),
		).
		State(StateConfiguration,
			librefsm.WithOnEnter(actions.EnterConfiguration),
		).
		State(StateShuttingDown,
			librefsm.WithOnEnter(actions.EnterShuttingDown),
		).

		// From Init: straight into Run once startup finishes, unless a
		// configuration command arrived during boot.
		Transition(StateInit, EvStartupComplete, StateRun).
		Transition(StateInit, EvConfigCommand, StateConfiguration).

		// Run and Configuration toggle on SOC command.
		Transition(StateRun, EvConfigCommand, StateConfiguration).
		Transition(StateConfiguration, EvRunCommand, StateRun).

		// Shutdown is reachable from either operating mode.
		Transition(StateRun, EvShutdown, StateShuttingDown).
		Transition(StateConfiguration, EvShutdown, StateShuttingDown).

		// Initial state
		Initial(StateInit)
}
