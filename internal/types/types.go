package types

// Mode is the FMU operating mode. It is mutated only by the mission
// scheduler; everything else reads it.
type Mode string

const (
	ModeInit          Mode = "init"
	ModeConfiguration Mode = "configuration"
	ModeRun           Mode = "run"
	ModeShuttingDown  Mode = "shutting-down"
)

// State names one of the per-iteration flight phases evaluated while the
// mode is Run. More than one state may fire in a single iteration.
type State string

const (
	StateSyncDataCollection  State = "sync-data-collection"
	StateAsyncDataCollection State = "async-data-collection"
	StateFlightControl       State = "flight-control"
	StateEffectorOutput      State = "effector-output"
)
