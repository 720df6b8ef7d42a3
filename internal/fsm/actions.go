package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for mode machine entry actions.
// Mission implements this interface to react to mode changes.
type Actions interface {
	EnterRun(c *librefsm.Context) error
	EnterConfiguration(c *librefsm.Context) error
	EnterShuttingDown(c *librefsm.Context) error
}
