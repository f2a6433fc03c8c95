package daemon

import (
	"context"
	"log/slog"

	"github.com/qmuntal/stateless"
)

// Daemon lifecycle states.
const (
	StateRunning       = "Running"
	StateReloadPending = "ReloadPending"
	StateTerminating   = "Terminating"
	StateStopped       = "Stopped"
)

const (
	triggerReload    = "reload"
	triggerReloaded  = "reloaded"
	triggerTerminate = "terminate"
	triggerStopped   = "stopped"
)

// newLifecycle builds the daemon state machine:
//
//	Running -> ReloadPending -> Running
//	Running | ReloadPending -> Terminating -> Stopped
func newLifecycle(log *slog.Logger) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateRunning)

	sm.Configure(StateRunning).
		Permit(triggerReload, StateReloadPending).
		Permit(triggerTerminate, StateTerminating)

	sm.Configure(StateReloadPending).
		Permit(triggerReloaded, StateRunning).
		Permit(triggerTerminate, StateTerminating)

	sm.Configure(StateTerminating).
		Permit(triggerStopped, StateStopped)

	sm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		log.Debug("lifecycle transition", "from", tr.Source, "to", tr.Destination, "trigger", tr.Trigger)
	})
	return sm
}
