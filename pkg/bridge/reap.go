package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/rations/jack-bridge/pkg/journal"
	"github.com/rations/jack-bridge/pkg/tap"
)

// ReapPass scans the table for exited children, logs how each one ended and
// applies the restart-once policy: a job is restarted at most once across
// its lifetime, which survives a single transient failure (momentary ALSA
// contention) without turning a gone-for-good device into a restart storm.
//
// The daemon calls this on a fixed one-second cadence, so an exit is
// observed with at most one period of latency.
func (l *Launcher) ReapPass(ctx context.Context) {
	log := tap.Logger(ctx)
	for _, c := range l.Table.Snapshot() {
		if !c.Exited() {
			continue
		}
		status := c.ExitDescription()
		log.Info("child exited", "job", c.Name, "pid", c.Pid(), "status", status, "cmd", c.Cmdline)
		if l.Events != nil {
			l.Events.Record(ctx, journal.KindBridgeExited, "", c.Name, status)
		}

		// The old entry goes away regardless of restart outcome.
		l.Table.Remove(c.ID)

		if c.Restarts >= 1 {
			log.Info("not restarting, already restarted once", "job", c.Name)
			continue
		}

		argv := strings.Fields(c.Cmdline)
		replacement, err := StartChild(c.Name, argv)
		if err != nil {
			log.Warn("automatic restart failed", "job", c.Name, "error", err)
			continue
		}
		replacement.Restarts = c.Restarts + 1
		l.Table.Add(replacement)
		log.Info("restarted child", "job", c.Name, "pid", replacement.Pid())
		if l.Events != nil {
			l.Events.Record(ctx, journal.KindBridgeRestarted, "", c.Name, fmt.Sprintf("pid=%d", replacement.Pid()))
		}
	}
}
