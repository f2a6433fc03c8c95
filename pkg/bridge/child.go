// Package bridge owns the supervised bridge processes: the child handle,
// the process table, the launcher that turns a device event into an
// alsa_in/alsa_out invocation, and the restart-once reap pass.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// nextChildID hands out table keys. Keying the table on an internal id
// instead of the OS pid avoids stale lookups if the kernel recycles a pid
// between exit and reap.
var nextChildID atomic.Uint64

// Child is an owned handle for one supervised bridge process.
type Child struct {
	// ID is the internal table key, unique for the process lifetime.
	ID uint64
	// Name is the logical job name, e.g. bt_in_AA:BB:CC:DD:EE:FF.
	Name string
	// Cmdline is the space-joined command line, kept for restart and logs.
	Cmdline string
	// Restarts counts automatic restarts already spent on this job (0 or 1).
	Restarts int

	cmd   *exec.Cmd
	done  chan struct{}
	state *os.ProcessState
}

// StartChild starts argv as a supervised child in its own process group.
func StartChild(name string, argv []string) (*Child, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command line")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	c := &Child{
		ID:      nextChildID.Add(1),
		Name:    name,
		Cmdline: strings.Join(argv, " "),
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		c.state = cmd.ProcessState
		close(c.done)
	}()
	return c, nil
}

// Pid returns the OS process id.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return -1
	}
	return c.cmd.Process.Pid
}

// Done is closed once the process has exited and been waited on.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the process has exited.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Signal sends sig to the child process.
func (c *Child) Signal(sig os.Signal) error {
	if c.Exited() {
		return errors.New("process already exited")
	}
	return c.cmd.Process.Signal(sig)
}

// Stop terminates the child gracefully: SIGTERM, then wait up to grace, then
// SIGKILL to the whole process group. It returns true if the child exited
// within the grace period.
func (c *Child) Stop(ctx context.Context, grace time.Duration) bool {
	if c.Exited() {
		return true
	}
	c.cmd.Process.Signal(unix.SIGTERM)
	select {
	case <-c.done:
		return true
	case <-ctx.Done():
	case <-time.After(grace):
	}
	// Negative pid targets the process group set up at start.
	unix.Kill(-c.Pid(), unix.SIGKILL)
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return false
}

// ExitDescription describes how the child ended: normal exit with code,
// killed by signal, or some other status change.
func (c *Child) ExitDescription() string {
	if !c.Exited() || c.state == nil {
		return "still running"
	}
	ws, ok := c.state.Sys().(syscall.WaitStatus)
	if !ok {
		return c.state.String()
	}
	status := unix.WaitStatus(ws)
	switch {
	case status.Exited():
		return fmt.Sprintf("exit=%d", status.ExitStatus())
	case status.Signaled():
		return fmt.Sprintf("signal=%s", unix.SignalName(status.Signal()))
	default:
		return fmt.Sprintf("status=%d", status)
	}
}
