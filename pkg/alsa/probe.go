// Package alsa probes whether a BlueALSA PCM device can currently be
// opened. The probe is a best-effort heuristic against racing another ALSA
// client, never a lock: a device that probes available can still be taken
// by someone else before the bridge process opens it for real. Duplicate
// prevention by job name remains the primary safeguard.
package alsa

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Direction is the PCM stream direction being probed.
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) String() string {
	if d == Playback {
		return "playback"
	}
	return "capture"
}

// Prober reports whether an ALSA device can be opened in the given
// direction. A nil error means the device looks available.
type Prober interface {
	Available(ctx context.Context, device string, dir Direction) error
}

// ExecProber checks availability by asking arecord/aplay to open the device
// and dump its hardware parameters. The call is bounded by Timeout so a
// wedged BlueALSA endpoint cannot stall the event loop.
type ExecProber struct {
	Timeout time.Duration
}

func (p ExecProber) Available(ctx context.Context, device string, dir Direction) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tool := "arecord"
	if dir == Playback {
		tool = "aplay"
	}
	cmd := exec.CommandContext(ctx, tool, "-D", device, "--dump-hw-params", "-d", "1", "/dev/null")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s cannot open %s: %w (%s)", tool, device, err, firstLine(out))
	}
	return nil
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
