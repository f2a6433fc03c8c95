package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rations/jack-bridge/pkg/alsa"
	"github.com/rations/jack-bridge/pkg/config"
	"github.com/rations/jack-bridge/pkg/journal"
	"github.com/rations/jack-bridge/pkg/tap"
)

// Role is the kind of audio bridge a device needs.
type Role int

const (
	// RoleA2DPSink bridges audio flowing device -> host (alsa_in).
	RoleA2DPSink Role = iota
	// RoleA2DPSource bridges audio flowing host -> device (alsa_out).
	RoleA2DPSource
	// RoleSCO bridges telephony audio (mono, low rate).
	RoleSCO
)

func (r Role) String() string {
	switch r {
	case RoleA2DPSource:
		return "a2dp-source"
	case RoleSCO:
		return "sco"
	default:
		return "a2dp-sink"
	}
}

// JobName returns the logical job name for a device, e.g. bt_in_<MAC>.
func (r Role) JobName(addr string) string {
	switch r {
	case RoleA2DPSource:
		return "bt_out_" + addr
	case RoleSCO:
		return "bt_sco_" + addr
	default:
		return "bt_in_" + addr
	}
}

// Profile returns the BlueALSA profile qualifier for the device string.
func (r Role) Profile() string {
	if r == RoleSCO {
		return "sco"
	}
	return "a2dp"
}

// Direction returns the ALSA stream direction the bridge will open.
func (r Role) Direction() alsa.Direction {
	if r == RoleA2DPSource {
		return alsa.Playback
	}
	return alsa.Capture
}

// Binary returns the JACK glue executable for the role.
func (r Role) Binary() string {
	if r == RoleA2DPSource {
		return "alsa_out"
	}
	return "alsa_in"
}

// DeviceString builds the profile-qualified BlueALSA PCM device string.
func DeviceString(addr, profile string) string {
	return fmt.Sprintf("bluealsa:DEV=%s,PROFILE=%s", addr, profile)
}

// Launcher spawns and registers bridge children for device events.
type Launcher struct {
	Table  *Table
	Store  *config.Store
	Prober alsa.Prober
	Events journal.Recorder

	// BinDir, when set, resolves bridge binaries relative to a directory
	// instead of PATH. Tests point it at stub executables.
	BinDir string
}

// Launch starts a bridge of the given role for the device address. It is
// idempotent: if any bridge for the address is already registered, or the
// bridge limit is reached, or the ALSA probe says the PCM is busy, it logs
// and returns nil without spawning. All failures are non-fatal; the next
// device event retries.
func (l *Launcher) Launch(ctx context.Context, role Role, addr string) *Child {
	log := tap.Logger(ctx)
	cfg := l.Store.Current()

	if l.Table.HasDevice(addr) {
		log.Info("bridge already running for device, skipping spawn", "device", addr, "role", role.String())
		return nil
	}
	if cfg.MaxBridges > 0 && l.Table.Len() >= cfg.MaxBridges {
		log.Warn("bridge limit reached, skipping spawn", "device", addr, "limit", cfg.MaxBridges)
		return nil
	}

	if cfg.SpawnDelay > 0 {
		// Settle delay: give BlueALSA a moment to finish exporting the PCM.
		time.Sleep(cfg.SpawnDelay)
	}

	device := DeviceString(addr, role.Profile())
	if !cfg.ProbeDisabled && l.Prober != nil {
		if err := l.Prober.Available(ctx, device, role.Direction()); err != nil {
			log.Warn("ALSA PCM not available, skipping spawn", "device", device, "direction", role.Direction().String(), "error", err)
			return nil
		}
	}

	job := role.JobName(addr)
	argv := l.buildCommand(role, job, device, cfg)
	child, err := StartChild(job, argv)
	if err != nil {
		log.Error("failed to start bridge", "job", job, "error", err)
		return nil
	}
	l.Table.Add(child)
	log.Info("bridge spawned", "job", job, "pid", child.Pid(), "cmd", child.Cmdline)
	if l.Events != nil {
		l.Events.Record(ctx, journal.KindBridgeSpawned, addr, job, fmt.Sprintf("pid=%d", child.Pid()))
	}
	return child
}

func (l *Launcher) buildCommand(role Role, job, device string, cfg config.Config) []string {
	params := cfg.A2DP
	if role == RoleSCO {
		params = cfg.SCO
	}
	bin := role.Binary()
	if l.BinDir != "" {
		bin = filepath.Join(l.BinDir, bin)
	}
	return []string{
		bin,
		"-j", job,
		"-d", device,
		"-r", strconv.Itoa(params.Rate),
		"-p", strconv.Itoa(params.Period),
		"-n", strconv.Itoa(params.NPeriods),
		"-c", strconv.Itoa(params.Channels),
	}
}
