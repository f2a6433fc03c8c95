// Package jackconnect triggers the external JACK auto-connect helper after
// a bridge comes up, so the bridge's freshly created ports get routed. The
// helper owns the connection heuristic; this package only launches it.
package jackconnect

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rations/jack-bridge/pkg/bridge"
	"github.com/rations/jack-bridge/pkg/tap"
)

// JobName is the supervised-child name the helper runs under. It carries no
// device address, so it never blocks a device launch.
const JobName = "jack-autoconnect"

// PortPair names a capture/playback port pattern to connect.
type PortPair struct {
	Capture  string `yaml:"capture"`
	Playback string `yaml:"playback"`
}

// Rules is the optional routing-rules file handed to the helper: port
// patterns per bridge role.
type Rules struct {
	Roles map[string][]PortPair `yaml:"roles"`
}

// LoadRules parses a YAML rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return &rules, nil
}

// Helper invokes the auto-connect binary.
type Helper struct {
	// Path is the helper executable.
	Path string
	// RulesPath, when set, is validated and passed via --rules.
	RulesPath string
}

// Trigger starts the helper as a supervised child so the reaper observes
// and logs its exit. Best-effort: a start failure is logged, never fatal.
func (h *Helper) Trigger(ctx context.Context) *bridge.Child {
	if h.Path == "" {
		return nil
	}
	argv := []string{h.Path}
	if h.RulesPath != "" {
		if _, err := LoadRules(h.RulesPath); err != nil {
			tap.Logger(ctx).Warn("ignoring unreadable autoconnect rules", "path", h.RulesPath, "error", err)
		} else {
			argv = append(argv, "--rules", h.RulesPath)
		}
	}
	child, err := bridge.StartChild(JobName, argv)
	if err != nil {
		tap.Logger(ctx).Warn("failed to start jack-autoconnect helper", "path", h.Path, "error", err)
		return nil
	}
	tap.Logger(ctx).Info("triggered jack-autoconnect", "pid", child.Pid())
	return child
}
