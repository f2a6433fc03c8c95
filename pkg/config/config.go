// Package config loads the autobridge configuration from the classic
// KEY=VALUE file at /etc/jack-bridge/bluetooth.conf.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/jack-bridge/bluetooth.conf"

// ProfileParams holds the audio parameters for one bridge profile.
type ProfileParams struct {
	Rate      int
	Period    int
	NPeriods  int
	Channels  int
	DriftComp bool
}

// Config is the daemon configuration. All fields have built-in defaults; a
// missing or unreadable config file leaves the defaults in effect.
type Config struct {
	A2DP ProfileParams
	SCO  ProfileParams

	SpawnDelay       time.Duration
	ChildTermTimeout time.Duration
	LogFile          string
	PidFile          string
	RuntimeUser      string
	MaxBridges       int

	JournalFile       string
	AutoconnectHelper string
	AutoconnectRules  string
	ProbeDisabled     bool
}

// Default returns the built-in configuration, matching the daemon's
// historical defaults.
func Default() Config {
	return Config{
		A2DP: ProfileParams{
			Rate:      48000,
			Period:    1024,
			NPeriods:  3,
			Channels:  2,
			DriftComp: true,
		},
		SCO: ProfileParams{
			Rate:     16000,
			Period:   256,
			NPeriods: 3,
			Channels: 1,
		},
		SpawnDelay:        0,
		ChildTermTimeout:  4 * time.Second,
		LogFile:           "/var/log/jack-bluealsa-autobridge.log",
		PidFile:           "/var/run/jack-bluealsa-autobridge.pid",
		RuntimeUser:       "jack",
		MaxBridges:        8,
		AutoconnectHelper: "/usr/lib/jack-bridge/jack-autoconnect",
	}
}

// Load reads the config file at path on top of the defaults. If the file
// cannot be opened, the defaults are returned together with the open error;
// callers log a warning and keep running.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		cfg.apply(key, value)
	}
	if err := scanner.Err(); err != nil {
		return Default(), fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// parseLine splits a config line into key and value. Blank lines, comments
// and lines without '=' are skipped.
func parseLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// apply overlays a single recognized key. Unknown keys and unparsable
// numeric values are ignored, keeping the key's previous value.
func (c *Config) apply(key, value string) {
	switch key {
	case "A2DP_RATE":
		setInt(&c.A2DP.Rate, value)
	case "A2DP_PERIOD":
		setInt(&c.A2DP.Period, value)
	case "A2DP_NPERIODS":
		setInt(&c.A2DP.NPeriods, value)
	case "A2DP_CHANNELS":
		setInt(&c.A2DP.Channels, value)
	case "A2DP_DRIFT_COMP":
		setBool(&c.A2DP.DriftComp, value)
	case "SCO_RATE":
		setInt(&c.SCO.Rate, value)
	case "SCO_PERIOD":
		setInt(&c.SCO.Period, value)
	case "SCO_NPERIODS":
		setInt(&c.SCO.NPeriods, value)
	case "SCO_CHANNELS":
		setInt(&c.SCO.Channels, value)
	case "SPAWN_DELAY":
		setSeconds(&c.SpawnDelay, value)
	case "CHILD_TERM_TIMEOUT":
		setSeconds(&c.ChildTermTimeout, value)
	case "LOG_FILE":
		c.LogFile = value
	case "PID_FILE":
		c.PidFile = value
	case "RUNTIME_USER":
		c.RuntimeUser = value
	case "MAX_BRIDGES":
		setInt(&c.MaxBridges, value)
	case "JOURNAL_FILE":
		c.JournalFile = value
	case "AUTOCONNECT_HELPER":
		c.AutoconnectHelper = value
	case "AUTOCONNECT_RULES":
		c.AutoconnectRules = value
	case "PROBE_DISABLE":
		setBool(&c.ProbeDisabled, value)
	}
}

func setInt(dst *int, value string) {
	if n, err := strconv.Atoi(value); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, value string) {
	if n, err := strconv.Atoi(value); err == nil {
		*dst = n != 0
	}
}

func setSeconds(dst *time.Duration, value string) {
	if n, err := strconv.Atoi(value); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}
