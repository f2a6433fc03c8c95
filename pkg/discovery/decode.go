package discovery

import (
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/rations/jack-bridge/pkg/bridge"
)

// PCMProperties is the typed decode of an org.bluealsa.PCM1 property
// dictionary. Only the fields the role decision needs are kept; everything
// else in the variant map is ignored at the boundary.
type PCMProperties struct {
	Profile   string
	Direction string
	Type      string
}

// Empty reports whether no usable property was found.
func (p PCMProperties) Empty() bool {
	return p.Profile == "" && p.Direction == "" && p.Type == ""
}

// parsePCMProperties decodes the variant dictionary once. BlueALSA has
// shipped the direction under both "Direction" and "Mode", and the profile
// under both "Profile" and "Transport", depending on version; all are
// accepted.
func parsePCMProperties(props map[string]dbus.Variant) PCMProperties {
	var p PCMProperties
	str := func(key string) string {
		if v, ok := props[key]; ok {
			if s, ok := v.Value().(string); ok {
				return s
			}
		}
		return ""
	}
	p.Profile = str("Profile")
	if p.Profile == "" {
		p.Profile = str("Transport")
	}
	p.Direction = str("Direction")
	if p.Direction == "" {
		p.Direction = str("Mode")
	}
	p.Type = str("Type")
	return p
}

// AddrFromObjectPath derives the device address from a BlueALSA object path
// like /org/bluealsa/hci0/dev_AA_BB_CC_DD_EE_FF/a2dpsrc: the segment after
// "dev_", underscores mapped to colons. Paths without a dev_ segment fall
// back to the last path segment.
func AddrFromObjectPath(path dbus.ObjectPath) string {
	s := string(path)
	if i := strings.Index(s, "/dev_"); i >= 0 {
		seg := s[i+len("/dev_"):]
		if j := strings.IndexByte(seg, '/'); j >= 0 {
			seg = seg[:j]
		}
		return strings.ReplaceAll(seg, "_", ":")
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 && i+1 < len(s) {
		return strings.ReplaceAll(s[i+1:], "_", ":")
	}
	return ""
}

// roleForDevice picks the bridge role from the PCM properties, falling back
// to a path-substring heuristic when the properties say nothing:
//
//   - a2dp profile, remote is the source (phone -> host): A2DP sink bridge
//   - a2dp profile, remote is the sink (host -> headset): A2DP source bridge
//   - a2dp with no direction: sink, the common phone-to-host case
//   - sco/hfp/hsp anywhere: telephony bridge
//   - otherwise: "sco" in the object path means telephony, else A2DP sink
func roleForDevice(props PCMProperties, path dbus.ObjectPath) bridge.Role {
	profile := strings.ToLower(props.Profile)
	direction := strings.ToLower(props.Direction)
	pcmType := strings.ToLower(props.Type)

	if strings.Contains(profile, "a2dp") {
		if direction == "sink" {
			return bridge.RoleA2DPSource
		}
		return bridge.RoleA2DPSink
	}
	if containsAny(profile, "sco", "hfp", "hsp") || containsAny(pcmType, "sco", "hfp", "hsp") {
		return bridge.RoleSCO
	}
	if strings.Contains(strings.ToLower(string(path)), "sco") {
		return bridge.RoleSCO
	}
	return bridge.RoleA2DPSink
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
