// Package discovery watches the system D-Bus for BlueALSA PCM endpoints
// appearing and disappearing, and turns ObjectManager traffic into typed
// device events for the daemon loop.
package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rations/jack-bridge/pkg/bridge"
	"github.com/rations/jack-bridge/pkg/tap"
)

const (
	// PCMInterface is the BlueALSA PCM endpoint interface.
	PCMInterface = "org.bluealsa.PCM1"

	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	interfacesAdded        = objectManagerInterface + ".InterfacesAdded"
	interfacesRemoved      = objectManagerInterface + ".InterfacesRemoved"
	propertiesInterface    = "org.freedesktop.DBus.Properties"
)

// EventKind distinguishes device arrival from departure.
type EventKind int

const (
	DeviceAdded EventKind = iota
	DeviceRemoved
)

// DeviceEvent is the decoded outcome of one ObjectManager signal. It is
// transient: the daemon acts on it and discards it.
type DeviceEvent struct {
	Kind EventKind
	Path dbus.ObjectPath
	Addr string
	Role bridge.Role
}

// Listener subscribes to ObjectManager signals system-wide. The sender is
// deliberately unconstrained: BlueALSA's bus name varies by distribution.
type Listener struct {
	conn    *dbus.Conn
	events  chan<- DeviceEvent
	signals chan *dbus.Signal

	queryTimeout time.Duration
	// queryProps is swappable so tests can run without a bus.
	queryProps func(ctx context.Context, sender string, path dbus.ObjectPath) (PCMProperties, error)
}

// NewListener builds a listener that emits decoded events into events.
func NewListener(conn *dbus.Conn, events chan<- DeviceEvent) *Listener {
	l := &Listener{
		conn:         conn,
		events:       events,
		queryTimeout: 2 * time.Second,
	}
	l.queryProps = l.getAll
	return l
}

// Subscribe installs the ObjectManager match rules and starts receiving
// signals. A failure on InterfacesAdded is returned (the daemon is blind
// without it); a failure on InterfacesRemoved is logged and tolerated with
// reduced visibility.
func (l *Listener) Subscribe(ctx context.Context) error {
	if err := l.conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManagerInterface),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		return err
	}
	if err := l.conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManagerInterface),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		tap.Logger(ctx).Warn("could not subscribe to InterfacesRemoved, device removal will not be observed", "error", err)
	}
	l.signals = make(chan *dbus.Signal, 32)
	l.conn.Signal(l.signals)
	tap.Logger(ctx).Info("subscribed to ObjectManager InterfacesAdded/InterfacesRemoved")
	return nil
}

// Run decodes signals until ctx is cancelled or the signal channel closes.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-l.signals:
			if !ok {
				return
			}
			l.handleSignal(ctx, sig)
		}
	}
}

// Close removes the match rules and detaches the signal channel.
func (l *Listener) Close() {
	l.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(objectManagerInterface),
		dbus.WithMatchMember("InterfacesAdded"),
	)
	l.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(objectManagerInterface),
		dbus.WithMatchMember("InterfacesRemoved"),
	)
	if l.signals != nil {
		l.conn.RemoveSignal(l.signals)
	}
}

func (l *Listener) handleSignal(ctx context.Context, sig *dbus.Signal) {
	switch sig.Name {
	case interfacesAdded:
		l.handleAdded(ctx, sig)
	case interfacesRemoved:
		l.handleRemoved(ctx, sig)
	}
}

func (l *Listener) handleAdded(ctx context.Context, sig *dbus.Signal) {
	log := tap.Logger(ctx)
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	inline, isPCM := ifaces[PCMInterface]
	if !isPCM {
		return
	}
	addr := AddrFromObjectPath(path)
	if addr == "" {
		log.Warn("could not extract device address from object path", "path", path)
		return
	}
	log.Info("PCM endpoint added", "path", path, "device", addr)

	// The signal body usually carries the PCM properties already; fall back
	// to a bounded GetAll, and past that to the path heuristic.
	props := parsePCMProperties(inline)
	if props.Empty() {
		queried, err := l.queryProps(ctx, sig.Sender, path)
		if err != nil {
			log.Warn("property query failed, falling back to path heuristic", "path", path, "error", err)
		} else {
			props = queried
		}
	}
	role := roleForDevice(props, path)
	log.Info("decided bridge role", "device", addr, "role", role.String(),
		"profile", props.Profile, "direction", props.Direction, "type", props.Type)

	l.emit(ctx, DeviceEvent{Kind: DeviceAdded, Path: path, Addr: addr, Role: role})
}

func (l *Listener) handleRemoved(ctx context.Context, sig *dbus.Signal) {
	if len(sig.Body) < 1 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	// Only react when the removal names the PCM interface or the path is a
	// BlueALSA device path; other ObjectManager traffic is none of our
	// business.
	relevant := strings.Contains(string(path), "dev_")
	if len(sig.Body) >= 2 {
		if names, ok := sig.Body[1].([]string); ok {
			for _, name := range names {
				if name == PCMInterface {
					relevant = true
				}
			}
		}
	}
	if !relevant {
		return
	}
	addr := AddrFromObjectPath(path)
	if addr == "" {
		tap.Logger(ctx).Warn("could not extract device address from removed object path", "path", path)
		return
	}
	tap.Logger(ctx).Info("PCM endpoint removed", "path", path, "device", addr)
	l.emit(ctx, DeviceEvent{Kind: DeviceRemoved, Path: path, Addr: addr})
}

func (l *Listener) emit(ctx context.Context, ev DeviceEvent) {
	select {
	case l.events <- ev:
	case <-ctx.Done():
	}
}

func (l *Listener) getAll(ctx context.Context, sender string, path dbus.ObjectPath) (PCMProperties, error) {
	ctx, cancel := context.WithTimeout(ctx, l.queryTimeout)
	defer cancel()
	var props map[string]dbus.Variant
	obj := l.conn.Object(sender, path)
	if err := obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, PCMInterface).Store(&props); err != nil {
		return PCMProperties{}, err
	}
	return parsePCMProperties(props), nil
}
