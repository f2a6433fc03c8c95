// Package daemon wires the autobridge together: config store, discovery
// listener, bridge launcher, reaper cadence and signal handling, all driven
// by one event loop that owns every piece of mutable state.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/qmuntal/stateless"
	"golang.org/x/sync/errgroup"

	"github.com/rations/jack-bridge/pkg/alsa"
	"github.com/rations/jack-bridge/pkg/bridge"
	"github.com/rations/jack-bridge/pkg/config"
	"github.com/rations/jack-bridge/pkg/discovery"
	"github.com/rations/jack-bridge/pkg/jackconnect"
	"github.com/rations/jack-bridge/pkg/journal"
	"github.com/rations/jack-bridge/pkg/tap"
)

// Options configures daemon startup.
type Options struct {
	// ConfigPath is the KEY=VALUE config file; defaults to config.DefaultPath.
	ConfigPath string
	// LogLevel for the daemon logger.
	LogLevel slog.Level
}

// Daemon is the autobridge supervisor.
type Daemon struct {
	store    *config.Store
	sink     *tap.Sink
	log      *slog.Logger
	table    *bridge.Table
	launcher *bridge.Launcher
	signals  *SignalController
	machine  *stateless.StateMachine
	events   chan discovery.DeviceEvent

	conn     *dbus.Conn
	listener *discovery.Listener
	journal  *journal.Journal

	pidPath   string
	reapEvery time.Duration
}

// newDaemon assembles the loop-owned pieces. Bus, listener and journal are
// attached by New; tests drive the loop without them.
func newDaemon(store *config.Store, sink *tap.Sink, log *slog.Logger) *Daemon {
	table := bridge.NewTable()
	return &Daemon{
		store: store,
		sink:  sink,
		log:   log,
		table: table,
		launcher: &bridge.Launcher{
			Table:  table,
			Store:  store,
			Prober: alsa.ExecProber{},
		},
		signals:   NewSignalController(),
		machine:   newLifecycle(log),
		events:    make(chan discovery.DeviceEvent, 16),
		reapEvery: time.Second,
	}
}

// New loads the configuration, opens logging, writes the pid file, opens the
// journal and connects to the system bus. Only the bus connection is fatal:
// the daemon cannot function without it.
func New(opts Options) (*Daemon, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	store, loadErr := config.NewStore(path)
	cfg := store.Current()

	sink := tap.NewSink(cfg.LogFile)
	log := tap.New(sink, opts.LogLevel)
	d := newDaemon(store, sink, log)
	ctx := tap.WithLogger(context.Background(), log)

	log.Info("jack-bluealsa-autobridge starting", "pid", os.Getpid(), "config", path, "runtime_user", cfg.RuntimeUser)
	if loadErr != nil {
		log.Warn("could not read config file, continuing with defaults", "error", loadErr)
	}

	if err := writePidFile(cfg.PidFile); err != nil {
		log.Warn("could not write pid file", "path", cfg.PidFile, "error", err)
	} else {
		d.pidPath = cfg.PidFile
	}

	if cfg.JournalFile != "" {
		j, err := journal.Open(cfg.JournalFile)
		if err != nil {
			log.Warn("journal disabled", "path", cfg.JournalFile, "error", err)
		} else {
			d.journal = j
			d.launcher.Events = j
		}
	}

	conn, err := dbus.ConnectSystemBus(dbus.WithSignalHandler(dbus.NewSequentialSignalHandler()))
	if err != nil {
		if d.pidPath != "" {
			removePidFile(d.pidPath)
		}
		d.journal.Close()
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	d.conn = conn

	d.listener = discovery.NewListener(conn, d.events)
	if err := d.listener.Subscribe(ctx); err != nil {
		log.Warn("could not subscribe to ObjectManager signals, device discovery degraded", "error", err)
	}
	return d, nil
}

// Run drives the event loop until a termination request or context cancel,
// then performs bounded graceful shutdown. It returns nil on clean exit.
func (d *Daemon) Run(ctx context.Context) error {
	ctx = tap.WithLogger(ctx, d.log)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.listener != nil {
		go d.listener.Run(runCtx)
	}
	if _, err := d.store.Watch(runCtx, d.signals.RequestReload); err != nil {
		d.log.Warn("config file watch unavailable, reload via SIGHUP only", "error", err)
	}
	d.signals.Start()
	defer d.signals.Stop()

	reap := time.NewTicker(d.reapEvery)
	defer reap.Stop()

	d.log.Info("entering main loop")
	for {
		select {
		case <-ctx.Done():
			d.fire(triggerTerminate)
			d.shutdown(ctx)
			d.fire(triggerStopped)
			return nil
		case ev := <-d.events:
			d.handleDevice(ctx, ev)
		case <-d.signals.ReloadRequests():
			d.fire(triggerReload)
			d.handleReload(ctx)
			d.fire(triggerReloaded)
		case <-d.signals.TerminateRequests():
			d.fire(triggerTerminate)
			d.shutdown(ctx)
			d.fire(triggerStopped)
			return nil
		case <-reap.C:
			d.launcher.ReapPass(ctx)
		}
	}
}

func (d *Daemon) fire(trigger string) {
	if err := d.machine.Fire(trigger); err != nil {
		d.log.Debug("lifecycle trigger rejected", "trigger", trigger, "error", err)
	}
}

// State returns the current lifecycle state.
func (d *Daemon) State() string {
	return d.machine.MustState().(string)
}

func (d *Daemon) handleDevice(ctx context.Context, ev discovery.DeviceEvent) {
	switch ev.Kind {
	case discovery.DeviceAdded:
		d.journal.Record(ctx, journal.KindDeviceAdded, ev.Addr, "", "path="+string(ev.Path))
		child := d.launcher.Launch(ctx, ev.Role, ev.Addr)
		if child == nil {
			return
		}
		cfg := d.store.Current()
		helper := &jackconnect.Helper{Path: cfg.AutoconnectHelper, RulesPath: cfg.AutoconnectRules}
		if hc := helper.Trigger(ctx); hc != nil {
			d.table.Add(hc)
		}
	case discovery.DeviceRemoved:
		d.journal.Record(ctx, journal.KindDeviceRemoved, ev.Addr, "", "path="+string(ev.Path))
		d.removeDevice(ctx, ev.Addr)
	}
}

// removeDevice terminates every child whose job name embeds the address,
// gracefully then forcibly, and drops them from the table.
func (d *Daemon) removeDevice(ctx context.Context, addr string) {
	children := d.table.ForDevice(addr)
	if len(children) == 0 {
		return
	}
	grace := d.store.Current().ChildTermTimeout
	log := tap.Logger(ctx)

	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			if !c.Stop(ctx, grace) {
				log.Warn("child ignored graceful termination, killed", "job", c.Name, "pid", c.Pid())
			}
			return nil
		})
	}
	g.Wait()
	for _, c := range children {
		d.table.Remove(c.ID)
	}
	log.Info("device bridges torn down", "device", addr, "count", len(children))
}

// handleReload re-reads the config on the loop thread. A failed re-read
// keeps the previous config fully intact.
func (d *Daemon) handleReload(ctx context.Context) {
	log := tap.Logger(ctx)
	old := d.store.Current()
	cfg, err := d.store.Reload()
	if err != nil {
		log.Warn("config reload failed, keeping previous configuration", "error", err)
		return
	}
	if cfg.LogFile != old.LogFile {
		if err := d.sink.Reopen(cfg.LogFile); err != nil {
			log.Warn("could not reopen log file", "path", cfg.LogFile, "error", err)
		}
	}
	if cfg.PidFile != old.PidFile && d.pidPath != "" {
		removePidFile(d.pidPath)
		if err := writePidFile(cfg.PidFile); err != nil {
			log.Warn("could not write pid file", "path", cfg.PidFile, "error", err)
			d.pidPath = ""
		} else {
			d.pidPath = cfg.PidFile
		}
	}
	d.journal.Record(ctx, journal.KindConfigReloaded, "", "", "path="+d.store.Path())
	log.Info("configuration reloaded", "path", d.store.Path())
}

// shutdown performs bounded graceful termination of all children, releases
// the bus and the journal, and removes the pid file.
func (d *Daemon) shutdown(ctx context.Context) {
	log := tap.Logger(ctx)
	children := d.table.Snapshot()
	log.Info("shutdown requested, terminating children", "count", len(children))

	grace := d.store.Current().ChildTermTimeout
	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			if !c.Stop(context.Background(), grace) {
				log.Warn("child ignored graceful termination, killed", "job", c.Name, "pid", c.Pid())
			}
			d.table.Remove(c.ID)
			return nil
		})
	}
	g.Wait()

	if d.listener != nil {
		d.listener.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
	d.journal.Close()
	if d.pidPath != "" {
		removePidFile(d.pidPath)
	}
	log.Info("exiting")
}
