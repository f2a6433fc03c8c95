package daemon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rations/jack-bridge/pkg/bridge"
	"github.com/rations/jack-bridge/pkg/config"
	"github.com/rations/jack-bridge/pkg/discovery"
	"github.com/rations/jack-bridge/pkg/tap"
)

const testMAC = "AA:BB:CC:DD:EE:FF"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testDaemon builds a daemon around a real config file and stub bridge
// binaries, with no bus, journal or ALSA probe attached.
func testDaemon(t *testing.T, extraConfig string) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bluetooth.conf")
	content := "CHILD_TERM_TIMEOUT=1\nAUTOCONNECT_HELPER=\n" + extraConfig
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	store, err := config.NewStore(cfgPath)
	require.NoError(t, err)

	d := newDaemon(store, tap.NewSink(""), discardLogger())
	d.launcher.Prober = nil
	d.launcher.BinDir = stubBinDir(t)

	t.Cleanup(func() {
		for _, c := range d.table.Snapshot() {
			c.Signal(unix.SIGKILL)
		}
	})
	return d, cfgPath
}

// stubBinDir writes long-running alsa_in/alsa_out stand-ins.
func stubBinDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"alsa_in", "alsa_out"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755))
	}
	return dir
}

func addedEvent(role bridge.Role) discovery.DeviceEvent {
	return discovery.DeviceEvent{
		Kind: discovery.DeviceAdded,
		Path: "/org/bluealsa/hci0/dev_AA_BB_CC_DD_EE_FF/a2dpsrc/source",
		Addr: testMAC,
		Role: role,
	}
}

func TestRunSpawnsBridgeAndTerminates(t *testing.T) {
	d, _ := testDaemon(t, "")
	pidPath := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, writePidFile(pidPath))
	d.pidPath = pidPath

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.events <- addedEvent(bridge.RoleA2DPSink)
	require.Eventually(t, func() bool {
		return d.table.HasDevice(testMAC)
	}, 3*time.Second, 10*time.Millisecond)

	children := d.table.ForDevice(testMAC)
	require.Len(t, children, 1)
	assert.Equal(t, "bt_in_"+testMAC, children[0].Name)

	d.signals.RequestTerminate()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit after terminate request")
	}

	assert.Zero(t, d.table.Len())
	assert.Equal(t, StateStopped, d.State())
	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunDeviceRemovalTearsDownBridges(t *testing.T) {
	d, _ := testDaemon(t, "")

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.events <- addedEvent(bridge.RoleA2DPSink)
	require.Eventually(t, func() bool {
		return d.table.HasDevice(testMAC)
	}, 3*time.Second, 10*time.Millisecond)

	d.events <- discovery.DeviceEvent{
		Kind: discovery.DeviceRemoved,
		Path: "/org/bluealsa/hci0/dev_AA_BB_CC_DD_EE_FF/a2dpsrc/source",
		Addr: testMAC,
	}
	require.Eventually(t, func() bool {
		return !d.table.HasDevice(testMAC)
	}, 5*time.Second, 10*time.Millisecond)

	// Daemon keeps running after the device goes away.
	assert.Equal(t, StateRunning, d.State())

	d.signals.RequestTerminate()
	require.NoError(t, <-done)
}

func TestRunReloadKeepsChildrenRunning(t *testing.T) {
	d, cfgPath := testDaemon(t, "A2DP_PERIOD=1024\n")

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.events <- addedEvent(bridge.RoleA2DPSink)
	require.Eventually(t, func() bool {
		return d.table.HasDevice(testMAC)
	}, 3*time.Second, 10*time.Millisecond)
	before := d.table.ForDevice(testMAC)
	require.Len(t, before, 1)
	pid := before[0].Pid()

	content := "CHILD_TERM_TIMEOUT=1\nAUTOCONNECT_HELPER=\nA2DP_PERIOD=512\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	d.signals.RequestReload()

	require.Eventually(t, func() bool {
		return d.store.Current().A2DP.Period == 512
	}, 3*time.Second, 10*time.Millisecond)

	// Reload affects future spawns only; the running bridge is untouched.
	after := d.table.ForDevice(testMAC)
	require.Len(t, after, 1)
	assert.Equal(t, pid, after[0].Pid())
	assert.False(t, after[0].Exited())
	assert.Equal(t, StateRunning, d.State())

	d.signals.RequestTerminate()
	require.NoError(t, <-done)
}

func TestRunContextCancelShutsDown(t *testing.T) {
	d, _ := testDaemon(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.events <- addedEvent(bridge.RoleA2DPSource)
	require.Eventually(t, func() bool {
		return d.table.HasDevice(testMAC)
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit on context cancel")
	}
	assert.Zero(t, d.table.Len())
	assert.Equal(t, StateStopped, d.State())
}

func TestHandleReloadFailureKeepsConfig(t *testing.T) {
	d, cfgPath := testDaemon(t, "MAX_BRIDGES=3\n")
	require.Equal(t, 3, d.store.Current().MaxBridges)

	require.NoError(t, os.Remove(cfgPath))
	d.handleReload(tap.WithLogger(context.Background(), d.log))

	assert.Equal(t, 3, d.store.Current().MaxBridges)
}

func TestHandleReloadRewritesPidFile(t *testing.T) {
	d, cfgPath := testDaemon(t, "")
	dir := filepath.Dir(cfgPath)
	oldPid := filepath.Join(dir, "old.pid")
	newPid := filepath.Join(dir, "new.pid")
	require.NoError(t, writePidFile(oldPid))
	d.pidPath = oldPid

	content := "CHILD_TERM_TIMEOUT=1\nAUTOCONNECT_HELPER=\nPID_FILE=" + newPid + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	d.handleReload(tap.WithLogger(context.Background(), d.log))

	_, err := os.Stat(oldPid)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPid)
	assert.NoError(t, err)
	assert.Equal(t, newPid, d.pidPath)
}

func TestLifecycleTransitions(t *testing.T) {
	sm := newLifecycle(discardLogger())
	require.Equal(t, StateRunning, sm.MustState())

	require.NoError(t, sm.Fire(triggerReload))
	require.Equal(t, StateReloadPending, sm.MustState())
	require.NoError(t, sm.Fire(triggerReloaded))
	require.Equal(t, StateRunning, sm.MustState())

	require.NoError(t, sm.Fire(triggerTerminate))
	require.Equal(t, StateTerminating, sm.MustState())
	require.NoError(t, sm.Fire(triggerStopped))
	require.Equal(t, StateStopped, sm.MustState())

	assert.Error(t, sm.Fire(triggerReload))
}

func TestLifecycleTerminateWinsDuringReload(t *testing.T) {
	sm := newLifecycle(discardLogger())
	require.NoError(t, sm.Fire(triggerReload))
	require.NoError(t, sm.Fire(triggerTerminate))
	assert.Equal(t, StateTerminating, sm.MustState())
}
