package daemon

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func receiveWithin(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for request")
	}
}

func TestRequestsCoalesce(t *testing.T) {
	s := NewSignalController()
	s.RequestReload()
	s.RequestReload()
	s.RequestReload()

	receiveWithin(t, s.ReloadRequests(), time.Second)
	select {
	case <-s.ReloadRequests():
		t.Fatal("duplicate reload requests should coalesce into one")
	default:
	}
}

func TestReloadAndTerminateAreIndependent(t *testing.T) {
	s := NewSignalController()
	s.RequestTerminate()
	s.RequestReload()

	receiveWithin(t, s.ReloadRequests(), time.Second)
	receiveWithin(t, s.TerminateRequests(), time.Second)
}

func TestSignalsMapToRequests(t *testing.T) {
	s := NewSignalController()
	s.Start()
	defer s.Stop()

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGHUP))
	receiveWithin(t, s.ReloadRequests(), 2*time.Second)

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGTERM))
	receiveWithin(t, s.TerminateRequests(), 2*time.Second)

	select {
	case <-s.ReloadRequests():
		t.Fatal("SIGTERM must not post a reload request")
	default:
	}
	assert.NotNil(t, s.sigCh)
}
