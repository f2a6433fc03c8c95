package daemon

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// SignalController translates OS signals into deferred, loop-safe requests.
// SIGHUP requests a config reload, SIGINT/SIGTERM request termination. The
// signal path does nothing but post to a single-buffered channel: duplicate
// deliveries coalesce, and all actual work happens on the daemon loop.
type SignalController struct {
	reload    chan struct{}
	terminate chan struct{}

	sigCh chan os.Signal
	quit  chan struct{}
}

// NewSignalController returns a controller; Start installs the handlers.
func NewSignalController() *SignalController {
	return &SignalController{
		reload:    make(chan struct{}, 1),
		terminate: make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}
}

// Start installs the OS signal handlers.
func (s *SignalController) Start() {
	s.sigCh = make(chan os.Signal, 4)
	signal.Notify(s.sigCh, unix.SIGHUP, unix.SIGINT, unix.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-s.sigCh:
				if sig == unix.SIGHUP {
					s.RequestReload()
				} else {
					s.RequestTerminate()
				}
			case <-s.quit:
				return
			}
		}
	}()
}

// Stop uninstalls the handlers.
func (s *SignalController) Stop() {
	if s.sigCh != nil {
		signal.Stop(s.sigCh)
	}
	close(s.quit)
}

// RequestReload posts a reload request. Safe from any goroutine; requests
// already pending coalesce.
func (s *SignalController) RequestReload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// RequestTerminate posts a termination request.
func (s *SignalController) RequestTerminate() {
	select {
	case s.terminate <- struct{}{}:
	default:
	}
}

// ReloadRequests is the loop-side receive channel for reload requests.
func (s *SignalController) ReloadRequests() <-chan struct{} { return s.reload }

// TerminateRequests is the loop-side receive channel for termination.
func (s *SignalController) TerminateRequests() <-chan struct{} { return s.terminate }
