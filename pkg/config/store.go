package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active configuration snapshot. Reload is all-or-nothing:
// a failed re-read leaves the previous snapshot fully intact.
type Store struct {
	path string

	mu      sync.RWMutex
	current Config
}

// NewStore loads path and returns the store. The returned error is non-fatal:
// on open failure the store starts with the defaults and the caller decides
// whether to warn.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	return &Store{path: path, current: cfg}, err
}

// Path returns the config file path the store reads from.
func (s *Store) Path() string { return s.path }

// Current returns the active configuration snapshot.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the config file. Only on success does the snapshot get
// replaced; on failure the previous config stays active and the error is
// returned for logging.
func (s *Store) Reload() (Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return cfg, nil
}

// Watch watches the config file's directory and invokes onChange (debounced)
// whenever the file is written, created or renamed. The watcher stops when
// ctx is cancelled. onChange must not reload directly; it should request a
// deferred reload on the daemon loop, same as SIGHUP.
func (s *Store) Watch(ctx context.Context, onChange func()) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	target := filepath.Base(s.path)

	var mu sync.Mutex
	var timer *time.Timer
	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(200*time.Millisecond, onChange)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}
