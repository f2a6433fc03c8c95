// Package journal persists a queryable trail of bridge lifecycle events in
// a sqlite database. The journal is strictly diagnostic: every failure is
// logged and disables further writes, never the daemon.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rations/jack-bridge/pkg/tap"
)

// Event kinds recorded by the daemon.
const (
	KindDeviceAdded     = "device_added"
	KindDeviceRemoved   = "device_removed"
	KindBridgeSpawned   = "bridge_spawned"
	KindBridgeExited    = "bridge_exited"
	KindBridgeRestarted = "bridge_restarted"
	KindConfigReloaded  = "config_reloaded"
)

// Recorder is the write side of the journal. A nil *Journal satisfies it as
// a no-op, so components can record unconditionally.
type Recorder interface {
	Record(ctx context.Context, kind, device, job, detail string)
}

// Event is one journal row.
type Event struct {
	ID     int64
	Time   time.Time
	Kind   string
	Device string
	Job    string
	Detail string
}

// Journal is an append-only sqlite event log.
type Journal struct {
	mu       sync.Mutex
	db       *sql.DB
	disabled bool
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts     TEXT NOT NULL,
	kind   TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	job    TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_device ON events(device);
`

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one event. A nil journal is a no-op. An insert failure is
// logged once and disables the journal for the rest of the process.
func (j *Journal) Record(ctx context.Context, kind, device, job, detail string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.disabled {
		return
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, device, job, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), kind, device, job, detail)
	if err != nil {
		j.disabled = true
		tap.Logger(ctx).Warn("journal write failed, disabling journal", "error", err)
	}
}

// Recent returns the n newest events, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, kind, device, job, detail FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.ID, &ts, &ev.Kind, &ev.Device, &ev.Job, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		ev.Time, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
