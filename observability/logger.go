// Package observability records snapshot lifecycle events in SQLite so the
// store's history (captures, restores, evictions, clears) can be inspected
// after the fact. Event writes never block or fail the operation that
// produced them.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/basicsharp/chrome-dom-snap/idgen"
)

// Event types recorded by the snapshot lifecycle.
const (
	EventCaptured     = "snapshot_captured"
	EventRestored     = "snapshot_restored"
	EventDeleted      = "snapshot_deleted"
	EventRenamed      = "snapshot_renamed"
	EventGroupCleared = "group_cleared"
	EventStoreCleared = "store_cleared"
	EventEvicted      = "eviction"
)

// Event is one snapshot lifecycle event to record.
type Event struct {
	Type       string
	URLKey     string
	SnapshotID string
	Detail     string // optional, human-readable
	Success    bool
}

// EventLogger writes lifecycle events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given database. The schema
// must already be applied (Init).
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records an event. Non-blocking: errors are logged via slog but do not
// propagate, so a failing event store never blocks snapshot operations.
func (l *EventLogger) Log(ctx context.Context, event Event) {
	success := 0
	if event.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO snapshot_event_logs
			(event_id, event_type, url_key, snapshot_id, detail, success, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		l.newID(), event.Type, event.URLKey, event.SnapshotID, event.Detail,
		success, time.Now().Unix())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", event.Type)
	}
}

// Cleanup deletes events older than the given number of days. Zero or
// negative days means no cleanup.
func Cleanup(ctx context.Context, db *sql.DB, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(days*86400)
	if _, err := db.ExecContext(ctx,
		`DELETE FROM snapshot_event_logs WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("observability: cleanup: %w", err)
	}
	return nil
}
