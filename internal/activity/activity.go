// Package activity keeps a journal of structural bundle operations.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scottdensmore/VirtualBuddy/internal/event"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Entry is one journaled operation.
type Entry struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	Op          string    `json:"op"`
	Source      string    `json:"source"`
	Target      string    `json:"target,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Recorder writes operation events into the activity table.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecorder creates a Recorder backed by db.
func NewRecorder(db *sql.DB, logger *slog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger.With("component", "activity"),
	}
}

// Attach subscribes the recorder to every operation event on bus.
func (r *Recorder) Attach(bus *event.Bus) {
	bus.Subscribe(r.handle, event.OperationTypes...)
}

func (r *Recorder) handle(e event.Event) {
	entry, ok := entryFromEvent(e)
	if !ok {
		r.logger.Warn("ignoring unexpected event", "type", string(e.Type))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Record(ctx, entry); err != nil {
		r.logger.Error("recording activity", "op", entry.Op, "error", err)
	}
}

func entryFromEvent(e event.Event) (Entry, bool) {
	str := func(key string) string {
		s, _ := e.Data[key].(string)
		return s
	}
	entry := Entry{
		OperationID: str("operation_id"),
		Source:      str("from"),
		Target:      str("to"),
		Status:      StatusOK,
		OccurredAt:  e.Timestamp,
	}
	switch e.Type {
	case event.BundleDuplicated:
		entry.Op = "duplicate"
	case event.BundleRenamed:
		entry.Op = "rename"
	case event.BundleTrashed:
		entry.Op = "trash"
	case event.OperationFailed:
		entry.Op = str("op")
		entry.Status = StatusFailed
		entry.Error = str("error")
	default:
		return Entry{}, false
	}
	return entry, true
}

// Record stores entry, assigning an ID and timestamp when missing.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity (id, operation_id, op, source, target, status, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OperationID, entry.Op, entry.Source, entry.Target,
		entry.Status, entry.Error, entry.OccurredAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (r *Recorder) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, operation_id, op, source, target, status, error, occurred_at
		FROM activity ORDER BY occurred_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.ID, &e.OperationID, &e.Op, &e.Source, &e.Target, &e.Status, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		e.OccurredAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parsing activity time %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than maxAge and returns how many were
// removed.
func (r *Recorder) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx, `DELETE FROM activity WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning activity: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Info("pruned activity", "removed", n)
	}
	return n, nil
}
