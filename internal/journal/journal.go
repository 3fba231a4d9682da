// Package journal persists device connection transitions to SQLite so the
// history of link outages survives restarts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names stored in the event column.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// List limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout sorts lexicographically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidEntry is returned by Record for entries missing required fields.
var ErrInvalidEntry = errors.New("journal: invalid entry")

// Entry is one recorded transition.
type Entry struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Event     string    `json:"event"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Device string // optional
	Limit  int    // default 50, max 200
}

// Repository stores and lists journal entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// SQLiteRepository keeps entries in the connection_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db. The schema must already
// be migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Device == "" {
		return fmt.Errorf("%w: device is required", ErrInvalidEntry)
	}
	switch e.Event {
	case EventConnected, EventDisconnected, EventError:
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEntry, e.Event)
	}

	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (id, device, event, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Device, e.Event, e.Message, e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var (
		conditions []string
		args       []any
	)
	if f.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, f.Device)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device, event, message, created_at FROM connection_events %s ORDER BY created_at DESC, rowid DESC LIMIT ?",
		where,
	)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.ID, &e.Device, &e.Event, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		e.CreatedAt, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return entries, nil
}
