package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devicelink/internal/arbitration"
)

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// List limits.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Event is one row of lease_events.
type Event struct {
	ID           string                `json:"id"`
	DeviceID     string                `json:"device_id"`
	Kind         arbitration.EventKind `json:"kind"`
	ControllerID string                `json:"controller_id"`
	Reason       arbitration.Reason    `json:"reason,omitempty"`
	Held         time.Duration         `json:"held,omitempty"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

// FromLease converts a lease transition into a history event.
func FromLease(deviceID string, ev arbitration.Event) Event {
	return Event{
		DeviceID:     deviceID,
		Kind:         ev.Kind,
		ControllerID: ev.ControllerID,
		Reason:       ev.Reason,
		Held:         ev.Held,
		OccurredAt:   ev.At,
	}
}

// Filter controls which events List returns.
type Filter struct {
	ControllerID string                // optional
	Kind         arbitration.EventKind // optional
	Since        time.Time             // optional, inclusive
	Limit        int                   // default 50, max 500
}

// Repository stores lease events.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository stores lease events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts ev. ID and OccurredAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = "lse-" + uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	var heldMS any
	if ev.Kind == arbitration.EventReleased {
		heldMS = ev.Held.Milliseconds()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lease_events (id, device_id, kind, controller_id, reason, held_ms, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DeviceID, string(ev.Kind), ev.ControllerID,
		nullableString(string(ev.Reason)), heldMS,
		ev.OccurredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting lease event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns matching events, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	var conditions []string
	var args []any
	if filter.ControllerID != "" {
		conditions = append(conditions, "controller_id = ?")
		args = append(args, filter.ControllerID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, device_id, kind, controller_id, reason, held_ms, occurred_at
		 FROM lease_events %s ORDER BY occurred_at DESC, id LIMIT ?`,
		where,
	)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lease events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var kind, occurredAt string
		var reason sql.NullString
		var heldMS sql.NullInt64

		if err := rows.Scan(&ev.ID, &ev.DeviceID, &kind, &ev.ControllerID, &reason, &heldMS, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning lease event: %w", err)
		}
		ev.Kind = arbitration.EventKind(kind)
		if reason.Valid {
			ev.Reason = arbitration.Reason(reason.String)
		}
		if heldMS.Valid {
			ev.Held = time.Duration(heldMS.Int64) * time.Millisecond
		}
		t, err := time.Parse(timeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing lease event timestamp %q: %w", occurredAt, err)
		}
		ev.OccurredAt = t

		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lease events: %w", err)
	}
	return events, nil
}

// PruneBefore deletes events older than cutoff and returns how many were removed.
func (r *SQLiteRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM lease_events WHERE occurred_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning lease events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning lease events: %w", err)
	}
	return n, nil
}
