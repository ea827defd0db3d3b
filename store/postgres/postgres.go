// Package postgres implements pipeline.Source over a PostgreSQL mirror with
// the same tables as store/sqlite.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// Schema is applied by Migrate. Timestamps are timestamptz; NULL start or
// executed_at read back as nil.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bookings (
	agent_id TEXT NOT NULL REFERENCES agents(id),
	uid TEXT NOT NULL,
	start_at TIMESTAMPTZ,
	attendee_contact TEXT,
	attendee_name TEXT,
	title TEXT,
	status TEXT NOT NULL DEFAULT 'upcoming',
	synced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, uid)
);
CREATE INDEX IF NOT EXISTS idx_bookings_agent_status ON bookings(agent_id, status);

CREATE TABLE IF NOT EXISTS reminder_triggers (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL REFERENCES agents(id),
	offset_amount DOUBLE PRECISION NOT NULL,
	offset_unit TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	template TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_triggers_agent ON reminder_triggers(agent_id);

CREATE TABLE IF NOT EXISTS dispatch_logs (
	id UUID PRIMARY KEY,
	agent_id TEXT NOT NULL REFERENCES agents(id),
	trigger_id TEXT NOT NULL,
	booking_uid TEXT NOT NULL,
	scheduled_for TIMESTAMPTZ,
	executed_at TIMESTAMPTZ,
	success BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_dispatch_logs_booking ON dispatch_logs(agent_id, booking_uid);
`

// Store is a pgxpool-backed pipeline.Source.
type Store struct {
	pool *pgxpool.Pool
}

var _ pipeline.Source = (*Store)(nil)

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the database.
func (s *Store) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context) ([]pipeline.Agent, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, active FROM agents ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Agent
	for rows.Next() {
		var a pipeline.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Active); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListBookings(ctx context.Context, agentID string, status pipeline.BookingStatus) ([]reminder.BookingEvent, error) {
	var one int
	err := s.pool.QueryRow(ctx, "SELECT 1 FROM agents WHERE id=$1", agentID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrAgentNotFound, agentID)
	}
	if err != nil {
		return nil, err
	}

	query, args := bookingsQuery(agentID, status)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.BookingEvent
	for rows.Next() {
		var b reminder.BookingEvent
		var contact, name, title *string
		if err := rows.Scan(&b.UID, &b.Start, &contact, &name, &title, &b.Status); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		if contact != nil && strings.TrimSpace(*contact) != "" {
			b.AttendeeContact = contact
		}
		if name != nil {
			b.AttendeeName = *name
		}
		if title != nil {
			b.Title = *title
		}
		b.Start = utc(b.Start)
		out = append(out, b)
	}
	return out, rows.Err()
}

func bookingsQuery(agentID string, status pipeline.BookingStatus) (string, []any) {
	cond := "WHERE agent_id=$1"
	args := []any{agentID}
	if status != pipeline.BookingsAll {
		cond += " AND status=$2"
		args = append(args, string(status))
	}
	sql := `
SELECT uid, start_at, attendee_contact, attendee_name, title, status
FROM bookings
` + cond + `
ORDER BY start_at NULLS FIRST, uid`
	return sql, args
}

func (s *Store) ListTriggers(ctx context.Context, agentID string) ([]reminder.ReminderTrigger, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, offset_amount, offset_unit, is_active, template, created_at, updated_at
FROM reminder_triggers WHERE agent_id=$1 ORDER BY id`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.ReminderTrigger
	for rows.Next() {
		var t reminder.ReminderTrigger
		var unit string
		var template *string
		if err := rows.Scan(&t.ID, &t.OffsetAmount, &unit, &t.IsActive, &template, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		t.OffsetUnit = reminder.OffsetUnit(unit)
		if template != nil {
			t.Template = *template
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = utc(t.UpdatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListDispatchLogs(ctx context.Context, agentID string, bookingUIDs []string) (reminder.LogIndex, error) {
	idx := make(reminder.LogIndex)
	if len(bookingUIDs) == 0 {
		return idx, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT trigger_id, booking_uid, scheduled_for, executed_at, success, error_message
FROM dispatch_logs
WHERE agent_id=$1 AND booking_uid = ANY($2)`, agentID, bookingUIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e reminder.DispatchLogEntry
		if err := rows.Scan(&e.TriggerID, &e.BookingUID, &e.ScheduledFor, &e.ExecutedAt, &e.Success, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan dispatch log: %w", err)
		}
		e.ScheduledFor = utc(e.ScheduledFor)
		e.ExecutedAt = utc(e.ExecutedAt)
		idx.Add(e)
	}
	return idx, rows.Err()
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
