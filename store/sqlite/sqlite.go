/*
Package sqlite provides a SQLite-backed mirror of the reminder data.

PURPOSE:
  Implements pipeline.Source over a local copy of agents, bookings,
  reminder triggers and dispatch logs. The sync layer that fills it from
  the calendar provider and the dispatch worker lives elsewhere; the
  engine only ever reads. Save*, AppendDispatchLogs and Reset exist for
  that sync layer, the demo scenarios and tests.

KEY TABLES:
  agents:            Automation agents
  bookings:          Calendar bookings keyed by (agent_id, uid)
  reminder_triggers: Offset rules per agent
  dispatch_logs:     Append-only delivery attempts

INDEXES:
  - idx_bookings_agent_status:  Stage (b) filter
  - idx_triggers_agent:         Stage (c)
  - idx_dispatch_logs_booking:  Stage (d) lookup by booking UID set

TIMESTAMPS:
  Stored as RFC 3339 TEXT. A NULL or unparseable value reads back as nil,
  which the engine maps to missing-start (bookings) or "no timestamp" (logs).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL
  (store/postgres), database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/reminders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orch := pipeline.NewOrchestrator(store, pipeline.Options{})

SEE ALSO:
  - pipeline/source.go: Source interface
  - store/postgres: same schema on PostgreSQL
  - source/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// maxInParams bounds the placeholders of one IN (...) list.
const maxInParams = 500

// Store implements pipeline.Source using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ pipeline.Source = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- uid is the only stable key; the provider's row id is not kept
	CREATE TABLE IF NOT EXISTS bookings (
		agent_id TEXT NOT NULL REFERENCES agents(id),
		uid TEXT NOT NULL,
		start_at TEXT,
		attendee_contact TEXT,
		attendee_name TEXT,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'upcoming',
		synced_at TEXT NOT NULL,
		PRIMARY KEY (agent_id, uid)
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_agent_status
		ON bookings(agent_id, status);

	CREATE TABLE IF NOT EXISTS reminder_triggers (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id),
		offset_amount REAL NOT NULL,
		offset_unit TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		template TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_triggers_agent
		ON reminder_triggers(agent_id);

	-- Dispatch logs (append-only, written by the dispatch worker)
	CREATE TABLE IF NOT EXISTS dispatch_logs (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id),
		trigger_id TEXT NOT NULL,
		booking_uid TEXT NOT NULL,
		scheduled_for TEXT,
		executed_at TEXT,
		success INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_logs_booking
		ON dispatch_logs(agent_id, booking_uid);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// AGENTS
// =============================================================================

// SaveAgent upserts an agent.
func (s *Store) SaveAgent(ctx context.Context, a pipeline.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO agents (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active
	`

	_, err := s.db.ExecContext(ctx, query, a.ID, a.Name, a.Active, formatTime(time.Now()))
	return err
}

// ListAgents returns all agents ordered by id.
func (s *Store) ListAgents(ctx context.Context) ([]pipeline.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, active FROM agents ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []pipeline.Agent
	for rows.Next() {
		var a pipeline.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Active); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) agentExists(ctx context.Context, agentID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM agents WHERE id = ?", agentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", pipeline.ErrAgentNotFound, agentID)
	}
	return err
}

// =============================================================================
// BOOKINGS
// =============================================================================

// SaveBookings upserts bookings for an agent in one transaction.
func (s *Store) SaveBookings(ctx context.Context, agentID string, bookings []reminder.BookingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.agentExists(ctx, agentID); err != nil {
		return err
	}

	query := `
		INSERT INTO bookings (agent_id, uid, start_at, attendee_contact, attendee_name, title, status, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, uid) DO UPDATE SET
			start_at = excluded.start_at,
			attendee_contact = excluded.attendee_contact,
			attendee_name = excluded.attendee_name,
			title = excluded.title,
			status = excluded.status,
			synced_at = excluded.synced_at
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		for _, b := range bookings {
			status := b.Status
			if status == "" {
				status = string(pipeline.BookingsUpcoming)
			}
			if _, err := tx.ExecContext(ctx, query,
				agentID, b.UID, nullTime(b.Start), nullStringPtr(b.AttendeeContact),
				nullString(b.AttendeeName), nullString(b.Title), status, now,
			); err != nil {
				return fmt.Errorf("save booking %s: %w", b.UID, err)
			}
		}
		return nil
	})
}

// ListBookings returns the agent's bookings with the given status, ordered
// by start then uid. BookingsAll disables the filter.
func (s *Store) ListBookings(ctx context.Context, agentID string, status pipeline.BookingStatus) ([]reminder.BookingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.agentExists(ctx, agentID); err != nil {
		return nil, err
	}

	query := `
		SELECT uid, start_at, attendee_contact, attendee_name, title, status
		FROM bookings WHERE agent_id = ?`
	args := []any{agentID}
	if status != pipeline.BookingsAll {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY start_at, uid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []reminder.BookingEvent
	for rows.Next() {
		var b reminder.BookingEvent
		var start, contact, name, title sql.NullString
		if err := rows.Scan(&b.UID, &start, &contact, &name, &title, &b.Status); err != nil {
			return nil, err
		}
		b.Start = parseNullTime(start)
		if contact.Valid && strings.TrimSpace(contact.String) != "" {
			b.AttendeeContact = &contact.String
		}
		b.AttendeeName = name.String
		b.Title = title.String
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// =============================================================================
// TRIGGERS
// =============================================================================

// SaveTriggers upserts triggers for an agent.
func (s *Store) SaveTriggers(ctx context.Context, agentID string, triggers []reminder.ReminderTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.agentExists(ctx, agentID); err != nil {
		return err
	}

	query := `
		INSERT INTO reminder_triggers (id, agent_id, offset_amount, offset_unit, is_active, template, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			offset_amount = excluded.offset_amount,
			offset_unit = excluded.offset_unit,
			is_active = excluded.is_active,
			template = excluded.template,
			updated_at = excluded.updated_at
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range triggers {
			if _, err := tx.ExecContext(ctx, query,
				t.ID, agentID, t.OffsetAmount, string(t.OffsetUnit), t.IsActive,
				nullString(t.Template), formatTime(t.CreatedAt), nullTime(t.UpdatedAt),
			); err != nil {
				return fmt.Errorf("save trigger %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ListTriggers returns all triggers of an agent, active or not.
func (s *Store) ListTriggers(ctx context.Context, agentID string) ([]reminder.ReminderTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, offset_amount, offset_unit, is_active, template, created_at, updated_at
		FROM reminder_triggers WHERE agent_id = ? ORDER BY id`,
		agentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []reminder.ReminderTrigger
	for rows.Next() {
		var t reminder.ReminderTrigger
		var unit, createdAt string
		var template, updatedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.OffsetAmount, &unit, &t.IsActive, &template, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.OffsetUnit = reminder.OffsetUnit(unit)
		t.Template = template.String
		if created := parseNullTime(sql.NullString{String: createdAt, Valid: true}); created != nil {
			t.CreatedAt = *created
		}
		t.UpdatedAt = parseNullTime(updatedAt)
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// =============================================================================
// DISPATCH LOGS
// =============================================================================

// AppendDispatchLogs inserts log entries. Each row gets a fresh UUID.
func (s *Store) AppendDispatchLogs(ctx context.Context, agentID string, entries []reminder.DispatchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.agentExists(ctx, agentID); err != nil {
		return err
	}

	query := `
		INSERT INTO dispatch_logs (id, agent_id, trigger_id, booking_uid, scheduled_for, executed_at, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, query,
				uuid.NewString(), agentID, e.TriggerID, e.BookingUID,
				nullTime(e.ScheduledFor), nullTime(e.ExecutedAt), e.Success, nullStringPtr(e.ErrorMessage),
			); err != nil {
				return fmt.Errorf("append dispatch log: %w", err)
			}
		}
		return nil
	})
}

// ListDispatchLogs returns the logs of the given bookings, indexed by
// booking UID and trigger id.
func (s *Store) ListDispatchLogs(ctx context.Context, agentID string, bookingUIDs []string) (reminder.LogIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := make(reminder.LogIndex)
	for start := 0; start < len(bookingUIDs); start += maxInParams {
		end := min(start+maxInParams, len(bookingUIDs))
		if err := s.loadLogChunk(ctx, idx, agentID, bookingUIDs[start:end]); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (s *Store) loadLogChunk(ctx context.Context, idx reminder.LogIndex, agentID string, uids []string) error {
	args := make([]any, 0, len(uids)+1)
	args = append(args, agentID)
	for _, uid := range uids {
		args = append(args, uid)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT trigger_id, booking_uid, scheduled_for, executed_at, success, error_message
		FROM dispatch_logs
		WHERE agent_id = ? AND booking_uid IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e reminder.DispatchLogEntry
		var scheduledFor, executedAt, errMsg sql.NullString
		if err := rows.Scan(&e.TriggerID, &e.BookingUID, &scheduledFor, &executedAt, &e.Success, &errMsg); err != nil {
			return err
		}
		e.ScheduledFor = parseNullTime(scheduledFor)
		e.ExecutedAt = parseNullTime(executedAt)
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		idx.Add(e)
	}
	return rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"dispatch_logs", "reminder_triggers", "bookings", "agents"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Helper functions

// timeLayout is fixed width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s.String))
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}
