/*
Package reminder implements the reminder-dispatch reconciliation engine.

PURPOSE:
  Given calendar bookings, recurring reminder triggers (each firing some
  offset before a booking's start) and the dispatch log written by an
  external worker, derive for every booking whether its reminders are
  pending, sent, failed, overdue or intentionally suppressed.

  The engine is a read-time view. It never dispatches, never writes, and
  recomputes everything from its input snapshot on each call.

PIPELINE (per booking):
  1. Input validation     no-contact, missing-start (terminal)
  2. Schedule calculator  scheduledAt = start - offset
  3. Grace filter         blocked if scheduledAt < activation + grace
  4. Log matcher          |log.scheduledFor - scheduledAt| <= tolerance
  5. Classifier           blocked | sent | failed | overdue | upcoming
  6. Aggregator           one booking-level status by fixed priority

CONCURRENCY:
  Every function in this package is pure. Inputs are only read, so the
  engine is safe to call from any number of goroutines.

SEE ALSO:
  - offset.go:    unit conversion and labels
  - schedule.go:  schedule calculator and grace filter
  - match.go:     log matcher
  - classify.go:  per-trigger classifier
  - aggregate.go: event aggregator
  - reconcile.go: Reconcile entry point
*/
package reminder

import (
	"time"
)

// =============================================================================
// INPUT TYPES - Snapshots of data owned by other services
// =============================================================================

// BookingEvent is a calendar booking relevant to reminders.
//
// UID is the only correlation key. The calendar provider's internal row id
// is not stable across syncs and is never used here.
type BookingEvent struct {
	UID             string     `json:"uid"`
	Start           *time.Time `json:"start,omitempty"`
	AttendeeContact *string    `json:"attendee_contact,omitempty"`

	// Display-only fields, ignored by the engine.
	Title        string `json:"title,omitempty"`
	AttendeeName string `json:"attendee_name,omitempty"`
	Status       string `json:"status,omitempty"`
}

// HasContact reports whether the booking has a deliverable contact.
func (b BookingEvent) HasContact() bool {
	return b.AttendeeContact != nil && trimmed(*b.AttendeeContact) != ""
}

// HasStart reports whether the booking start is a usable instant.
func (b BookingEvent) HasStart() bool {
	return b.Start != nil && !b.Start.IsZero()
}

// ReminderTrigger is a rule: fire OffsetAmount OffsetUnit before start.
type ReminderTrigger struct {
	ID           string     `json:"id"`
	OffsetAmount float64    `json:"offset_amount"`
	OffsetUnit   OffsetUnit `json:"offset_unit"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`

	// Template is carried through for display.
	Template string `json:"template,omitempty"`
}

// DispatchLogEntry records one delivery attempt by the dispatch worker.
type DispatchLogEntry struct {
	TriggerID    string     `json:"trigger_id"`
	BookingUID   string     `json:"booking_uid"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	Success      bool       `json:"success"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// recency is ExecutedAt, falling back to ScheduledFor.
func (e DispatchLogEntry) recency() time.Time {
	if e.ExecutedAt != nil {
		return *e.ExecutedAt
	}
	if e.ScheduledFor != nil {
		return *e.ScheduledFor
	}
	return time.Time{}
}

func (e DispatchLogEntry) errorText() string {
	if e.ErrorMessage == nil {
		return ""
	}
	return *e.ErrorMessage
}

// LogIndex groups dispatch logs by booking UID, then trigger id.
type LogIndex map[string]map[string][]DispatchLogEntry

// For returns the log entries for one (booking, trigger) pair.
// A nil index or missing key yields nil.
func (idx LogIndex) For(bookingUID, triggerID string) []DispatchLogEntry {
	if idx == nil {
		return nil
	}
	return idx[bookingUID][triggerID]
}

// Add appends an entry under its booking and trigger keys.
func (idx LogIndex) Add(e DispatchLogEntry) {
	byTrigger, ok := idx[e.BookingUID]
	if !ok {
		byTrigger = make(map[string][]DispatchLogEntry)
		idx[e.BookingUID] = byTrigger
	}
	byTrigger[e.TriggerID] = append(byTrigger[e.TriggerID], e)
}

// Len returns the total number of entries in the index.
func (idx LogIndex) Len() int {
	n := 0
	for _, byTrigger := range idx {
		for _, entries := range byTrigger {
			n += len(entries)
		}
	}
	return n
}

// IndexLogs builds a LogIndex from a flat list of entries.
func IndexLogs(entries []DispatchLogEntry) LogIndex {
	idx := make(LogIndex)
	for _, e := range entries {
		idx.Add(e)
	}
	return idx
}

// =============================================================================
// DERIVED TYPES - Never persisted
// =============================================================================

// ComputedSchedule is the engine's working unit for one (booking, trigger).
type ComputedSchedule struct {
	TriggerID     string     `json:"trigger_id"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	OffsetLabel   string     `json:"offset_label"`
	Blocked       bool       `json:"blocked"`
	GraceDeadline *time.Time `json:"grace_deadline,omitempty"`
}

// ClassKind is the per-trigger classification.
type ClassKind string

const (
	KindBlocked  ClassKind = "blocked"
	KindSent     ClassKind = "sent"
	KindFailed   ClassKind = "failed"
	KindOverdue  ClassKind = "overdue"
	KindUpcoming ClassKind = "upcoming"
)

// Status is the booking-level reminder status.
type Status string

const (
	StatusNoContact    Status = "no-contact"
	StatusMissingStart Status = "missing-start"
	StatusNoTrigger    Status = "no-trigger"
	StatusOverdue      Status = "overdue"
	StatusUpcoming     Status = "upcoming"
	StatusSent         Status = "sent"
	StatusFailed       Status = "failed"
	StatusBlocked      Status = "blocked"
	StatusUnknown      Status = "unknown"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusFailed, StatusBlocked, StatusOverdue, StatusUpcoming, StatusSent,
	StatusNoTrigger, StatusNoContact, StatusMissingStart, StatusUnknown,
}

// ReminderStatus is the reconciled state of one booking.
type ReminderStatus struct {
	Status         Status `json:"status"`
	TotalScheduled int    `json:"total_scheduled"`
	TotalSent      int    `json:"total_sent"`

	// Winner is the classification that justified Status, nil for the
	// input-validation statuses and for no-trigger.
	Winner *Classification `json:"winner,omitempty"`
}

// =============================================================================
// CONFIG
// =============================================================================

const (
	// DefaultGrace suppresses schedules that precede a trigger's activation.
	DefaultGrace = 5 * time.Minute

	// DefaultTolerance is the allowed drift between the computed schedule
	// and the dispatcher's own scheduled_for.
	DefaultTolerance = 5 * time.Minute
)

// Config tunes grace suppression and log matching independently. Zero is a
// valid window: no grace suppression, or exact schedule matches only. Use
// DefaultConfig for the documented defaults.
type Config struct {
	Grace     time.Duration `json:"grace"`
	Tolerance time.Duration `json:"tolerance"`
}

// DefaultConfig returns the documented defaults (5 minutes each).
func DefaultConfig() Config {
	return Config{Grace: DefaultGrace, Tolerance: DefaultTolerance}
}

// Validate rejects negative windows.
func (c Config) Validate() error {
	if c.Grace < 0 {
		return &ConfigError{Field: "grace", Value: c.Grace}
	}
	if c.Tolerance < 0 {
		return &ConfigError{Field: "tolerance", Value: c.Tolerance}
	}
	return nil
}
