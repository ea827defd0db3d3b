/*
Package pipeline feeds the reconciliation engine from external services.

PURPOSE:
  The engine in package reminder is pure. Everything asynchronous lives
  here: fetching agents, bookings, triggers and dispatch logs in
  dependency order, discarding results that were overtaken by a newer
  selection, and optionally falling back to the last good snapshot.

STAGES:
  (a) agents    ListAgents
  (b) bookings  ListBookings(agent, status)       } concurrent
  (c) triggers  ListTriggers(agent)               }
  (d) logs      ListDispatchLogs(agent, uids(b))   after (b) and (c)

  (d) always runs against the booking set returned by the same load, so it
  can never be keyed by a stale booking list.

FAILURES:
  Stage failures surface as *StageError. A failed log stage degrades to
  "no log data": the snapshot carries empty logs and LogsErr, and the
  reconciliation proceeds without crediting matches.

SEE ALSO:
  - orchestrator.go: staged Load
  - view.go:         selection slot with sequence numbers
  - source/memory, source/httpapi, store/sqlite, store/postgres: Sources
*/
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/reminder-engine/reminder"
)

// Agent is an automation agent that owns triggers and bookings.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// BookingStatus filters bookings by lifecycle state.
type BookingStatus string

const (
	BookingsUpcoming  BookingStatus = "upcoming"
	BookingsPast      BookingStatus = "past"
	BookingsCancelled BookingStatus = "cancelled"
	BookingsAll       BookingStatus = "all"
)

// ParseBookingStatus validates a filter value. Empty means upcoming.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return BookingsUpcoming, nil
	case BookingsUpcoming, BookingsPast, BookingsCancelled, BookingsAll:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Source is the read-only contract of the services that own the data.
type Source interface {
	ListAgents(ctx context.Context) ([]Agent, error)
	ListBookings(ctx context.Context, agentID string, status BookingStatus) ([]reminder.BookingEvent, error)
	ListTriggers(ctx context.Context, agentID string) ([]reminder.ReminderTrigger, error)
	ListDispatchLogs(ctx context.Context, agentID string, bookingUIDs []string) (reminder.LogIndex, error)
}
