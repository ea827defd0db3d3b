/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the mirror with realistic
	agents, bookings, triggers and dispatch logs. Every dataset is built
	relative to the current time so the dashboard always shows the intended
	mix of statuses.

AVAILABLE SCENARIOS:

	dashboard-mix:    Every booking-level status across two agents
	grace-period:     Freshly created and freshly edited triggers
	tolerance-window: Dispatch logs just inside and outside the window

HOW SCENARIOS WORK:
 1. Reset the mirror (clear all data)
 2. Save agents
 3. Save triggers and bookings per agent
 4. Append dispatch logs

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "dashboard-mix"}

USAGE VIA CLI:

	reminderd scenarios load dashboard-mix

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and build func
 2. Build the dataset from the given now

NOTE:

	Scenarios reset the mirror. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ListScenarios, LoadScenario handlers
  - store/sqlite: the usual Seeder
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// ErrUnknownScenario is returned for an unknown scenario id.
var ErrUnknownScenario = errors.New("unknown scenario")

// Seeder is the write side of a mirror. store/sqlite and source/memory
// implement it.
type Seeder interface {
	Reset(ctx context.Context) error
	SaveAgent(ctx context.Context, a pipeline.Agent) error
	SaveBookings(ctx context.Context, agentID string, bookings []reminder.BookingEvent) error
	SaveTriggers(ctx context.Context, agentID string, triggers []reminder.ReminderTrigger) error
	AppendDispatchLogs(ctx context.Context, agentID string, entries []reminder.DispatchLogEntry) error
}

// AgentData is one agent's share of a scenario.
type AgentData struct {
	Agent    pipeline.Agent
	Bookings []reminder.BookingEvent
	Triggers []reminder.ReminderTrigger
	Logs     []reminder.DispatchLogEntry
}

type scenario struct {
	ScenarioDTO
	build func(now time.Time) []AgentData
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "dashboard-mix",
			Name:        "Dashboard Mix",
			Description: "Sent, failed, overdue, upcoming, no-contact, missing-start and no-trigger bookings",
		},
		build: buildDashboardMix,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "grace-period",
			Name:        "Grace Period",
			Description: "Reminders suppressed because their trigger was just created or edited",
		},
		build: buildGracePeriod,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "tolerance-window",
			Name:        "Tolerance Window",
			Description: "One dispatch 3 minutes off schedule (matched) and one 10 minutes off (overdue)",
		},
		build: buildToleranceWindow,
	},
}

// Scenarios lists the available scenarios.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	return out
}

// BuildScenario returns the dataset of id relative to now.
func BuildScenario(id string, now time.Time) ([]AgentData, error) {
	for _, s := range scenarios {
		if s.ID == id {
			return s.build(now.UTC().Truncate(time.Minute)), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
}

// SeedScenario resets seeder and loads scenario id into it.
func SeedScenario(ctx context.Context, seeder Seeder, id string, now time.Time) error {
	data, err := BuildScenario(id, now)
	if err != nil {
		return err
	}
	if err := seeder.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for _, a := range data {
		if err := seeder.SaveAgent(ctx, a.Agent); err != nil {
			return fmt.Errorf("save agent %s: %w", a.Agent.ID, err)
		}
		if err := seeder.SaveTriggers(ctx, a.Agent.ID, a.Triggers); err != nil {
			return err
		}
		if err := seeder.SaveBookings(ctx, a.Agent.ID, a.Bookings); err != nil {
			return err
		}
		if err := seeder.AppendDispatchLogs(ctx, a.Agent.ID, a.Logs); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios())
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Seeder == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios need a writable source (sqlite or memory)", nil)
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = "" // Clear current scenario on reset

	err := SeedScenario(r.Context(), h.Seeder, req.ScenarioID, h.clock())
	if errors.Is(err, ErrUnknownScenario) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func buildDashboardMix(now time.Time) []AgentData {
	longAgo := now.AddDate(0, 0, -30)
	frontDesk := AgentData{
		Agent: pipeline.Agent{ID: "front-desk", Name: "Front Desk Bot", Active: true},
		Triggers: []reminder.ReminderTrigger{
			{ID: "trg-24h", OffsetAmount: 1, OffsetUnit: reminder.UnitDays, IsActive: true, CreatedAt: longAgo,
				Template: "See you tomorrow at {{time}}"},
			{ID: "trg-2h", OffsetAmount: 2, OffsetUnit: reminder.UnitHours, IsActive: true, CreatedAt: longAgo,
				Template: "Your appointment starts in 2 hours"},
			{ID: "trg-30m", OffsetAmount: 30, OffsetUnit: reminder.UnitMinutes, IsActive: true, CreatedAt: longAgo,
				Template: "Starting in 30 minutes"},
		},
	}

	add := func(uid, title, attendee string, start *time.Time, contact *string, status pipeline.BookingStatus) {
		if start != nil {
			v := *start
			start = &v
		}
		frontDesk.Bookings = append(frontDesk.Bookings, reminder.BookingEvent{
			UID: uid, Title: title, AttendeeName: attendee, Start: start, AttendeeContact: contact, Status: string(status),
		})
	}
	sent := func(uid, triggerID string, scheduled time.Time) {
		frontDesk.Logs = append(frontDesk.Logs, dispatched(uid, triggerID, scheduled, scheduled.Add(5*time.Second), ""))
	}

	// Every reminder already delivered.
	start := now.Add(20 * time.Minute)
	add("bk-all-sent", "Dental cleaning", "Ana Souza", &start, contact("+5511990000001"), pipeline.BookingsUpcoming)
	sent("bk-all-sent", "trg-24h", start.Add(-24*time.Hour))
	sent("bk-all-sent", "trg-2h", start.Add(-2*time.Hour))
	sent("bk-all-sent", "trg-30m", start.Add(-30*time.Minute))

	// Day-before reminder bounced.
	start = now.Add(3 * time.Hour)
	add("bk-failed", "Consultation", "Bruno Lima", &start, contact("+5511990000002"), pipeline.BookingsUpcoming)
	frontDesk.Logs = append(frontDesk.Logs,
		dispatched("bk-failed", "trg-24h", start.Add(-24*time.Hour), start.Add(-24*time.Hour).Add(3*time.Second), "invalid phone number"))

	// Two-hour reminder never went out.
	start = now.Add(90 * time.Minute)
	add("bk-overdue", "Follow-up", "Carla Mendes", &start, contact("+5511990000003"), pipeline.BookingsUpcoming)
	sent("bk-overdue", "trg-24h", start.Add(-24*time.Hour))

	// Nothing due yet.
	start = now.AddDate(0, 0, 2)
	add("bk-upcoming", "Annual check-up", "Diego Rocha", &start, contact("+5511990000004"), pipeline.BookingsUpcoming)

	start = now.Add(5 * time.Hour)
	add("bk-no-contact", "Walk-in slot", "Unknown guest", &start, nil, pipeline.BookingsUpcoming)
	add("bk-missing-start", "Unscheduled call", "Eva Prado", nil, contact("+5511990000005"), pipeline.BookingsUpcoming)

	start = now.AddDate(0, 0, -2)
	add("bk-past", "X-ray", "Fabio Nunes", &start, contact("+5511990000006"), pipeline.BookingsPast)
	sent("bk-past", "trg-24h", start.Add(-24*time.Hour))
	sent("bk-past", "trg-2h", start.Add(-2*time.Hour))
	sent("bk-past", "trg-30m", start.Add(-30*time.Minute))

	start = now.Add(6 * time.Hour)
	add("bk-cancelled", "Consultation", "Gabi Torres", &start, contact("+5511990000007"), pipeline.BookingsCancelled)

	walkStart := now.Add(4 * time.Hour)
	walkIn := AgentData{
		Agent: pipeline.Agent{ID: "walk-in", Name: "Walk-in Line", Active: true},
		Triggers: []reminder.ReminderTrigger{
			{ID: "trg-legacy", OffsetAmount: 15, OffsetUnit: reminder.UnitMinutes, IsActive: false, CreatedAt: longAgo},
		},
		Bookings: []reminder.BookingEvent{
			{UID: "bk-walk-in", Title: "Walk-in", AttendeeName: "Hugo Alves", Start: &walkStart,
				AttendeeContact: contact("+5511990000008"), Status: string(pipeline.BookingsUpcoming)},
		},
	}

	return []AgentData{frontDesk, walkIn}
}

func buildGracePeriod(now time.Time) []AgentData {
	justEdited := now.Add(-time.Minute)
	soon := now.Add(50 * time.Minute)
	later := now.Add(3 * time.Hour)
	return []AgentData{{
		Agent: pipeline.Agent{ID: "grace", Name: "Grace Demo", Active: true},
		Triggers: []reminder.ReminderTrigger{
			{ID: "trg-1h-new", OffsetAmount: 1, OffsetUnit: reminder.UnitHours, IsActive: true, CreatedAt: now.Add(-2 * time.Minute)},
			{ID: "trg-2h-edited", OffsetAmount: 2, OffsetUnit: reminder.UnitHours, IsActive: true,
				CreatedAt: now.AddDate(0, 0, -30), UpdatedAt: &justEdited},
		},
		Bookings: []reminder.BookingEvent{
			{UID: "bk-soon", Title: "Booked before the trigger existed", Start: &soon,
				AttendeeContact: contact("+5511990000010"), Status: string(pipeline.BookingsUpcoming)},
			{UID: "bk-later", Title: "Far enough ahead", Start: &later,
				AttendeeContact: contact("+5511990000011"), Status: string(pipeline.BookingsUpcoming)},
		},
	}}
}

func buildToleranceWindow(now time.Time) []AgentData {
	near := now.Add(10 * time.Minute)
	far := now.Add(15 * time.Minute)
	nearAt := near.Add(-30 * time.Minute)
	farAt := far.Add(-30 * time.Minute)
	return []AgentData{{
		Agent: pipeline.Agent{ID: "drift", Name: "Drift Demo", Active: true},
		Triggers: []reminder.ReminderTrigger{
			{ID: "trg-30m", OffsetAmount: 30, OffsetUnit: reminder.UnitMinutes, IsActive: true, CreatedAt: now.AddDate(0, 0, -30)},
		},
		Bookings: []reminder.BookingEvent{
			{UID: "bk-drift-3m", Title: "Dispatcher 3 minutes late", Start: &near,
				AttendeeContact: contact("+5511990000020"), Status: string(pipeline.BookingsUpcoming)},
			{UID: "bk-drift-10m", Title: "Dispatcher 10 minutes late", Start: &far,
				AttendeeContact: contact("+5511990000021"), Status: string(pipeline.BookingsUpcoming)},
		},
		Logs: []reminder.DispatchLogEntry{
			dispatched("bk-drift-3m", "trg-30m", nearAt.Add(3*time.Minute), nearAt.Add(3*time.Minute), ""),
			dispatched("bk-drift-10m", "trg-30m", farAt.Add(10*time.Minute), farAt.Add(10*time.Minute), ""),
		},
	}}
}

// dispatched builds a log entry. A non-empty errMsg marks it failed.
func dispatched(uid, triggerID string, scheduledFor, executedAt time.Time, errMsg string) reminder.DispatchLogEntry {
	e := reminder.DispatchLogEntry{
		TriggerID:    triggerID,
		BookingUID:   uid,
		ScheduledFor: &scheduledFor,
		ExecutedAt:   &executedAt,
		Success:      errMsg == "",
	}
	if errMsg != "" {
		e.ErrorMessage = &errMsg
	}
	return e
}

func contact(s string) *string {
	return &s
}
