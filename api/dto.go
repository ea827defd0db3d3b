/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures the dashboard reads. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reminders:
    RemindersResponse, BookingReminderDTO, WinnerDTO

  View:
    SelectViewRequest, ViewDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// REMINDER DTOs
// =============================================================================

// RemindersResponse is one reconciled booking list.
type RemindersResponse struct {
	AgentID   string                 `json:"agent_id"`
	Status    pipeline.BookingStatus `json:"status"`
	FetchSeq  uint64                 `json:"fetch_seq"`
	FetchedAt time.Time              `json:"fetched_at"`
	Now       time.Time              `json:"now"`

	Summary reminder.Summary        `json:"summary"`
	Counts  map[reminder.Status]int `json:"counts"`

	// LogsUnavailable means no delivery could be credited; sent and failed
	// cannot appear.
	LogsUnavailable bool `json:"logs_unavailable"`

	// Stale means this is the last good snapshot, served after a failure.
	Stale      bool   `json:"stale"`
	StaleError string `json:"stale_error,omitempty"`

	Bookings []BookingReminderDTO `json:"bookings"`
}

// BookingReminderDTO is one row of the dashboard.
type BookingReminderDTO struct {
	UID            string          `json:"uid"`
	Title          string          `json:"title,omitempty"`
	AttendeeName   string          `json:"attendee_name,omitempty"`
	Start          *time.Time      `json:"start"`
	HasContact     bool            `json:"has_contact"`
	Status         reminder.Status `json:"status"`
	TotalScheduled int             `json:"total_scheduled"`
	TotalSent      int             `json:"total_sent"`
	Winner         *WinnerDTO      `json:"winner,omitempty"`
}

// WinnerDTO is the trigger/log pairing that justified the booking status.
type WinnerDTO struct {
	TriggerID     string             `json:"trigger_id"`
	Kind          reminder.ClassKind `json:"kind"`
	ScheduledAt   time.Time          `json:"scheduled_at"`
	OffsetLabel   string             `json:"offset_label"`
	Blocked       bool               `json:"blocked"`
	GraceDeadline *time.Time         `json:"grace_deadline,omitempty"`
	ExecutedAt    *time.Time         `json:"executed_at,omitempty"`
	ErrorMessage  *string            `json:"error_message,omitempty"`
}

// =============================================================================
// VIEW DTOs
// =============================================================================

// SelectViewRequest is the body of POST /api/view/select.
type SelectViewRequest struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// ViewDTO is the committed state of the dashboard view.
type ViewDTO struct {
	Seq       uint64              `json:"seq"`
	Selection *pipeline.Selection `json:"selection"`
	Loading   bool                `json:"loading"`
	Error     *ErrorResponse      `json:"error,omitempty"`
	Reminders *RemindersResponse  `json:"reminders,omitempty"`
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

// NewRemindersResponse renders reconciled statuses in booking order.
func NewRemindersResponse(snap *pipeline.Snapshot, statuses map[string]reminder.ReminderStatus, now time.Time) RemindersResponse {
	resp := RemindersResponse{
		AgentID:         snap.AgentID,
		Status:          snap.Status,
		FetchSeq:        snap.FetchSeq,
		FetchedAt:       snap.FetchedAt,
		Now:             now,
		Summary:         snap.Summary(),
		Counts:          reminder.StatusCounts(statuses),
		LogsUnavailable: snap.LogsUnavailable(),
		Stale:           snap.Stale,
		Bookings:        make([]BookingReminderDTO, 0, len(statuses)),
	}
	if snap.FetchErr != nil {
		resp.StaleError = snap.FetchErr.Error()
	}

	for _, b := range reminder.Distinct(snap.Bookings) {
		st, ok := statuses[b.UID]
		if !ok {
			continue
		}
		resp.Bookings = append(resp.Bookings, BookingReminderDTO{
			UID:            b.UID,
			Title:          b.Title,
			AttendeeName:   b.AttendeeName,
			Start:          b.Start,
			HasContact:     b.HasContact(),
			Status:         st.Status,
			TotalScheduled: st.TotalScheduled,
			TotalSent:      st.TotalSent,
			Winner:         toWinnerDTO(st.Winner),
		})
	}
	return resp
}

func toWinnerDTO(c *reminder.Classification) *WinnerDTO {
	if c == nil {
		return nil
	}
	return &WinnerDTO{
		TriggerID:     c.Schedule.TriggerID,
		Kind:          c.Kind,
		ScheduledAt:   c.Schedule.ScheduledAt,
		OffsetLabel:   c.Schedule.OffsetLabel,
		Blocked:       c.Schedule.Blocked,
		GraceDeadline: c.Schedule.GraceDeadline,
		ExecutedAt:    c.ExecutedAt(),
		ErrorMessage:  c.ErrorMessage(),
	}
}
