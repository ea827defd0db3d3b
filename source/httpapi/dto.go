package httpapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// WIRE SHAPES
// =============================================================================

type agentDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type bookingDTO struct {
	UID             string    `json:"uid"`
	Start           looseTime `json:"start"`
	AttendeeContact *string   `json:"attendee_contact"`
	Title           string    `json:"title"`
	AttendeeName    string    `json:"attendee_name"`
	Status          string    `json:"status"`
}

func (b bookingDTO) toDomain() reminder.BookingEvent {
	contact := b.AttendeeContact
	if contact != nil && strings.TrimSpace(*contact) == "" {
		contact = nil
	}
	return reminder.BookingEvent{
		UID:             b.UID,
		Start:           b.Start.ptr(),
		AttendeeContact: contact,
		Title:           b.Title,
		AttendeeName:    b.AttendeeName,
		Status:          b.Status,
	}
}

type triggerDTO struct {
	ID           string    `json:"id"`
	OffsetAmount float64   `json:"offset_amount"`
	OffsetUnit   string    `json:"offset_unit"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    looseTime `json:"created_at"`
	UpdatedAt    looseTime `json:"updated_at"`
	Template     string    `json:"template"`
}

func (t triggerDTO) toDomain() reminder.ReminderTrigger {
	return reminder.ReminderTrigger{
		ID:           t.ID,
		OffsetAmount: t.OffsetAmount,
		OffsetUnit:   reminder.OffsetUnit(strings.ToLower(strings.TrimSpace(t.OffsetUnit))),
		IsActive:     t.IsActive,
		CreatedAt:    t.CreatedAt.Time,
		UpdatedAt:    t.UpdatedAt.ptr(),
		Template:     t.Template,
	}
}

type logEntryDTO struct {
	TriggerID    string    `json:"trigger_id"`
	BookingUID   string    `json:"booking_uid"`
	ScheduledFor looseTime `json:"scheduled_for"`
	ExecutedAt   looseTime `json:"executed_at"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message"`
}

func (e logEntryDTO) toDomain() reminder.DispatchLogEntry {
	return reminder.DispatchLogEntry{
		TriggerID:    e.TriggerID,
		BookingUID:   e.BookingUID,
		ScheduledFor: e.ScheduledFor.ptr(),
		ExecutedAt:   e.ExecutedAt.ptr(),
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
	}
}

// =============================================================================
// LENIENT TIMESTAMPS
// =============================================================================

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// looseTime decodes RFC 3339 strings, a few common variants, and epoch
// milliseconds. Anything else decodes to the zero time without error.
type looseTime struct {
	time.Time
}

func (t *looseTime) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil && ms > 0 {
			t.Time = time.UnixMilli(ms).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	t.Time = parseTime(s)
	return nil
}

func (t looseTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC()
		}
	}
	return time.Time{}
}
