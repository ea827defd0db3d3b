package reminder

import (
	"time"
)

// =============================================================================
// RECONCILE - The presentation layer's entry point
// =============================================================================

// Reconcile computes the ReminderStatus of every booking, keyed by UID.
//
// Zero fields in cfg fall back to DefaultConfig. The only error is
// ErrInvalidNow (zero clock) or an invalid config; data-shape problems
// always surface as statuses.
//
// Bookings are first passed through Distinct. When the same UID appears
// twice, the copy with the later start is kept, then the one with the
// greater contact, so input order never matters.
func Reconcile(bookings []BookingEvent, triggers []ReminderTrigger, logs LogIndex, now time.Time, cfg Config) (map[string]ReminderStatus, error) {
	if now.IsZero() {
		return nil, ErrInvalidNow
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	unique := Distinct(bookings)
	out := make(map[string]ReminderStatus, len(unique))
	for _, b := range unique {
		out[b.UID] = Aggregate(b, triggers, logs, now, cfg)
	}
	return out, nil
}

// Distinct drops bookings without a UID and collapses duplicate UIDs to
// the copy Reconcile evaluates. Order of first appearance is kept.
func Distinct(bookings []BookingEvent) []BookingEvent {
	pos := make(map[string]int, len(bookings))
	out := make([]BookingEvent, 0, len(bookings))
	for _, b := range bookings {
		if b.UID == "" {
			continue
		}
		i, ok := pos[b.UID]
		if !ok {
			pos[b.UID] = len(out)
			out = append(out, b)
			continue
		}
		if supersedes(b, out[i]) {
			out[i] = b
		}
	}
	return out
}

func supersedes(b, prev BookingEvent) bool {
	bs, ps := startOrZero(b), startOrZero(prev)
	if !bs.Equal(ps) {
		return bs.After(ps)
	}
	return contactOrEmpty(b) > contactOrEmpty(prev)
}

func startOrZero(b BookingEvent) time.Time {
	if b.Start == nil {
		return time.Time{}
	}
	return *b.Start
}

func contactOrEmpty(b BookingEvent) string {
	if b.AttendeeContact == nil {
		return ""
	}
	return *b.AttendeeContact
}

// =============================================================================
// DASHBOARD COUNTERS
// =============================================================================

// Summary counts bookings by contact availability. It is independent of
// reminder status.
type Summary struct {
	Total          int `json:"total"`
	WithContact    int `json:"with_contact"`
	WithoutContact int `json:"without_contact"`
}

// Summarize reduces a booking list to dashboard counters.
func Summarize(bookings []BookingEvent) Summary {
	var s Summary
	for _, b := range bookings {
		s.Total++
		if b.HasContact() {
			s.WithContact++
		} else {
			s.WithoutContact++
		}
	}
	return s
}

// StatusCounts tallies reconciled statuses for dashboards and metrics.
func StatusCounts(statuses map[string]ReminderStatus) map[Status]int {
	counts := make(map[Status]int, len(AllStatuses))
	for _, st := range statuses {
		counts[st.Status]++
	}
	return counts
}
