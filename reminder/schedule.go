package reminder

import "time"

// =============================================================================
// SCHEDULE CALCULATOR
// =============================================================================

// ComputeScheduledAt returns start minus the offset. ok is false when start
// is nil or zero, which callers must treat as missing-start for the whole
// booking regardless of triggers. The offset is clamped to
// [0, MaxOffsetMinutes], so scheduledAt never lies after start.
func ComputeScheduledAt(start *time.Time, offsetMinutes int64) (scheduledAt time.Time, ok bool) {
	if start == nil || start.IsZero() {
		return time.Time{}, false
	}
	offsetMinutes = min(max(offsetMinutes, 0), MaxOffsetMinutes)
	return start.Add(-time.Duration(offsetMinutes) * time.Minute), true
}

// =============================================================================
// GRACE FILTER
// =============================================================================

// ActivationAt is the instant the trigger took its current form:
// max(CreatedAt, UpdatedAt ?? CreatedAt).
func ActivationAt(t ReminderTrigger) time.Time {
	if t.UpdatedAt != nil && t.UpdatedAt.After(t.CreatedAt) {
		return *t.UpdatedAt
	}
	return t.CreatedAt
}

// GraceDeadline is activation + grace. It returns nil when the trigger
// carries no timestamps at all, in which case nothing is suppressed.
func GraceDeadline(t ReminderTrigger, grace time.Duration) *time.Time {
	activation := ActivationAt(t)
	if activation.IsZero() {
		return nil
	}
	deadline := activation.Add(grace)
	return &deadline
}

// IsBlocked reports whether a schedule precedes the grace deadline. A
// schedule that lies before the rule existed in its current form could
// never have fired and must not be reported as overdue.
func IsBlocked(scheduledAt time.Time, deadline *time.Time) bool {
	return deadline != nil && scheduledAt.Before(*deadline)
}

// BuildSchedule derives the ComputedSchedule for one (booking start, trigger).
func BuildSchedule(start *time.Time, t ReminderTrigger, grace time.Duration) (ComputedSchedule, bool) {
	scheduledAt, ok := ComputeScheduledAt(start, ToMinutes(t.OffsetAmount, t.OffsetUnit))
	if !ok {
		return ComputedSchedule{}, false
	}
	deadline := GraceDeadline(t, grace)
	return ComputedSchedule{
		TriggerID:     t.ID,
		ScheduledAt:   scheduledAt,
		OffsetLabel:   OffsetLabel(t.OffsetAmount, t.OffsetUnit),
		Blocked:       IsBlocked(scheduledAt, deadline),
		GraceDeadline: deadline,
	}, true
}
