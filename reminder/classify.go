package reminder

import "time"

// Classification is the outcome for one (booking, active trigger) pair.
type Classification struct {
	Schedule ComputedSchedule  `json:"schedule"`
	Kind     ClassKind         `json:"kind"`
	Log      *DispatchLogEntry `json:"log,omitempty"`
}

// ExecutedAt returns the matched log's execution time, if any.
func (c Classification) ExecutedAt() *time.Time {
	if c.Log == nil {
		return nil
	}
	return c.Log.ExecutedAt
}

// ErrorMessage returns the matched log's error message, if any.
func (c Classification) ErrorMessage() *string {
	if c.Log == nil {
		return nil
	}
	return c.Log.ErrorMessage
}

// sentAt is ExecutedAt falling back to ScheduledAt.
func (c Classification) sentAt() time.Time {
	if at := c.ExecutedAt(); at != nil {
		return *at
	}
	return c.Schedule.ScheduledAt
}

// Classify assigns one of blocked, sent, failed, overdue or upcoming.
//
//	blocked   schedule precedes the trigger's grace deadline
//	sent      a matching log reports success
//	failed    a matching log reports failure
//	overdue   no match and scheduledAt <= now
//	upcoming  no match and scheduledAt > now
//
// ok is false when start is not a valid instant.
func Classify(start *time.Time, t ReminderTrigger, logs []DispatchLogEntry, now time.Time, cfg Config) (Classification, bool) {
	schedule, ok := BuildSchedule(start, t, cfg.Grace)
	if !ok {
		return Classification{}, false
	}
	if schedule.Blocked {
		return Classification{Schedule: schedule, Kind: KindBlocked}, true
	}

	if match := FindMatch(schedule.ScheduledAt, logs, cfg.Tolerance); match != nil {
		kind := KindFailed
		if match.Success {
			kind = KindSent
		}
		return Classification{Schedule: schedule, Kind: kind, Log: match}, true
	}

	if !schedule.ScheduledAt.After(now) {
		return Classification{Schedule: schedule, Kind: KindOverdue}, true
	}
	return Classification{Schedule: schedule, Kind: KindUpcoming}, true
}
