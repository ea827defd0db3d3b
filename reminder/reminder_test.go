package reminder_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func booking(uid, start string) reminder.BookingEvent {
	b := reminder.BookingEvent{UID: uid, AttendeeContact: ptr("+15550100")}
	if start != "" {
		b.Start = ptr(at(start))
	}
	return b
}

func trigger(id string, amount float64, unit reminder.OffsetUnit, created string) reminder.ReminderTrigger {
	return reminder.ReminderTrigger{
		ID:           id,
		OffsetAmount: amount,
		OffsetUnit:   unit,
		IsActive:     true,
		CreatedAt:    at(created),
	}
}

func logEntry(triggerID, uid, scheduledFor, executedAt string, success bool) reminder.DispatchLogEntry {
	e := reminder.DispatchLogEntry{TriggerID: triggerID, BookingUID: uid, Success: success}
	if scheduledFor != "" {
		e.ScheduledFor = ptr(at(scheduledFor))
	}
	if executedAt != "" {
		e.ExecutedAt = ptr(at(executedAt))
	}
	return e
}

// =============================================================================
// OFFSET CONVERSION
// =============================================================================

func TestToMinutes(t *testing.T) {
	tests := []struct {
		amount float64
		unit   reminder.OffsetUnit
		want   int64
	}{
		{90, reminder.UnitMinutes, 90},
		{2, reminder.UnitHours, 120},
		{1, reminder.UnitDays, 1440},
		{0, reminder.UnitHours, 0},
		{1.5, reminder.UnitHours, 90},
		{0.5, reminder.UnitMinutes, 1},
		{-3, reminder.UnitHours, 0},
		{-0.4, reminder.UnitMinutes, 0},
		{5, reminder.OffsetUnit("weeks"), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reminder.ToMinutes(tt.amount, tt.unit), "%v %s", tt.amount, tt.unit)
	}
}

func TestToMinutes_SaturatesHugeOffsets(t *testing.T) {
	assert.Equal(t, reminder.MaxOffsetMinutes, reminder.ToMinutes(1e9, reminder.UnitDays))
	assert.Equal(t, reminder.MaxOffsetMinutes, reminder.ToMinutes(1e30, reminder.UnitDays))
	assert.Equal(t, reminder.MaxOffsetMinutes, reminder.ToMinutes(math.MaxFloat64, reminder.UnitMinutes))
	assert.Equal(t, int64(0), reminder.ToMinutes(math.Inf(1), reminder.UnitDays))
}

func TestOffsetLabel(t *testing.T) {
	assert.Equal(t, "1 minute", reminder.OffsetLabel(1, reminder.UnitMinutes))
	assert.Equal(t, "30 minutes", reminder.OffsetLabel(30, reminder.UnitMinutes))
	assert.Equal(t, "1 day", reminder.OffsetLabel(1, reminder.UnitDays))
	assert.Equal(t, "2 hours", reminder.OffsetLabel(2, reminder.UnitHours))
	assert.Equal(t, "1,440 minutes", reminder.OffsetLabel(1440, reminder.UnitMinutes))
	assert.Equal(t, "3 weeks", reminder.OffsetLabel(3, reminder.OffsetUnit("weeks")))
}

// =============================================================================
// SCHEDULE + GRACE
// =============================================================================

func TestComputeScheduledAt(t *testing.T) {
	start := at("2024-01-10T15:00:00Z")

	got, ok := reminder.ComputeScheduledAt(&start, 30)
	require.True(t, ok)
	assert.Equal(t, at("2024-01-10T14:30:00Z"), got)

	_, ok = reminder.ComputeScheduledAt(nil, 30)
	assert.False(t, ok, "nil start is invalid")

	_, ok = reminder.ComputeScheduledAt(&time.Time{}, 30)
	assert.False(t, ok, "zero start is invalid")
}

func TestComputeScheduledAt_HugeOffsetStaysBeforeStart(t *testing.T) {
	start := at("2024-01-10T15:00:00Z")

	for _, minutes := range []int64{
		reminder.ToMinutes(1e9, reminder.UnitDays),
		reminder.MaxOffsetMinutes,
		math.MaxInt64,
	} {
		got, ok := reminder.ComputeScheduledAt(&start, minutes)
		require.True(t, ok)
		assert.True(t, got.Before(start), "offset %d gave %s", minutes, got)
	}
}

func TestReconcile_HugeOffsetNeverLandsAfterStart(t *testing.T) {
	// GIVEN: a trigger whose offset overflows a duration
	bookings := []reminder.BookingEvent{booking("b1", "2024-01-10T15:00:00Z")}
	triggers := []reminder.ReminderTrigger{trigger("t-huge", 1e9, reminder.UnitDays, "2024-01-01T00:00:00Z")}

	// WHEN
	out, err := reminder.Reconcile(bookings, triggers, nil, at("2024-01-10T14:00:00Z"), reminder.DefaultConfig())

	// THEN: the schedule is clamped centuries before the trigger existed
	// instead of wrapping past start into "upcoming"
	require.NoError(t, err)
	st := out["b1"]
	assert.Equal(t, reminder.StatusBlocked, st.Status)
	require.NotNil(t, st.Winner)
	assert.True(t, st.Winner.Schedule.ScheduledAt.Before(at("2024-01-01T00:00:00Z")))
}

func TestActivationAt_UsesLaterOfCreatedAndUpdated(t *testing.T) {
	tr := trigger("t1", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")
	assert.Equal(t, at("2024-01-01T00:00:00Z"), reminder.ActivationAt(tr))

	tr.UpdatedAt = ptr(at("2024-01-05T00:00:00Z"))
	assert.Equal(t, at("2024-01-05T00:00:00Z"), reminder.ActivationAt(tr))

	tr.UpdatedAt = ptr(at("2023-12-01T00:00:00Z"))
	assert.Equal(t, at("2024-01-01T00:00:00Z"), reminder.ActivationAt(tr), "older updated_at is ignored")
}

func TestGrace_ScheduleBeforeDeadlineIsBlocked(t *testing.T) {
	// GIVEN: trigger created at T, grace 5min, schedule at T+2min
	// WHEN: classifying long after the schedule elapsed
	// THEN: blocked, never overdue
	created := "2024-01-10T14:28:00Z"
	tr := trigger("t1", 30, reminder.UnitMinutes, created)
	b := booking("b1", "2024-01-10T15:00:00Z")

	c, ok := reminder.Classify(b.Start, tr, nil, at("2024-01-10T16:00:00Z"), reminder.DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, reminder.KindBlocked, c.Kind)
	assert.True(t, c.Schedule.Blocked)
	require.NotNil(t, c.Schedule.GraceDeadline)
	assert.Equal(t, at("2024-01-10T14:33:00Z"), *c.Schedule.GraceDeadline)
}

func TestGrace_ZeroGraceReportsOverdue(t *testing.T) {
	// GIVEN: trigger created at T, schedule at T+2min, grace disabled
	// WHEN: reconciling at the booking start
	// THEN: nothing is suppressed, the missed reminder is overdue
	bookings := []reminder.BookingEvent{booking("b1", "2024-01-10T15:00:00Z")}
	triggers := []reminder.ReminderTrigger{trigger("t1", 30, reminder.UnitMinutes, "2024-01-10T14:28:00Z")}
	cfg := reminder.Config{Grace: 0, Tolerance: reminder.DefaultTolerance}

	out, err := reminder.Reconcile(bookings, triggers, nil, at("2024-01-10T15:00:00Z"), cfg)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusOverdue, out["b1"].Status)

	out, err = reminder.Reconcile(bookings, triggers, nil, at("2024-01-10T15:00:00Z"), reminder.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusBlocked, out["b1"].Status)
}

func TestFindMatch_ZeroToleranceIsExact(t *testing.T) {
	scheduled := at("2024-01-10T14:30:00Z")

	exact := []reminder.DispatchLogEntry{logEntry("t1", "b1", "2024-01-10T14:30:00Z", "", true)}
	assert.NotNil(t, reminder.FindMatch(scheduled, exact, 0))

	late := []reminder.DispatchLogEntry{logEntry("t1", "b1", "2024-01-10T14:30:01Z", "", true)}
	assert.Nil(t, reminder.FindMatch(scheduled, late, 0))
}

func TestGrace_EditedTriggerBlocksFromUpdateTime(t *testing.T) {
	// GIVEN: trigger created long ago but edited after the schedule elapsed
	tr := trigger("t1", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")
	tr.UpdatedAt = ptr(at("2024-01-10T14:40:00Z"))
	b := booking("b1", "2024-01-10T15:00:00Z")

	c, ok := reminder.Classify(b.Start, tr, nil, at("2024-01-10T14:45:00Z"), reminder.DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, reminder.KindBlocked, c.Kind)
}

func TestGrace_BlockedIgnoresMatchingLog(t *testing.T) {
	tr := trigger("t1", 30, reminder.UnitMinutes, "2024-01-10T14:29:00Z")
	b := booking("b1", "2024-01-10T15:00:00Z")
	logs := []reminder.DispatchLogEntry{logEntry("t1", "b1", "2024-01-10T14:30:00Z", "2024-01-10T14:30:01Z", true)}

	c, ok := reminder.Classify(b.Start, tr, logs, at("2024-01-10T14:45:00Z"), reminder.DefaultConfig())
	require.True(t, ok)
	assert.Equal(t, reminder.KindBlocked, c.Kind)
	assert.Nil(t, c.Log)
}

// =============================================================================
// LOG MATCHER
// =============================================================================

func TestFindMatch_Tolerance(t *testing.T) {
	scheduled := at("2024-01-10T14:30:00Z")

	within := []reminder.DispatchLogEntry{logEntry("t1", "b1", "2024-01-10T14:33:00Z", "", true)}
	assert.NotNil(t, reminder.FindMatch(scheduled, within, 5*time.Minute))

	before := []reminder.DispatchLogEntry{logEntry("t1", "b1", "2024-01-10T14:25:00Z", "", true)}
	assert.NotNil(t, reminder.FindMatch(scheduled, before, 5*time.Minute), "boundary is inclusive")

	outside := []reminder.DispatchLogEntry{logEntry("t1", "b1", "2024-01-10T14:40:00Z", "", true)}
	assert.Nil(t, reminder.FindMatch(scheduled, outside, 5*time.Minute))

	missing := []reminder.DispatchLogEntry{logEntry("t1", "b1", "", "2024-01-10T14:30:00Z", true)}
	assert.Nil(t, reminder.FindMatch(scheduled, missing, 5*time.Minute), "entries without scheduled_for never match")
}

func TestFindMatch_PrefersMostRecentAttempt(t *testing.T) {
	scheduled := at("2024-01-10T14:30:00Z")
	entries := []reminder.DispatchLogEntry{
		logEntry("t1", "b1", "2024-01-10T14:30:00Z", "2024-01-10T14:30:05Z", false),
		logEntry("t1", "b1", "2024-01-10T14:31:00Z", "2024-01-10T14:32:00Z", true),
		logEntry("t1", "b1", "2024-01-10T14:29:00Z", "", false),
	}

	got := reminder.FindMatch(scheduled, entries, 5*time.Minute)
	require.NotNil(t, got)
	assert.True(t, got.Success)
	assert.Equal(t, at("2024-01-10T14:32:00Z"), *got.ExecutedAt)
}

func TestFindMatch_OrderIndependent(t *testing.T) {
	scheduled := at("2024-01-10T14:30:00Z")
	a := logEntry("t1", "b1", "2024-01-10T14:31:00Z", "2024-01-10T14:31:00Z", false)
	a.ErrorMessage = ptr("timeout")
	b := logEntry("t1", "b1", "2024-01-10T14:31:00Z", "2024-01-10T14:31:00Z", true)

	first := reminder.FindMatch(scheduled, []reminder.DispatchLogEntry{a, b}, 5*time.Minute)
	second := reminder.FindMatch(scheduled, []reminder.DispatchLogEntry{b, a}, 5*time.Minute)
	require.NotNil(t, first)
	assert.Equal(t, first, second)
	assert.True(t, first.Success)
}

// =============================================================================
// CLASSIFIER + AGGREGATOR
// =============================================================================

func TestAggregate_FailedBeatsUpcoming(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	triggers := []reminder.ReminderTrigger{
		trigger("t-day", 1, reminder.UnitDays, "2024-01-01T00:00:00Z"),
		trigger("t-30", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z"),
	}
	failed := logEntry("t-day", "b1", "2024-01-09T15:00:00Z", "2024-01-09T15:00:10Z", false)
	failed.ErrorMessage = ptr("recipient not on whatsapp")
	logs := reminder.IndexLogs([]reminder.DispatchLogEntry{failed})

	st := reminder.Aggregate(b, triggers, logs, at("2024-01-10T12:00:00Z"), reminder.DefaultConfig())

	assert.Equal(t, reminder.StatusFailed, st.Status)
	assert.Equal(t, 2, st.TotalScheduled)
	assert.Equal(t, 0, st.TotalSent)
	require.NotNil(t, st.Winner)
	assert.Equal(t, "t-day", st.Winner.Schedule.TriggerID)
	assert.Equal(t, "recipient not on whatsapp", *st.Winner.ErrorMessage())
}

func TestAggregate_NoContactBeatsNoTrigger(t *testing.T) {
	b := reminder.BookingEvent{UID: "b1", Start: ptr(at("2024-01-10T15:00:00Z"))}

	st := reminder.Aggregate(b, nil, nil, at("2024-01-10T12:00:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusNoContact, st.Status)
	assert.Zero(t, st.TotalScheduled)
}

func TestAggregate_BlankContactIsNoContact(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	b.AttendeeContact = ptr("   ")

	st := reminder.Aggregate(b, nil, nil, at("2024-01-10T12:00:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusNoContact, st.Status)
}

func TestAggregate_MissingStartSkipsTriggers(t *testing.T) {
	b := booking("b1", "")
	triggers := []reminder.ReminderTrigger{trigger("t1", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")}

	st := reminder.Aggregate(b, triggers, nil, at("2024-01-10T12:00:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusMissingStart, st.Status)
	assert.Zero(t, st.TotalScheduled)
	assert.Zero(t, st.TotalSent)
}

func TestAggregate_NoActiveTriggers(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	inactive := trigger("t1", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")
	inactive.IsActive = false

	st := reminder.Aggregate(b, []reminder.ReminderTrigger{inactive}, nil, at("2024-01-10T12:00:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusNoTrigger, st.Status)
	assert.Zero(t, st.TotalScheduled)
	assert.Nil(t, st.Winner)
}

func TestAggregate_BlockedCountsTowardTotal(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	triggers := []reminder.ReminderTrigger{
		trigger("t-new", 30, reminder.UnitMinutes, "2024-01-10T14:29:00Z"),
		trigger("t-old", 10, reminder.UnitMinutes, "2024-01-01T00:00:00Z"),
	}

	st := reminder.Aggregate(b, triggers, nil, at("2024-01-10T14:40:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusBlocked, st.Status, "blocked outranks upcoming")
	assert.Equal(t, 2, st.TotalScheduled)
}

func TestAggregate_OverduePicksMostRecentlyMissed(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	triggers := []reminder.ReminderTrigger{
		trigger("t-2h", 2, reminder.UnitHours, "2024-01-01T00:00:00Z"),
		trigger("t-1h", 1, reminder.UnitHours, "2024-01-01T00:00:00Z"),
	}

	st := reminder.Aggregate(b, triggers, nil, at("2024-01-10T14:30:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusOverdue, st.Status)
	require.NotNil(t, st.Winner)
	assert.Equal(t, "t-1h", st.Winner.Schedule.TriggerID)
}

func TestAggregate_UpcomingPicksNearest(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	triggers := []reminder.ReminderTrigger{
		trigger("t-30", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z"),
		trigger("t-1h", 1, reminder.UnitHours, "2024-01-01T00:00:00Z"),
	}

	st := reminder.Aggregate(b, triggers, nil, at("2024-01-10T12:00:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusUpcoming, st.Status)
	require.NotNil(t, st.Winner)
	assert.Equal(t, "t-1h", st.Winner.Schedule.TriggerID)
	assert.Equal(t, "1 hour", st.Winner.Schedule.OffsetLabel)
}

func TestAggregate_TiesBrokenByTriggerID(t *testing.T) {
	// GIVEN: two triggers that land on the same instant (60 minutes == 1 hour)
	b := booking("b1", "2024-01-10T15:00:00Z")
	forward := []reminder.ReminderTrigger{
		trigger("t-b", 60, reminder.UnitMinutes, "2024-01-01T00:00:00Z"),
		trigger("t-a", 1, reminder.UnitHours, "2024-01-01T00:00:00Z"),
	}
	reversed := []reminder.ReminderTrigger{forward[1], forward[0]}
	now := at("2024-01-10T12:00:00Z")

	st1 := reminder.Aggregate(b, forward, nil, now, reminder.DefaultConfig())
	st2 := reminder.Aggregate(b, reversed, nil, now, reminder.DefaultConfig())

	require.NotNil(t, st1.Winner)
	assert.Equal(t, "t-a", st1.Winner.Schedule.TriggerID)
	assert.Equal(t, st1, st2)
}

func TestAggregate_AllSent(t *testing.T) {
	b := booking("b1", "2024-01-10T15:00:00Z")
	triggers := []reminder.ReminderTrigger{
		trigger("t-1h", 1, reminder.UnitHours, "2024-01-01T00:00:00Z"),
		trigger("t-30", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z"),
	}
	logs := reminder.IndexLogs([]reminder.DispatchLogEntry{
		logEntry("t-1h", "b1", "2024-01-10T14:00:00Z", "2024-01-10T14:00:03Z", true),
		logEntry("t-30", "b1", "2024-01-10T14:30:00Z", "2024-01-10T14:30:02Z", true),
	})

	st := reminder.Aggregate(b, triggers, logs, at("2024-01-10T14:50:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusSent, st.Status)
	assert.Equal(t, 2, st.TotalSent)
	require.NotNil(t, st.Winner)
	assert.Equal(t, "t-30", st.Winner.Schedule.TriggerID, "latest execution wins")
}

func TestAggregate_LogsOfOtherBookingNotCredited(t *testing.T) {
	// A send recorded for another booking sharing the trigger must not count.
	b := booking("b1", "2024-01-10T15:00:00Z")
	triggers := []reminder.ReminderTrigger{trigger("t1", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")}
	logs := reminder.IndexLogs([]reminder.DispatchLogEntry{
		logEntry("t1", "b2", "2024-01-10T14:30:00Z", "2024-01-10T14:30:00Z", true),
	})

	st := reminder.Aggregate(b, triggers, logs, at("2024-01-10T14:45:00Z"), reminder.DefaultConfig())
	assert.Equal(t, reminder.StatusOverdue, st.Status)
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func endToEnd(t *testing.T, now string, logs []reminder.DispatchLogEntry) reminder.ReminderStatus {
	t.Helper()
	bookings := []reminder.BookingEvent{booking("bk-1", "2024-01-10T15:00:00Z")}
	triggers := []reminder.ReminderTrigger{trigger("trg-30", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")}

	out, err := reminder.Reconcile(bookings, triggers, reminder.IndexLogs(logs), at(now), reminder.DefaultConfig())
	require.NoError(t, err)
	require.Contains(t, out, "bk-1")
	return out["bk-1"]
}

func TestReconcile_UpcomingBeforeSchedule(t *testing.T) {
	st := endToEnd(t, "2024-01-10T14:20:00Z", nil)

	assert.Equal(t, reminder.StatusUpcoming, st.Status)
	assert.Equal(t, 1, st.TotalScheduled)
	assert.Equal(t, 0, st.TotalSent)
	require.NotNil(t, st.Winner)
	assert.Equal(t, at("2024-01-10T14:30:00Z"), st.Winner.Schedule.ScheduledAt)
	assert.False(t, st.Winner.Schedule.Blocked)
}

func TestReconcile_OverdueWithoutLog(t *testing.T) {
	st := endToEnd(t, "2024-01-10T14:45:00Z", nil)
	assert.Equal(t, reminder.StatusOverdue, st.Status)
}

func TestReconcile_SentWithinTolerance(t *testing.T) {
	st := endToEnd(t, "2024-01-10T14:45:00Z", []reminder.DispatchLogEntry{
		logEntry("trg-30", "bk-1", "2024-01-10T14:31:00Z", "2024-01-10T14:30:05Z", true),
	})

	assert.Equal(t, reminder.StatusSent, st.Status)
	assert.Equal(t, 1, st.TotalSent)
	require.NotNil(t, st.Winner.ExecutedAt())
	assert.Equal(t, at("2024-01-10T14:30:05Z"), *st.Winner.ExecutedAt())
}

func TestReconcile_LogOutsideToleranceIsOverdue(t *testing.T) {
	st := endToEnd(t, "2024-01-10T14:45:00Z", []reminder.DispatchLogEntry{
		logEntry("trg-30", "bk-1", "2024-01-10T14:40:00Z", "2024-01-10T14:40:01Z", true),
	})
	assert.Equal(t, reminder.StatusOverdue, st.Status)
	assert.Equal(t, 0, st.TotalSent)
}

func TestReconcile_ScheduleAtNowIsOverdue(t *testing.T) {
	st := endToEnd(t, "2024-01-10T14:30:00Z", nil)
	assert.Equal(t, reminder.StatusOverdue, st.Status)
}

func TestReconcile_CustomTolerance(t *testing.T) {
	bookings := []reminder.BookingEvent{booking("bk-1", "2024-01-10T15:00:00Z")}
	triggers := []reminder.ReminderTrigger{trigger("trg-30", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")}
	logs := reminder.IndexLogs([]reminder.DispatchLogEntry{
		logEntry("trg-30", "bk-1", "2024-01-10T14:40:00Z", "2024-01-10T14:40:01Z", true),
	})

	out, err := reminder.Reconcile(bookings, triggers, logs, at("2024-01-10T14:45:00Z"),
		reminder.Config{Grace: reminder.DefaultGrace, Tolerance: 15 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusSent, out["bk-1"].Status)
}

func TestReconcile_Deterministic(t *testing.T) {
	bookings := []reminder.BookingEvent{
		booking("b1", "2024-01-10T15:00:00Z"),
		booking("b2", "2024-01-11T09:00:00Z"),
		booking("b3", ""),
		{UID: "b4", Start: ptr(at("2024-01-10T16:00:00Z"))},
	}
	triggers := []reminder.ReminderTrigger{
		trigger("t-1d", 1, reminder.UnitDays, "2024-01-01T00:00:00Z"),
		trigger("t-2h", 2, reminder.UnitHours, "2024-01-01T00:00:00Z"),
		trigger("t-30", 30, reminder.UnitMinutes, "2024-01-10T14:00:00Z"),
	}
	logs := reminder.IndexLogs([]reminder.DispatchLogEntry{
		logEntry("t-1d", "b1", "2024-01-09T15:01:00Z", "2024-01-09T15:01:30Z", true),
		logEntry("t-2h", "b1", "2024-01-10T13:00:00Z", "2024-01-10T13:00:10Z", false),
	})
	now := at("2024-01-10T14:50:00Z")

	first, err := reminder.Reconcile(bookings, triggers, logs, now, reminder.DefaultConfig())
	require.NoError(t, err)

	revBookings := []reminder.BookingEvent{bookings[3], bookings[2], bookings[1], bookings[0]}
	revTriggers := []reminder.ReminderTrigger{triggers[2], triggers[1], triggers[0]}
	for i := 0; i < 5; i++ {
		again, err := reminder.Reconcile(revBookings, revTriggers, logs, now, reminder.DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Equal(t, reminder.StatusFailed, first["b1"].Status)
	assert.Equal(t, 1, first["b1"].TotalSent)
	assert.Equal(t, 3, first["b1"].TotalScheduled)
	assert.Equal(t, reminder.StatusMissingStart, first["b3"].Status)
	assert.Equal(t, reminder.StatusNoContact, first["b4"].Status)
}

func TestReconcile_DuplicateUIDResolvedByStart(t *testing.T) {
	early := booking("b1", "2024-01-10T15:00:00Z")
	late := booking("b1", "2024-01-12T15:00:00Z")
	triggers := []reminder.ReminderTrigger{trigger("t1", 30, reminder.UnitMinutes, "2024-01-01T00:00:00Z")}
	now := at("2024-01-10T16:00:00Z")

	a, err := reminder.Reconcile([]reminder.BookingEvent{early, late}, triggers, nil, now, reminder.DefaultConfig())
	require.NoError(t, err)
	b, err := reminder.Reconcile([]reminder.BookingEvent{late, early}, triggers, nil, now, reminder.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, reminder.StatusUpcoming, a["b1"].Status)
}

func TestDistinct(t *testing.T) {
	early := booking("b1", "2024-01-10T15:00:00Z")
	late := booking("b1", "2024-01-12T15:00:00Z")
	other := booking("b2", "2024-01-11T15:00:00Z")

	out := reminder.Distinct([]reminder.BookingEvent{early, other, late, booking("", "")})

	require.Len(t, out, 2)
	assert.Equal(t, "b1", out[0].UID, "first appearance keeps its position")
	assert.Equal(t, late.Start, out[0].Start)
	assert.Equal(t, "b2", out[1].UID)
}

func TestReconcile_SkipsEmptyUID(t *testing.T) {
	out, err := reminder.Reconcile([]reminder.BookingEvent{booking("", "2024-01-10T15:00:00Z")}, nil, nil,
		at("2024-01-10T12:00:00Z"), reminder.Config{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReconcile_MalformedTriggerClampsToStart(t *testing.T) {
	// GIVEN: a trigger with a negative offset and one with an unknown unit
	bookings := []reminder.BookingEvent{booking("b1", "2024-01-10T15:00:00Z")}
	triggers := []reminder.ReminderTrigger{
		trigger("t-neg", -5, reminder.UnitHours, "2024-01-01T00:00:00Z"),
		trigger("t-bad", 3, reminder.OffsetUnit("fortnights"), "2024-01-01T00:00:00Z"),
	}

	out, err := reminder.Reconcile(bookings, triggers, nil, at("2024-01-10T14:00:00Z"), reminder.DefaultConfig())
	require.NoError(t, err)
	st := out["b1"]
	assert.Equal(t, reminder.StatusUpcoming, st.Status)
	assert.Equal(t, 2, st.TotalScheduled)
	assert.Equal(t, at("2024-01-10T15:00:00Z"), st.Winner.Schedule.ScheduledAt)
}

func TestReconcile_InvalidNow(t *testing.T) {
	_, err := reminder.Reconcile(nil, nil, nil, time.Time{}, reminder.DefaultConfig())
	assert.ErrorIs(t, err, reminder.ErrInvalidNow)
}

func TestReconcile_InvalidConfig(t *testing.T) {
	_, err := reminder.Reconcile(nil, nil, nil, at("2024-01-10T12:00:00Z"), reminder.Config{Grace: -time.Second})
	assert.ErrorIs(t, err, reminder.ErrInvalidConfig)

	var cfgErr *reminder.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "grace", cfgErr.Field)
}

// =============================================================================
// COUNTERS
// =============================================================================

func TestSummarize(t *testing.T) {
	bookings := []reminder.BookingEvent{
		booking("b1", "2024-01-10T15:00:00Z"),
		booking("b2", ""),
		{UID: "b3"},
		{UID: "b4", AttendeeContact: ptr("")},
	}
	assert.Equal(t, reminder.Summary{Total: 4, WithContact: 2, WithoutContact: 2}, reminder.Summarize(bookings))
	assert.Equal(t, reminder.Summary{}, reminder.Summarize(nil))
}

func TestStatusCounts(t *testing.T) {
	counts := reminder.StatusCounts(map[string]reminder.ReminderStatus{
		"a": {Status: reminder.StatusSent},
		"b": {Status: reminder.StatusSent},
		"c": {Status: reminder.StatusOverdue},
	})
	assert.Equal(t, 2, counts[reminder.StatusSent])
	assert.Equal(t, 1, counts[reminder.StatusOverdue])
	assert.Zero(t, counts[reminder.StatusFailed])
}

func TestLogIndex(t *testing.T) {
	idx := reminder.IndexLogs([]reminder.DispatchLogEntry{
		logEntry("t1", "b1", "2024-01-10T14:30:00Z", "", true),
		logEntry("t1", "b1", "2024-01-10T14:31:00Z", "", false),
		logEntry("t2", "b2", "2024-01-10T14:30:00Z", "", true),
	})
	assert.Len(t, idx.For("b1", "t1"), 2)
	assert.Len(t, idx.For("b2", "t2"), 1)
	assert.Nil(t, idx.For("b3", "t1"))
	assert.Equal(t, 3, idx.Len())

	var empty reminder.LogIndex
	assert.Nil(t, empty.For("b1", "t1"))
}
