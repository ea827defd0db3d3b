package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
	"github.com/warp/reminder-engine/store/sqlite"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveAgent(ctx, pipeline.Agent{ID: "agent-a", Name: "Front desk", Active: true}))
	require.NoError(t, store.SaveBookings(ctx, "agent-a", []reminder.BookingEvent{
		{UID: "bk-1", Start: ptr(at("2024-01-10T15:00:00Z")), AttendeeContact: ptr("+15550100"), Title: "Consult"},
		{UID: "bk-2", AttendeeContact: ptr("+15550101")},
		{UID: "bk-3", Start: ptr(at("2024-01-02T09:00:00Z")), Status: "past"},
	}))
	require.NoError(t, store.SaveTriggers(ctx, "agent-a", []reminder.ReminderTrigger{
		{ID: "trg-30", OffsetAmount: 30, OffsetUnit: reminder.UnitMinutes, IsActive: true, CreatedAt: at("2024-01-01T00:00:00Z")},
		{ID: "trg-2h", OffsetAmount: 2, OffsetUnit: reminder.UnitHours, IsActive: false,
			CreatedAt: at("2024-01-01T00:00:00Z"), UpdatedAt: ptr(at("2024-01-03T00:00:00Z"))},
	}))
	require.NoError(t, store.AppendDispatchLogs(ctx, "agent-a", []reminder.DispatchLogEntry{
		{TriggerID: "trg-30", BookingUID: "bk-1", ScheduledFor: ptr(at("2024-01-10T14:31:00Z")),
			ExecutedAt: ptr(at("2024-01-10T14:30:05Z")), Success: true},
		{TriggerID: "trg-30", BookingUID: "bk-3", Success: false, ErrorMessage: ptr("invalid number")},
	}))
}

func TestStore_RoundTrip(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Agent{{ID: "agent-a", Name: "Front desk", Active: true}}, agents)

	bookings, err := store.ListBookings(ctx, "agent-a", pipeline.BookingsUpcoming)
	require.NoError(t, err)
	require.Len(t, bookings, 2, "past booking filtered out")
	byUID := map[string]reminder.BookingEvent{}
	for _, b := range bookings {
		byUID[b.UID] = b
	}
	assert.Nil(t, byUID["bk-2"].Start)
	require.NotNil(t, byUID["bk-1"].Start)
	assert.True(t, byUID["bk-1"].Start.Equal(at("2024-01-10T15:00:00Z")))
	assert.Equal(t, "Consult", byUID["bk-1"].Title)

	all, err := store.ListBookings(ctx, "agent-a", pipeline.BookingsAll)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	triggers, err := store.ListTriggers(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "trg-2h", triggers[0].ID)
	assert.False(t, triggers[0].IsActive)
	require.NotNil(t, triggers[0].UpdatedAt)
	assert.Nil(t, triggers[1].UpdatedAt)
	assert.True(t, triggers[1].CreatedAt.Equal(at("2024-01-01T00:00:00Z")))
}

func TestStore_BookingsOrderedBySubSecondStart(t *testing.T) {
	// GIVEN: starts that differ only below the second
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAgent(ctx, pipeline.Agent{ID: "agent-a", Name: "Front desk", Active: true}))
	base := at("2024-01-10T15:00:00Z")
	require.NoError(t, store.SaveBookings(ctx, "agent-a", []reminder.BookingEvent{
		{UID: "a-half", Start: ptr(base.Add(500 * time.Millisecond))},
		{UID: "b-whole", Start: ptr(base)},
		{UID: "c-next", Start: ptr(base.Add(time.Second))},
	}))

	// WHEN
	got, err := store.ListBookings(ctx, "agent-a", pipeline.BookingsUpcoming)

	// THEN: chronological, and instants survive the round trip
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b-whole", "a-half", "c-next"}, []string{got[0].UID, got[1].UID, got[2].UID})
	assert.True(t, got[1].Start.Equal(base.Add(500*time.Millisecond)))
}

func TestStore_DispatchLogsFilteredByUID(t *testing.T) {
	store := newStore(t)
	seed(t, store)

	idx, err := store.ListDispatchLogs(context.Background(), "agent-a", []string{"bk-1", "bk-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	entries := idx.For("bk-1", "trg-30")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Nil(t, entries[0].ErrorMessage)

	idx, err = store.ListDispatchLogs(context.Background(), "agent-a", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestStore_DispatchLogsChunked(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	uids := make([]string, 0, 1200)
	for i := range 1200 {
		uids = append(uids, fmt.Sprintf("bulk-%04d", i))
	}
	uids = append(uids, "bk-3")

	idx, err := store.ListDispatchLogs(ctx, "agent-a", uids)
	require.NoError(t, err)
	entries := idx.For("bk-3", "trg-30")
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ErrorMessage)
	assert.Equal(t, "invalid number", *entries[0].ErrorMessage)
}

func TestStore_UnknownAgent(t *testing.T) {
	store := newStore(t)

	_, err := store.ListBookings(context.Background(), "ghost", pipeline.BookingsUpcoming)
	assert.ErrorIs(t, err, pipeline.ErrAgentNotFound)

	err = store.SaveBookings(context.Background(), "ghost", []reminder.BookingEvent{{UID: "x"}})
	assert.ErrorIs(t, err, pipeline.ErrAgentNotFound)

	err = store.SaveTriggers(context.Background(), "ghost", []reminder.ReminderTrigger{{ID: "t"}})
	assert.ErrorIs(t, err, pipeline.ErrAgentNotFound)

	err = store.AppendDispatchLogs(context.Background(), "ghost", []reminder.DispatchLogEntry{{TriggerID: "t", BookingUID: "x"}})
	assert.ErrorIs(t, err, pipeline.ErrAgentNotFound)
}

func TestStore_UpsertTrigger(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	// trg-30 was edited to fire an hour ahead.
	require.NoError(t, store.SaveTriggers(ctx, "agent-a", []reminder.ReminderTrigger{
		{ID: "trg-30", OffsetAmount: 60, OffsetUnit: reminder.UnitMinutes, IsActive: true,
			CreatedAt: at("2024-02-01T00:00:00Z"), UpdatedAt: ptr(at("2024-01-09T00:00:00Z"))},
	}))

	triggers, err := store.ListTriggers(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	byID := map[string]reminder.ReminderTrigger{}
	for _, tr := range triggers {
		byID[tr.ID] = tr
	}
	assert.Equal(t, 60.0, byID["trg-30"].OffsetAmount)
	assert.Equal(t, at("2024-01-01T00:00:00Z"), byID["trg-30"].CreatedAt, "created_at is kept")
}

func TestStore_UpsertBooking(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	// The calendar sync moved bk-2 and added a start.
	require.NoError(t, store.SaveBookings(ctx, "agent-a", []reminder.BookingEvent{
		{UID: "bk-2", Start: ptr(at("2024-01-11T10:00:00Z")), AttendeeContact: ptr("+15550101")},
	}))

	bookings, err := store.ListBookings(ctx, "agent-a", pipeline.BookingsUpcoming)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	for _, b := range bookings {
		assert.NotNil(t, b.Start, b.UID)
	}
}

func TestStore_Reset(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	require.NoError(t, store.Reset(context.Background()))

	agents, err := store.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestStore_FeedsOrchestrator(t *testing.T) {
	// GIVEN: the mirror with one sent reminder
	store := newStore(t)
	seed(t, store)
	orch := pipeline.NewOrchestrator(store, pipeline.Options{Logger: zerolog.Nop()})
	now := at("2024-01-10T14:45:00Z")

	// WHEN: loading and reconciling the upcoming bookings
	snap, err := orch.Load(context.Background(), "agent-a", pipeline.BookingsUpcoming)
	require.NoError(t, err)
	statuses, err := snap.Reconcile(now, reminder.DefaultConfig())
	require.NoError(t, err)

	// THEN
	assert.Equal(t, reminder.StatusSent, statuses["bk-1"].Status)
	assert.Equal(t, 1, statuses["bk-1"].TotalSent)
	assert.Equal(t, reminder.StatusMissingStart, statuses["bk-2"].Status)
}
