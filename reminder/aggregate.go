package reminder

import "time"

// =============================================================================
// EVENT AGGREGATOR - Collapses per-trigger classifications per booking
// =============================================================================

// tracker keeps the best classification seen so far under a fixed ordering.
type tracker struct {
	best   *Classification
	better func(a, b Classification) bool
}

func (t *tracker) offer(c Classification) {
	if t.best == nil || t.better(c, *t.best) {
		picked := c
		t.best = &picked
	}
}

// latestBy prefers the greatest instant; equal instants go to the smaller
// trigger id so two triggers landing on the same minute resolve the same
// way on every pass.
func latestBy(at func(Classification) time.Time) func(a, b Classification) bool {
	return func(a, b Classification) bool {
		ta, tb := at(a), at(b)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.Schedule.TriggerID < b.Schedule.TriggerID
	}
}

func earliestBy(at func(Classification) time.Time) func(a, b Classification) bool {
	return func(a, b Classification) bool {
		ta, tb := at(a), at(b)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.Schedule.TriggerID < b.Schedule.TriggerID
	}
}

func scheduledAt(c Classification) time.Time { return c.Schedule.ScheduledAt }

// aggregation is the scan state for one booking.
type aggregation struct {
	latestFailed    tracker
	latestBlocked   tracker
	latestOverdue   tracker
	nearestUpcoming tracker
	latestSent      tracker

	totalScheduled int
	totalSent      int
}

func newAggregation() *aggregation {
	return &aggregation{
		latestFailed:    tracker{better: latestBy(scheduledAt)},
		latestBlocked:   tracker{better: latestBy(scheduledAt)},
		latestOverdue:   tracker{better: latestBy(scheduledAt)},
		nearestUpcoming: tracker{better: earliestBy(scheduledAt)},
		latestSent:      tracker{better: latestBy(Classification.sentAt)},
	}
}

func (a *aggregation) add(c Classification) {
	a.totalScheduled++
	switch c.Kind {
	case KindFailed:
		a.latestFailed.offer(c)
	case KindBlocked:
		a.latestBlocked.offer(c)
	case KindOverdue:
		a.latestOverdue.offer(c)
	case KindUpcoming:
		a.nearestUpcoming.offer(c)
	case KindSent:
		a.totalSent++
		a.latestSent.offer(c)
	}
}

// statusRule is one row of the priority table. The first rule whose pick
// reports ok decides the booking status.
type statusRule struct {
	status Status
	pick   func(a *aggregation) (winner *Classification, ok bool)
}

func fromTracker(get func(a *aggregation) *tracker) func(a *aggregation) (*Classification, bool) {
	return func(a *aggregation) (*Classification, bool) {
		best := get(a).best
		return best, best != nil
	}
}

// statusPriority is evaluated top to bottom. New statuses are added by
// inserting a row; existing precedence is never implied by code order
// elsewhere.
var statusPriority = []statusRule{
	{StatusFailed, fromTracker(func(a *aggregation) *tracker { return &a.latestFailed })},
	{StatusBlocked, fromTracker(func(a *aggregation) *tracker { return &a.latestBlocked })},
	{StatusOverdue, fromTracker(func(a *aggregation) *tracker { return &a.latestOverdue })},
	{StatusUpcoming, fromTracker(func(a *aggregation) *tracker { return &a.nearestUpcoming })},
	{StatusSent, fromTracker(func(a *aggregation) *tracker { return &a.latestSent })},
	{StatusNoTrigger, func(a *aggregation) (*Classification, bool) { return nil, a.totalScheduled == 0 }},
	{StatusUnknown, func(a *aggregation) (*Classification, bool) { return nil, true }},
}

func (a *aggregation) resolve() ReminderStatus {
	for _, rule := range statusPriority {
		if winner, ok := rule.pick(a); ok {
			return ReminderStatus{
				Status:         rule.status,
				TotalScheduled: a.totalScheduled,
				TotalSent:      a.totalSent,
				Winner:         winner,
			}
		}
	}
	return ReminderStatus{Status: StatusUnknown, TotalScheduled: a.totalScheduled, TotalSent: a.totalSent}
}

// Aggregate reconciles one booking against all triggers and its logs.
//
// no-contact and missing-start short-circuit before any trigger is looked
// at and report zero counters. Inactive triggers are ignored entirely.
func Aggregate(booking BookingEvent, triggers []ReminderTrigger, logs LogIndex, now time.Time, cfg Config) ReminderStatus {
	if !booking.HasContact() {
		return ReminderStatus{Status: StatusNoContact}
	}
	if !booking.HasStart() {
		return ReminderStatus{Status: StatusMissingStart}
	}

	agg := newAggregation()
	for _, t := range triggers {
		if !t.IsActive {
			continue
		}
		c, ok := Classify(booking.Start, t, logs.For(booking.UID, t.ID), now, cfg)
		if !ok {
			return ReminderStatus{Status: StatusMissingStart}
		}
		agg.add(c)
	}
	return agg.resolve()
}
