package reminder

import "time"

// =============================================================================
// LOG MATCHER
// =============================================================================

// FindMatch returns the dispatch log entry recorded for scheduledAt, or nil.
//
// The dispatcher computes its own due instant and may round to its polling
// granularity, so an entry matches when |ScheduledFor - scheduledAt| is
// within tolerance. Entries without ScheduledFor never match.
//
// When several entries match, the most recent (ExecutedAt, else
// ScheduledFor) wins. Remaining ties go to the smaller drift, then to a
// successful attempt, then to the lexically smaller error message, so the
// result does not depend on slice order.
func FindMatch(scheduledAt time.Time, entries []DispatchLogEntry, tolerance time.Duration) *DispatchLogEntry {
	var best *DispatchLogEntry
	var bestDrift time.Duration

	for i := range entries {
		e := &entries[i]
		if e.ScheduledFor == nil {
			continue
		}
		drift := absDuration(e.ScheduledFor.Sub(scheduledAt))
		if drift > tolerance {
			continue
		}
		if best == nil || preferEntry(e, drift, best, bestDrift) {
			best = e
			bestDrift = drift
		}
	}

	if best == nil {
		return nil
	}
	match := *best
	return &match
}

func preferEntry(candidate *DispatchLogEntry, candDrift time.Duration, current *DispatchLogEntry, curDrift time.Duration) bool {
	cr, br := candidate.recency(), current.recency()
	if !cr.Equal(br) {
		return cr.After(br)
	}
	if candDrift != curDrift {
		return candDrift < curDrift
	}
	if candidate.Success != current.Success {
		return candidate.Success
	}
	return candidate.errorText() < current.errorText()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
