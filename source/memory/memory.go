// Package memory provides an in-memory pipeline.Source.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// MEMORY SOURCE - In-memory implementation (for testing/dev)
// =============================================================================

type Source struct {
	mu       sync.RWMutex
	agents   map[string]pipeline.Agent
	bookings map[string][]reminder.BookingEvent
	triggers map[string][]reminder.ReminderTrigger
	logs     map[string][]reminder.DispatchLogEntry

	failures map[pipeline.Stage]error
	gates    map[gateKey]chan struct{}
	calls    map[pipeline.Stage]int
}

type gateKey struct {
	stage   pipeline.Stage
	agentID string
}

var _ pipeline.Source = (*Source)(nil)

func New() *Source {
	return &Source{
		agents:   make(map[string]pipeline.Agent),
		bookings: make(map[string][]reminder.BookingEvent),
		triggers: make(map[string][]reminder.ReminderTrigger),
		logs:     make(map[string][]reminder.DispatchLogEntry),
		failures: make(map[pipeline.Stage]error),
		gates:    make(map[gateKey]chan struct{}),
		calls:    make(map[pipeline.Stage]int),
	}
}

// =============================================================================
// WRITES - Used by scenarios and tests
// =============================================================================

func (s *Source) PutAgent(a pipeline.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

func (s *Source) PutBookings(agentID string, bookings ...reminder.BookingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[agentID] = append(s.bookings[agentID], bookings...)
}

func (s *Source) PutTriggers(agentID string, triggers ...reminder.ReminderTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[agentID] = append(s.triggers[agentID], triggers...)
}

func (s *Source) PutLogs(agentID string, entries ...reminder.DispatchLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[agentID] = append(s.logs[agentID], entries...)
}

// Reset clears data, failures and gates.
func (s *Source) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.gates {
		close(g)
	}
	s.agents = make(map[string]pipeline.Agent)
	s.bookings = make(map[string][]reminder.BookingEvent)
	s.triggers = make(map[string][]reminder.ReminderTrigger)
	s.logs = make(map[string][]reminder.DispatchLogEntry)
	s.failures = make(map[pipeline.Stage]error)
	s.gates = make(map[gateKey]chan struct{})
	s.calls = make(map[pipeline.Stage]int)
	return nil
}

// SaveAgent, SaveBookings, SaveTriggers and AppendDispatchLogs mirror the
// write side of store/sqlite so scenarios can seed either.

func (s *Source) SaveAgent(_ context.Context, a pipeline.Agent) error {
	s.PutAgent(a)
	return nil
}

func (s *Source) SaveBookings(_ context.Context, agentID string, bookings []reminder.BookingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrAgentNotFound, agentID)
	}
	for _, b := range bookings {
		if b.Status == "" {
			b.Status = string(pipeline.BookingsUpcoming)
		}
		s.bookings[agentID] = upsertBooking(s.bookings[agentID], b)
	}
	return nil
}

// SaveTriggers upserts by trigger id. Like the SQL mirror, an existing id
// keeps its owning agent and created_at.
func (s *Source) SaveTriggers(_ context.Context, agentID string, triggers []reminder.ReminderTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrAgentNotFound, agentID)
	}
	for _, t := range triggers {
		if s.updateTrigger(t) {
			continue
		}
		s.triggers[agentID] = append(s.triggers[agentID], t)
	}
	return nil
}

func (s *Source) updateTrigger(t reminder.ReminderTrigger) bool {
	for _, list := range s.triggers {
		for i := range list {
			if list[i].ID == t.ID {
				t.CreatedAt = list[i].CreatedAt
				list[i] = t
				return true
			}
		}
	}
	return false
}

func (s *Source) AppendDispatchLogs(_ context.Context, agentID string, entries []reminder.DispatchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrAgentNotFound, agentID)
	}
	s.logs[agentID] = append(s.logs[agentID], entries...)
	return nil
}

func upsertBooking(list []reminder.BookingEvent, b reminder.BookingEvent) []reminder.BookingEvent {
	for i := range list {
		if list[i].UID == b.UID {
			list[i] = b
			return list
		}
	}
	return append(list, b)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// FailStage makes every call of the stage return err. A nil err clears it.
func (s *Source) FailStage(stage pipeline.Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, stage)
		return
	}
	s.failures[stage] = err
}

// Hold blocks calls of stage for agentID until release is called or the
// caller's context ends.
func (s *Source) Hold(stage pipeline.Stage, agentID string) (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	key := gateKey{stage, agentID}
	s.gates[key] = ch
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gates[key] == ch {
			delete(s.gates, key)
			close(ch)
		}
	}
}

// Calls returns how many times stage was invoked.
func (s *Source) Calls(stage pipeline.Stage) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[stage]
}

func (s *Source) enter(ctx context.Context, stage pipeline.Stage, agentID string) error {
	s.mu.Lock()
	s.calls[stage]++
	gate := s.gates[gateKey{stage, agentID}]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[stage]; err != nil {
		return err
	}
	return ctx.Err()
}

// =============================================================================
// READS - pipeline.Source
// =============================================================================

func (s *Source) ListAgents(ctx context.Context) ([]pipeline.Agent, error) {
	if err := s.enter(ctx, pipeline.StageAgents, ""); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pipeline.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Source) ListBookings(ctx context.Context, agentID string, status pipeline.BookingStatus) ([]reminder.BookingEvent, error) {
	if err := s.enter(ctx, pipeline.StageBookings, agentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.agents[agentID]; !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrAgentNotFound, agentID)
	}
	var out []reminder.BookingEvent
	for _, b := range s.bookings[agentID] {
		if status == pipeline.BookingsAll || b.Status == string(status) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *Source) ListTriggers(ctx context.Context, agentID string) ([]reminder.ReminderTrigger, error) {
	if err := s.enter(ctx, pipeline.StageTriggers, agentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]reminder.ReminderTrigger, len(s.triggers[agentID]))
	copy(out, s.triggers[agentID])
	return out, nil
}

func (s *Source) ListDispatchLogs(ctx context.Context, agentID string, bookingUIDs []string) (reminder.LogIndex, error) {
	if err := s.enter(ctx, pipeline.StageLogs, agentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(bookingUIDs))
	for _, uid := range bookingUIDs {
		wanted[uid] = struct{}{}
	}
	idx := make(reminder.LogIndex)
	for _, e := range s.logs[agentID] {
		if _, ok := wanted[e.BookingUID]; ok {
			idx.Add(e)
		}
	}
	return idx, nil
}
