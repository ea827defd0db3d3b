package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Selection is the dashboard's current agent and booking filter.
type Selection struct {
	AgentID string        `json:"agent_id"`
	Status  BookingStatus `json:"status"`
}

// State is what the view currently shows. Exactly one of Snapshot and Err
// is set once the first load for Seq has resolved.
type State struct {
	Seq       uint64     `json:"seq"`
	Selection *Selection `json:"selection,omitempty"`
	Snapshot  *Snapshot  `json:"snapshot,omitempty"`
	Err       error      `json:"-"`
	Loading   bool       `json:"loading"`
}

// View is one selection slot. Every Select gets a new sequence number and
// cancels the load it supersedes; a load that resolves after a newer
// Select is discarded with ErrStale and never reaches State.
type View struct {
	orch *Orchestrator
	log  zerolog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	state  State
}

// NewView creates a view over an orchestrator.
func NewView(orch *Orchestrator) *View {
	return &View{
		orch: orch,
		log:  orch.log.With().Str("component", "view").Logger(),
	}
}

// Agents runs stage (a) for the agent picker.
func (v *View) Agents(ctx context.Context) ([]Agent, error) {
	return v.orch.Agents(ctx)
}

// Select switches the view to agentID/status and loads it.
func (v *View) Select(ctx context.Context, agentID string, status BookingStatus) (*Snapshot, error) {
	if agentID == "" {
		return nil, ErrAgentRequired
	}

	v.mu.Lock()
	v.seq++
	seq := v.seq
	if v.cancel != nil {
		v.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	sel := Selection{AgentID: agentID, Status: status}
	v.state = State{Seq: seq, Selection: &sel, Loading: true}
	v.mu.Unlock()
	defer cancel()

	snap, err := v.orch.Load(loadCtx, agentID, status)

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.seq {
		v.orch.observer.StaleDiscarded()
		v.log.Debug().Uint64("seq", seq).Uint64("current", v.seq).Msg("discarding stale load")
		return nil, ErrStale
	}
	v.cancel = nil
	v.state.Loading = false
	if err != nil {
		if !isCanceled(err) {
			v.log.Warn().Err(err).Uint64("seq", seq).Str("agent_id", agentID).Msg("load failed")
		}
		v.state.Err = err
		return nil, err
	}
	v.state.Snapshot = snap
	return snap, nil
}

// Refresh reloads the current selection.
func (v *View) Refresh(ctx context.Context) (*Snapshot, error) {
	v.mu.Lock()
	sel := v.state.Selection
	v.mu.Unlock()
	if sel == nil {
		return nil, ErrNoSelection
	}
	return v.Select(ctx, sel.AgentID, sel.Status)
}

// Current returns the committed state.
func (v *View) Current() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
