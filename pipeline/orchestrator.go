package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// SNAPSHOT - One consistent input set for the engine
// =============================================================================

// Snapshot is the result of one staged load. Treat it as immutable.
type Snapshot struct {
	// FetchSeq numbers loads across the orchestrator. It is not the
	// View's selection sequence.
	FetchSeq  uint64                     `json:"fetch_seq"`
	AgentID   string                     `json:"agent_id"`
	Status    BookingStatus              `json:"status"`
	Bookings  []reminder.BookingEvent    `json:"bookings"`
	Triggers  []reminder.ReminderTrigger `json:"triggers"`
	Logs      reminder.LogIndex          `json:"-"`
	FetchedAt time.Time                  `json:"fetched_at"`

	// LogsErr is set when the log stage failed; Logs is then empty.
	LogsErr error `json:"-"`

	// Stale is set when a later load failed and this last good snapshot
	// was served in its place. FetchErr holds that failure.
	Stale    bool  `json:"stale"`
	FetchErr error `json:"-"`
}

// LogsUnavailable reports whether matching ran without log data.
func (s *Snapshot) LogsUnavailable() bool {
	return s.LogsErr != nil
}

// Reconcile runs the engine over the snapshot.
func (s *Snapshot) Reconcile(now time.Time, cfg reminder.Config) (map[string]reminder.ReminderStatus, error) {
	return reminder.Reconcile(s.Bookings, s.Triggers, s.Logs, now, cfg)
}

// Summary returns the booking counters of the snapshot.
func (s *Snapshot) Summary() reminder.Summary {
	return reminder.Summarize(s.Bookings)
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Observer receives pipeline events, e.g. for metrics.
type Observer interface {
	StageFailed(stage Stage)
	StaleDiscarded()
}

type nopObserver struct{}

func (nopObserver) StageFailed(Stage) {}
func (nopObserver) StaleDiscarded()   {}

// Options configures an Orchestrator.
type Options struct {
	// KeepLastGood serves the last successful snapshot for the same
	// (agent, status) when bookings or triggers fail to load.
	KeepLastGood bool

	// CacheSize bounds the last-good cache. Defaults to 64.
	CacheSize int

	Logger   zerolog.Logger
	Observer Observer
	Clock    func() time.Time
}

type cacheKey struct {
	agentID string
	status  BookingStatus
}

// Orchestrator runs staged loads against a Source.
type Orchestrator struct {
	source   Source
	opts     Options
	log      zerolog.Logger
	observer Observer
	clock    func() time.Time
	lastGood *lru.Cache[cacheKey, *Snapshot]
	seq      atomic.Uint64
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(source Source, opts Options) *Orchestrator {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	o := &Orchestrator{
		source:   source,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "pipeline").Logger(),
		observer: opts.Observer,
		clock:    opts.Clock,
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.clock == nil {
		o.clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.KeepLastGood {
		// lru.New only errors on a non-positive size, guarded above.
		o.lastGood, _ = lru.New[cacheKey, *Snapshot](opts.CacheSize)
	}
	return o
}

// Agents runs stage (a).
func (o *Orchestrator) Agents(ctx context.Context) ([]Agent, error) {
	agents, err := o.source.ListAgents(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.observer.StageFailed(StageAgents)
		o.log.Warn().Err(err).Str("stage", string(StageAgents)).Msg("fetch failed")
		return nil, stageErr(StageAgents, err)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// Load runs stages (b) and (c) concurrently, then (d) against the booking
// UIDs returned by (b).
func (o *Orchestrator) Load(ctx context.Context, agentID string, status BookingStatus) (*Snapshot, error) {
	if agentID == "" {
		return nil, ErrAgentRequired
	}
	log := o.log.With().Str("agent_id", agentID).Str("status", string(status)).Logger()

	var (
		bookings []reminder.BookingEvent
		triggers []reminder.ReminderTrigger
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bookings, err = o.source.ListBookings(gctx, agentID, status)
		return stageErr(StageBookings, err)
	})
	g.Go(func() error {
		var err error
		triggers, err = o.source.ListTriggers(gctx, agentID)
		return stageErr(StageTriggers, err)
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stage := FailedStage(err)
		o.observer.StageFailed(stage)
		log.Warn().Err(err).Str("stage", string(stage)).Msg("fetch failed")
		return o.fallback(agentID, status, err)
	}

	snap := &Snapshot{
		AgentID:  agentID,
		Status:   status,
		Bookings: bookings,
		Triggers: triggers,
		Logs:     reminder.LogIndex{},
	}

	if uids := DistinctUIDs(bookings); len(uids) > 0 {
		logs, err := o.source.ListDispatchLogs(ctx, agentID, uids)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			o.observer.StageFailed(StageLogs)
			log.Warn().Err(err).Str("stage", string(StageLogs)).Msg("dispatch logs unavailable, reconciling without matches")
			snap.LogsErr = stageErr(StageLogs, err)
		case logs != nil:
			snap.Logs = logs
		}
	}

	snap.FetchSeq = o.seq.Add(1)
	snap.FetchedAt = o.clock()
	if o.lastGood != nil && snap.LogsErr == nil {
		o.lastGood.Add(cacheKey{agentID, status}, snap)
	}
	log.Debug().
		Uint64("fetch_seq", snap.FetchSeq).
		Int("bookings", len(bookings)).
		Int("triggers", len(triggers)).
		Int("logs", snap.Logs.Len()).
		Msg("snapshot loaded")
	return snap, nil
}

func (o *Orchestrator) fallback(agentID string, status BookingStatus, err error) (*Snapshot, error) {
	if o.lastGood == nil {
		return nil, err
	}
	prev, ok := o.lastGood.Get(cacheKey{agentID, status})
	if !ok {
		return nil, err
	}
	stale := *prev
	stale.Stale = true
	stale.FetchErr = err
	o.log.Info().
		Str("agent_id", agentID).
		Uint64("fetch_seq", prev.FetchSeq).
		Time("fetched_at", prev.FetchedAt).
		Msg("serving last good snapshot")
	return &stale, nil
}

// DistinctUIDs returns the sorted, de-duplicated non-empty booking UIDs.
func DistinctUIDs(bookings []reminder.BookingEvent) []string {
	seen := make(map[string]struct{}, len(bookings))
	uids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if b.UID == "" {
			continue
		}
		if _, ok := seen[b.UID]; ok {
			continue
		}
		seen[b.UID] = struct{}{}
		uids = append(uids, b.UID)
	}
	sort.Strings(uids)
	return uids
}

// isCanceled reports whether err is a context cancellation or deadline.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
