/*
refresher.go - Periodic dashboard refresh

PURPOSE:
  Keeps the dashboard view current without user interaction. On every tick
  it reloads the view's selection (or selects the configured agent first)
  and reconciles the new snapshot, which also updates the status gauges.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Each run has its own deadline so a hung source cannot stall the loop
  - A run overtaken by a user Select is dropped silently
  - Failures are logged; the view carries them to the dashboard

CONFIGURATION:
  - Interval: How often to refresh (refresh.interval, 0 disables)
  - AgentID/Status: Initial selection when the view has none

USAGE:
  refresher := NewRefresher(handler, 30*time.Second)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - handlers.go: RefreshView endpoint (manual refresh)
  - pipeline/view.go: sequence numbers and stale discard
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/reminder-engine/pipeline"
)

// Refresher reloads the dashboard view on a ticker.
type Refresher struct {
	Handler  *Handler
	Interval time.Duration
	AgentID  string
	Status   pipeline.BookingStatus

	// Timeout bounds one run. Defaults to Interval.
	Timeout time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRefresher creates a refresher. Start is a no-op for a zero interval.
func NewRefresher(h *Handler, interval time.Duration) *Refresher {
	return &Refresher{
		Handler:  h,
		Interval: interval,
		Status:   pipeline.BookingsUpcoming,
		log:      h.log.With().Str("component", "refresher").Logger(),
	}
}

// Start begins the refresher.
func (rf *Refresher) Start() {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.Interval <= 0 {
		rf.log.Info().Msg("disabled, not starting")
		return
	}
	if rf.ticker != nil {
		return
	}

	rf.ticker = time.NewTicker(rf.Interval)
	rf.stop = make(chan struct{})
	rf.wg.Add(1)

	go rf.run(rf.ticker, rf.stop)

	rf.log.Info().Dur("interval", rf.Interval).Str("agent_id", rf.AgentID).Msg("started")
}

// Stop stops the refresher and waits for an in-flight run.
func (rf *Refresher) Stop() {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.ticker != nil {
		rf.ticker.Stop()
		close(rf.stop)
		rf.wg.Wait()
		rf.ticker = nil
		rf.log.Info().Msg("stopped")
	}
}

func (rf *Refresher) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rf.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rf.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rf.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one refresh (for testing/admin).
func (rf *Refresher) RunNow(ctx context.Context) {
	timeout := rf.Timeout
	if timeout <= 0 {
		timeout = rf.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		snap *pipeline.Snapshot
		err  error
		resp RemindersResponse
	)
	if rf.Handler.View.Current().Selection == nil && rf.AgentID != "" {
		snap, err = rf.Handler.View.Select(ctx, rf.AgentID, rf.Status)
	} else {
		snap, err = rf.Handler.View.Refresh(ctx)
	}
	if err == nil {
		resp, err = rf.Handler.reconcile(snap, rf.Handler.clock())
	}

	switch {
	case err == nil:
		rf.log.Debug().
			Str("agent_id", resp.AgentID).
			Uint64("fetch_seq", resp.FetchSeq).
			Int("bookings", len(resp.Bookings)).
			Bool("logs_unavailable", resp.LogsUnavailable).
			Bool("stale", resp.Stale).
			Msg("refreshed")
	case errors.Is(err, pipeline.ErrNoSelection), pipeline.IsStale(err):
	case ctx.Err() != nil:
		rf.log.Debug().Err(err).Msg("refresh canceled")
	default:
		rf.log.Warn().Err(err).Msg("refresh failed")
	}
}
