/*
handlers.go - HTTP API handlers for the reminder dashboard

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the pipeline.

ENDPOINTS:
  Agents:
    GET    /api/agents                          List agents (stage a)
    GET    /api/agents/{agentID}/reminders      Staged fetch + reconcile
    GET    /api/agents/{agentID}/summary        Booking counters only

  View (dashboard selection slot):
    POST   /api/view/select                     Select agent/status and load
    GET    /api/view                            Committed view state
    POST   /api/view/refresh                    Reload current selection

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    GET    /api/scenarios/current               Loaded scenario, if any
    POST   /api/scenarios/load                  Load a demo scenario

QUERY PARAMETERS:
  status=upcoming|past|cancelled|all   Booking filter (default upcoming)
  now=RFC3339                          Reconcile at another instant

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid status filter, missing agent, no selection
  - 404: Unknown agent
  - 409: Load overtaken by a newer selection
  - 502: Upstream fetch failed; body is the neutral "no data" error
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options configures a Handler.
type Options struct {
	Source pipeline.Source

	// Seeder receives demo scenarios. Nil disables scenario loading.
	Seeder Seeder

	// Engine is passed to every reconciliation as is. Nil means
	// reminder.DefaultConfig().
	Engine       *reminder.Config
	KeepLastGood bool
	CacheSize    int

	Clock  func() time.Time
	Logger zerolog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Orchestrator *pipeline.Orchestrator
	View         *pipeline.View
	Seeder       Seeder
	Metrics      *Metrics
	Engine       reminder.Config

	clock func() time.Time
	log   zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires an orchestrator and a view over opts.Source.
func NewHandler(opts Options) *Handler {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	engine := reminder.DefaultConfig()
	if opts.Engine != nil {
		engine = *opts.Engine
	}
	metrics := NewMetrics()
	orch := pipeline.NewOrchestrator(opts.Source, pipeline.Options{
		KeepLastGood: opts.KeepLastGood,
		CacheSize:    opts.CacheSize,
		Logger:       opts.Logger,
		Observer:     metrics,
		Clock:        clock,
	})
	return &Handler{
		Orchestrator: orch,
		View:         pipeline.NewView(orch),
		Seeder:       opts.Seeder,
		Metrics:      metrics,
		Engine:       engine,
		clock:        clock,
		log:          opts.Logger.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// AGENT ENDPOINTS
// =============================================================================

// ListAgents returns all agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Orchestrator.Agents(r.Context())
	if err != nil {
		writeLoadError(w, err)
		return
	}
	if agents == nil {
		agents = []pipeline.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetReminders runs a stateless staged fetch and reconciles it.
func (h *Handler) GetReminders(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestNow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid now parameter", err)
		return
	}
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	resp, err := h.reconcile(snap, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary returns the booking counters of the filtered list.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": snap.AgentID,
		"status":   snap.Status,
		"stale":    snap.Stale,
		"summary":  snap.Summary(),
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*pipeline.Snapshot, bool) {
	status, err := pipeline.ParseBookingStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeLoadError(w, err)
		return nil, false
	}
	snap, err := h.Orchestrator.Load(r.Context(), chi.URLParam(r, "agentID"), status)
	if err != nil {
		writeLoadError(w, err)
		return nil, false
	}
	return snap, true
}

// =============================================================================
// VIEW ENDPOINTS
// =============================================================================

// SelectView switches the dashboard selection and waits for its load.
func (h *Handler) SelectView(w http.ResponseWriter, r *http.Request) {
	var req SelectViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status, err := pipeline.ParseBookingStatus(req.Status)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	_, err = h.View.Select(r.Context(), req.AgentID, status)
	h.writeViewResult(w, err)
}

// GetView returns the committed view state, reconciled at now.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.viewDTO(h.View.Current()))
}

// RefreshView reloads the current selection.
func (h *Handler) RefreshView(w http.ResponseWriter, r *http.Request) {
	_, err := h.View.Refresh(r.Context())
	h.writeViewResult(w, err)
}

// writeViewResult answers with the view state. A failed fetch is part of
// that state and keeps the failure's status code; any other error replaces
// the body.
func (h *Handler) writeViewResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.viewDTO(h.View.Current()))
	case pipeline.IsFetchFailure(err):
		status, _ := classifyError(err)
		writeJSON(w, status, h.viewDTO(h.View.Current()))
	default:
		writeLoadError(w, err)
	}
}

func (h *Handler) viewDTO(state pipeline.State) ViewDTO {
	dto := ViewDTO{
		Seq:       state.Seq,
		Selection: state.Selection,
		Loading:   state.Loading,
	}
	if state.Err != nil {
		_, body := classifyError(state.Err)
		dto.Error = &body
	}
	if state.Snapshot != nil {
		resp, err := h.reconcile(state.Snapshot, h.clock())
		if err != nil {
			dto.Error = &ErrorResponse{Error: "Failed to reconcile", Details: err.Error()}
		} else {
			dto.Reminders = &resp
		}
	}
	return dto
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) reconcile(snap *pipeline.Snapshot, now time.Time) (RemindersResponse, error) {
	start := time.Now()
	statuses, err := snap.Reconcile(now, h.Engine)
	if err != nil {
		return RemindersResponse{}, err
	}
	resp := NewRemindersResponse(snap, statuses, now)
	h.Metrics.ObserveReconcile(snap.AgentID, resp.Counts, time.Since(start))
	return resp, nil
}

func (h *Handler) requestNow(r *http.Request) (time.Time, error) {
	q := r.URL.Query().Get("now")
	if q == "" {
		return h.clock(), nil
	}
	return time.Parse(time.RFC3339, q)
}

// classifyError maps pipeline errors to an HTTP status and body. Upstream
// failures become the neutral "no data" error.
func classifyError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidStatus),
		errors.Is(err, pipeline.ErrAgentRequired),
		errors.Is(err, pipeline.ErrNoSelection):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"}
	case errors.Is(err, pipeline.ErrAgentNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "Agent not found", Code: "not_found", Details: err.Error()}
	case pipeline.IsStale(err):
		return http.StatusConflict, ErrorResponse{Error: "Superseded by a newer selection", Code: "stale"}
	case pipeline.IsFetchFailure(err):
		return http.StatusBadGateway, ErrorResponse{
			Error: "no data",
			Code:  "fetch_failed",
			Details: map[string]string{
				"stage": string(pipeline.FailedStage(err)),
				"error": err.Error(),
			},
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "Request canceled", Code: "canceled"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Details: err.Error()}
	}
}

func writeLoadError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
