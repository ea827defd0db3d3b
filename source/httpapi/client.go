// Package httpapi implements pipeline.Source against the admin backend's
// REST endpoints.
//
//	GET {base}/agents
//	GET {base}/agents/{id}/bookings?status=upcoming
//	GET {base}/agents/{id}/triggers
//	GET {base}/agents/{id}/dispatch-logs?booking_uid=a&booking_uid=b
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	// RPS limits outbound requests per second. Zero disables limiting.
	RPS   float64
	Burst int

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client is a pipeline.Source backed by HTTP.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ pipeline.Source = (*Client)(nil)

// New creates a client. BaseURL must be absolute.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		base:  base,
		token: opts.Token,
		http:  hc,
		log:   opts.Logger.With().Str("component", "httpapi").Logger(),
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// Unwrap maps 404 to pipeline.ErrAgentNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return pipeline.ErrAgentNotFound
	}
	return nil
}

// =============================================================================
// SOURCE
// =============================================================================

func (c *Client) ListAgents(ctx context.Context) ([]pipeline.Agent, error) {
	var out []agentDTO
	if err := c.get(ctx, []string{"agents"}, nil, &out); err != nil {
		return nil, err
	}
	agents := make([]pipeline.Agent, 0, len(out))
	for _, a := range out {
		agents = append(agents, pipeline.Agent{ID: a.ID, Name: a.Name, Active: a.Active})
	}
	return agents, nil
}

func (c *Client) ListBookings(ctx context.Context, agentID string, status pipeline.BookingStatus) ([]reminder.BookingEvent, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	var out []bookingDTO
	if err := c.get(ctx, []string{"agents", agentID, "bookings"}, q, &out); err != nil {
		return nil, err
	}
	bookings := make([]reminder.BookingEvent, 0, len(out))
	for _, b := range out {
		bookings = append(bookings, b.toDomain())
	}
	return bookings, nil
}

func (c *Client) ListTriggers(ctx context.Context, agentID string) ([]reminder.ReminderTrigger, error) {
	var out []triggerDTO
	if err := c.get(ctx, []string{"agents", agentID, "triggers"}, nil, &out); err != nil {
		return nil, err
	}
	triggers := make([]reminder.ReminderTrigger, 0, len(out))
	for _, t := range out {
		triggers = append(triggers, t.toDomain())
	}
	return triggers, nil
}

// ListDispatchLogs accepts the nested {uid: {trigger: [entries]}} shape.
// Keys fill in entry fields the backend left empty.
func (c *Client) ListDispatchLogs(ctx context.Context, agentID string, bookingUIDs []string) (reminder.LogIndex, error) {
	q := url.Values{}
	for _, uid := range bookingUIDs {
		q.Add("booking_uid", uid)
	}
	var out map[string]map[string][]logEntryDTO
	if err := c.get(ctx, []string{"agents", agentID, "dispatch-logs"}, q, &out); err != nil {
		return nil, err
	}
	idx := make(reminder.LogIndex)
	for uid, byTrigger := range out {
		for triggerID, entries := range byTrigger {
			for _, e := range entries {
				entry := e.toDomain()
				if entry.BookingUID == "" {
					entry.BookingUID = uid
				}
				if entry.TriggerID == "" {
					entry.TriggerID = triggerID
				}
				idx.Add(entry)
			}
		}
	}
	return idx, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) get(ctx context.Context, segments []string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.base.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", u.Path).
		Int("code", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: http.MethodGet,
			URL:    u.Path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u.Path, err)
	}
	return nil
}
