/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/agents/*         Agents and reconciled reminders
  /api/view/*           Dashboard selection slot
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus
  /                     Endpoint index

SECURITY NOTE:
  No authentication middleware. Deploy behind the admin gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/reminderd: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Get("/{agentID}/reminders", h.GetReminders)
			r.Get("/{agentID}/summary", h.GetSummary)
		})

		r.Route("/view", func(r chi.Router) {
			r.Get("/", h.GetView)
			r.Post("/select", h.SelectView)
			r.Post("/refresh", h.RefreshView)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Handle("/metrics", h.Metrics.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Reminder Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Reminder Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/agents">/api/agents</a> - List agents</li>
<li><code>/api/agents/{id}/reminders?status=upcoming</code> - Reconciled reminders</li>
<li><a href="/api/view">/api/view</a> - Dashboard view</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`))
	})

	return r
}
