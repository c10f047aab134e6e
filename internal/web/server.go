// Package web serves the published roster read-only over HTTP, together with
// the health report, alert acknowledgement, emergency refresh and live run
// streams.
package web

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joestump/congress-roster/api"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/monitor"
)

// SSEHub is the interface the web server uses to subscribe to run streams.
type SSEHub interface {
	Subscribe(runID string) (<-chan string, func())
	IsActive(runID string) bool
}

// RefreshTrigger queues out-of-schedule refreshes.
type RefreshTrigger interface {
	TriggerEmergency(reason string) (string, error)
	Running() string
}

// Reporter returns the most recent health report.
type Reporter interface {
	Latest(ctx context.Context) (*monitor.Report, error)
}

// Acknowledger stops escalation of an alert.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id, by string) error
}

// ServerOption configures optional Server features.
type ServerOption func(*Server)

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithAcknowledger enables POST /api/v1/alerts/{id}/ack.
func WithAcknowledger(a Acknowledger) ServerOption {
	return func(s *Server) { s.acks = a }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// Server is the HTTP server for rosterd.
type Server struct {
	hub     SSEHub
	db      *db.DB
	reports Reporter
	trigger RefreshTrigger
	acks    Acknowledger
	metrics http.Handler
	logger  *slog.Logger
	md      goldmark.Markdown
	page    *template.Template
	mux     *http.ServeMux
	server  *http.Server
}

// New creates a new web server listening on port. hub and trigger may be nil
// for a read-only server.
func New(port int, hub SSEHub, database *db.DB, reports Reporter, trigger RefreshTrigger, opts ...ServerOption) *Server {
	s := &Server{
		hub:     hub,
		db:      database,
		reports: reports,
		trigger: trigger,
		logger:  slog.Default(),
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		page:    template.Must(template.New("report").Parse(reportPage)),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE needs no write timeout
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("http listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/report", http.StatusFound)
	})
	s.mux.HandleFunc("GET /report", s.handleReport)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.HandleFunc("GET /api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPISpec)
	})

	// API v1
	s.mux.HandleFunc("GET /api/v1/health", s.handleAPIHealth)
	s.mux.HandleFunc("GET /api/v1/members", s.handleAPIListMembers)
	s.mux.HandleFunc("GET /api/v1/members/{id}", s.handleAPIGetMember)
	s.mux.HandleFunc("GET /api/v1/committees", s.handleAPIListCommittees)
	s.mux.HandleFunc("GET /api/v1/committees/{code}", s.handleAPIGetCommittee)
	s.mux.HandleFunc("GET /api/v1/memberships", s.handleAPIListMemberships)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleAPIListSessions)
	s.mux.HandleFunc("GET /api/v1/conflicts", s.handleAPIListConflicts)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleAPIListAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/ack", s.handleAPIAckAlert)
	s.mux.HandleFunc("GET /api/v1/runs", s.handleAPIListRuns)
	s.mux.HandleFunc("GET /api/v1/runs/{id}", s.handleAPIGetRun)
	s.mux.HandleFunc("GET /api/v1/runs/{id}/stream", s.handleRunStream)
	s.mux.HandleFunc("GET /api/v1/facts/{kind}/{id}", s.handleAPIListFacts)
	s.mux.HandleFunc("GET /api/v1/triggers", s.handleAPIListTriggers)
	s.mux.HandleFunc("POST /api/v1/refresh", s.handleAPIRefresh)
}
