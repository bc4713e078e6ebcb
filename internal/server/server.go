package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mergeboard/internal/audit"
	"mergeboard/internal/hosting"
	"mergeboard/internal/merge"
	"mergeboard/internal/relay"
	"mergeboard/internal/trigger"
	"mergeboard/internal/webhook"
)

const (
	// HTTP server timeouts. Streaming responses clear their own write
	// deadline.
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 90 * time.Second
	HTTPIdleTimeout  = 120 * time.Second

	// Request timeout for every route except the live channel
	RequestTimeout = 60 * time.Second
)

// ClientFactory builds a hosting client for an operator credential.
// hosting.Factory implements it.
type ClientFactory interface {
	ForCredential(token string) (hosting.Client, error)
	Provider() string
}

// Options are the startup-only server settings.
type Options struct {
	AllowedOrigins       []string
	GlobalRatePerMinute  int
	WebhookRatePerMinute int
	// TestMode disables rate limiting.
	TestMode bool
}

// Server represents the HTTP server
type Server struct {
	Relay    *relay.Relay
	Clients  ClientFactory
	Webhook  *webhook.Store
	Journal  *audit.Journal // nil when the audit journal is disabled
	Merges   *merge.Orchestrator
	Triggers *trigger.Service
	Logger   *slog.Logger
	Options  Options

	mu         sync.Mutex
	httpServer *http.Server
	closing    chan struct{}
	closeOnce  sync.Once
}

// NewServer creates a new server instance. journal may be nil.
func NewServer(rl *relay.Relay, clients ClientFactory, store *webhook.Store, journal *audit.Journal, logger *slog.Logger, opts Options) *Server {
	var (
		mergeRecorder   merge.Recorder
		triggerRecorder trigger.Recorder
	)
	if journal != nil {
		mergeRecorder = journal
		triggerRecorder = journal
	}

	return &Server{
		Relay:    rl,
		Clients:  clients,
		Webhook:  store,
		Journal:  journal,
		Merges:   merge.NewOrchestrator(logger, mergeRecorder),
		Triggers: trigger.NewService(logger, triggerRecorder),
		Logger:   logger,
		Options:  opts,
		closing:  make(chan struct{}),
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.Options.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "PRIVATE-TOKEN", "X-Request-Id"},
		MaxAge:         300,
	}))

	// Rate limiting middleware (only if not in test mode)
	if !s.Options.TestMode && s.Options.GlobalRatePerMinute > 0 {
		r.Use(NewRateLimitMiddleware("global", s.Options.GlobalRatePerMinute, s.Logger))
	}

	// The live channel stays open for as long as the viewer does.
	r.Get("/api/pipeline/events", s.HandleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))

		r.Get("/health", s.HandleHealth)

		// Webhook routes with stricter rate limit
		r.Group(func(r chi.Router) {
			if !s.Options.TestMode && s.Options.WebhookRatePerMinute > 0 {
				r.Use(NewRateLimitMiddleware("webhook", s.Options.WebhookRatePerMinute, s.Logger))
			}
			r.Post("/webhook/pipeline", s.HandleGitLabWebhook)
			r.Post("/webhook/github", s.HandleGitHubWebhook)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/pipeline/status", s.HandleStatus)
			r.Post("/pipeline/{projectId}/stages/{stage}/trigger", s.HandleTrigger)

			r.Get("/projects", s.HandleListProjects)
			r.Route("/projects/{projectId}", func(r chi.Router) {
				r.Get("/labels", s.HandleListLabels)
				r.Get("/merge-requests", s.HandleListChangeRequests)
				r.Post("/merge-requests/merge", s.HandleMerge)
				r.Get("/pipelines/latest", s.HandleLatestPipeline)
			})

			r.Get("/audit/merges", s.HandleAuditMerges)
			r.Get("/audit/triggers", s.HandleAuditTriggers)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after Shutdown.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr, "provider", s.Clients.Provider())

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = server
	s.mu.Unlock()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// End open live channel streams; http.Server.Shutdown waits for them.
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	server := s.httpServer
	s.mu.Unlock()

	var errs []error
	if server != nil {
		errs = append(errs, server.Shutdown(ctx))
	}

	// Close audit database connection
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	return errors.Join(errs...)
}
