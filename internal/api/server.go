package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/callagent/internal/api/middleware"
	"github.com/flowpbx/callagent/internal/call"
	"github.com/flowpbx/callagent/internal/config"
	"github.com/flowpbx/callagent/internal/database"
	"github.com/flowpbx/callagent/internal/session"
)

// CallHandler runs the conversation for one telephony event.
type CallHandler interface {
	Handle(ctx context.Context, ev call.Event, origin string) call.Instruction
}

// MarkupRenderer turns an instruction into a markup document.
type MarkupRenderer interface {
	Render(ins call.Instruction) (string, error)
}

// AudioSource opens stored audio artifacts by file name.
type AudioSource interface {
	Open(name string) (*os.File, os.FileInfo, error)
}

// SessionLister reports live call sessions.
type SessionLister interface {
	Count() int
	Snapshot() []session.Summary
}

// Dependencies are the components the HTTP layer serves.
type Dependencies struct {
	Calls    CallHandler
	Renderer MarkupRenderer
	Audio    AudioSource
	Sessions SessionLister
	CallLog  database.CallLogRepository
	Metrics  http.Handler // optional, mounted at /metrics
	Logger   *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	deps    Dependencies
	logger  *slog.Logger
	limiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. Call Close
// to stop the background rate limiter cleanup.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("subsystem", "http"),
		limiter: middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig(), logger),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.SecurityHeaders(strings.HasPrefix(s.cfg.PublicURL, "https://")))

	// Telephony webhooks. A panic still answers with spoken markup.
	r.Route("/call", func(r chi.Router) {
		r.Use(middleware.Recoverer(s.logger, s.markupFault))
		if s.cfg.ValidateSignatures {
			r.Use(middleware.TwilioSignature(middleware.SignatureConfig{
				AuthToken:  s.cfg.TwilioAuthToken,
				AccountSID: s.cfg.TwilioAccountSID,
				PublicURL:  s.cfg.PublicURL,
			}, s.logger))
		}
		r.Post("/incoming", s.handleIncoming)
		r.Post("/process_speech", s.handleProcessSpeech)
		r.Post("/status", s.handleStatus)
	})

	// Generated audio fetched by the provider during playback.
	r.With(middleware.Recoverer(s.logger, nil)).Get("/audio/{name}", s.handleAudio)

	// Admin API under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Recoverer(s.logger, nil))
		r.Use(middleware.RateLimit(s.limiter))
		r.Use(middleware.NoStore)

		r.Get("/health", s.handleHealth)

		// Caller numbers and transcripts require an admin token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminAuth([]byte(s.cfg.AdminSecret), s.logger))
			r.Get("/sessions", s.handleListSessions)
			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Get("/{sid}", s.handleGetCall)
			})
		})
	})

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}
}

// handleHealth returns basic health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.deps.Sessions.Count(),
	})
}
