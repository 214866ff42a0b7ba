// Package api exposes the reconciliation service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"interunit-loan-recon/internal/parsers"
	"interunit-loan-recon/internal/reconciler"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// SessionHeader carries the caller's session id in both directions.
const SessionHeader = "X-Session-ID"

// Config holds HTTP server settings.
type Config struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	EnableMetrics   bool          `json:"enable_metrics" mapstructure:"enable_metrics"`
	// MaxSessions bounds the in-memory run histories kept for API callers.
	MaxSessions       int `json:"max_sessions" mapstructure:"max_sessions"`
	SessionHistoryLen int `json:"session_history_len" mapstructure:"session_history_len"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		RequestTimeout:    5 * time.Minute,
		ShutdownTimeout:   15 * time.Second,
		MaxUploadBytes:    32 << 20,
		EnableMetrics:     true,
		MaxSessions:       1000,
		SessionHistoryLen: 100,
	}
}

// Validate checks the server configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Server is the reconciliation HTTP API.
type Server struct {
	service  *reconciler.ReconciliationService
	parser   *parsers.LedgerParser
	metrics  http.Handler
	validate *validator.Validate
	config   *Config
	logger   logger.Logger

	mu       sync.Mutex
	sessions map[string]*reconciler.Session
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates an API server.
func NewServer(service *reconciler.ReconciliationService, parser *parsers.LedgerParser, config *Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "service", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "server", config.Addr, err)
	}
	if parser == nil {
		var err error
		if parser, err = parsers.NewLedgerParser(nil); err != nil {
			return nil, err
		}
	}

	s := &Server{
		service:  service,
		parser:   parser,
		validate: newValidator(),
		config:   config.Clone(),
		logger:   logger.GetGlobalLogger(),
		sessions: make(map[string]*reconciler.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	return s, nil
}

// newValidator reports field errors by their JSON or form names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.RequestTimeout))
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.config.EnableMetrics && s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Post("/runs", s.handleRun)
		r.Post("/runs/all", s.handleRunAll)
		r.Get("/session", s.handleSession)
		r.Get("/config", s.handleConfig)

		r.Get("/pairs", s.handleCompanyPairs)
		r.Get("/pair-ids", s.handlePairIDs)
		r.Route("/pairs/{pair_id}", func(r chi.Router) {
			r.Post("/run", s.handleRunPair)
			r.Get("/entries", s.handlePairEntries)
			r.Get("/unmatched", s.listHandler("unmatched", s.service.UnmatchedEntries))
			r.Get("/matches", s.listHandler("matched", s.service.MatchedEntries))
		})
		r.Post("/imports", s.handleImport)

		r.Get("/entries/{uid}", s.handleGetEntry)
		r.Post("/entries/{uid}/accept", s.handleAccept)
		r.Post("/entries/{uid}/reject", s.handleReject)
		r.Delete("/entries", s.handleTruncate)

		r.Get("/matches", s.listHandler("matched", s.service.MatchedEntries))
		r.Get("/matches/pending", s.listHandler("pending", s.service.PendingMatches))
		r.Get("/matches/confirmed", s.listHandler("confirmed", s.service.ConfirmedMatches))
		r.Get("/matches/auto", s.listHandler("auto", s.service.AutoMatched))
		r.Get("/unmatched", s.listHandler("unmatched", s.service.UnmatchedEntries))
		r.Post("/reset", s.handleResetAll)

		r.Route("/scopes/{lender}/{borrower}/{year}/{month}", func(r chi.Router) {
			r.Get("/report", s.handleReport)
			r.Post("/reset", s.handleResetScope)
		})
	})

	return r
}

// ListenAndServe serves until ctx ends, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	s.logger.WithField("addr", s.config.Addr).Info("API server listening")

	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.InternalError(errors.CodeUnexpectedError, "http_server", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Graceful shutdown failed")
		return errors.InternalError(errors.CodeUnexpectedError, "http_shutdown", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"request_id":  middleware.GetReqID(r.Context()),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

// sessionMiddleware attaches the caller's session, creating one when the
// header is missing or unknown.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.session(r.Header.Get(SessionHeader))
		w.Header().Set(SessionHeader, session.ID)
		next.ServeHTTP(w, r.WithContext(reconciler.WithSession(r.Context(), session)))
	})
}

func (s *Server) session(id string) *reconciler.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		return session
	}
	if len(s.sessions) >= s.config.MaxSessions {
		s.evictOldestLocked(len(s.sessions) - s.config.MaxSessions + 1)
	}
	session := reconciler.NewSession(s.config.SessionHistoryLen)
	s.sessions[session.ID] = session
	return session
}

func (s *Server) evictOldestLocked(n int) {
	all := make([]*reconciler.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		all = append(all, session)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Started.Before(all[j].Started) })
	for _, session := range all[:n] {
		delete(s.sessions, session.ID)
	}
}
