// Package httpd exposes the SAML SP engine over HTTP.
package httpd

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/philiph/samlauth/internal/core/ports"
	"github.com/philiph/samlauth/internal/core/sp"
)

// Options tunes the HTTP surface.
type Options struct {
	// CookieName is the session cookie name.
	CookieName string

	// CookieSecure sets the Secure flag on session cookies.
	CookieSecure bool

	// EnableMetrics mounts /metrics.
	EnableMetrics bool
}

// Server wires the engine components behind the HTTP endpoints.
type Server struct {
	builder     *sp.RequestBuilder
	validator   *sp.ResponseValidator
	binder      *sp.SessionBinder
	coordinator *sp.SLOCoordinator
	metadata    *sp.MetadataBuilder
	metrics     ports.MetricsRecorder
	logger      *zap.Logger
	opts        Options
}

// NewServer builds a server from wired engine components.
func NewServer(builder *sp.RequestBuilder, validator *sp.ResponseValidator, binder *sp.SessionBinder, coordinator *sp.SLOCoordinator, metadata *sp.MetadataBuilder, metrics ports.MetricsRecorder, logger *zap.Logger, opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "samlauth_session"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		builder:     builder,
		validator:   validator,
		binder:      binder,
		coordinator: coordinator,
		metadata:    metadata,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
	}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHome)
	r.Get("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)
	r.Post("/auth/saml/sso", s.handleACS)
	r.Get("/auth/saml/slo", s.handleSLO)
	r.Post("/auth/saml/slo", s.handleSLO)
	r.Get("/auth/saml/metadata", s.handleMetadata)

	if s.opts.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// requestLogger logs each request with status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
