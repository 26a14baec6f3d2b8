// Package api serves the fact-check pipeline over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/ratelimit"
)

// Options wires a Server
type Options struct {
	Config   model.ServerConfig
	Pipeline *pipeline.Pipeline
	Limiter  *ratelimit.Limiter // nil admits every request
	Metrics  *metrics.Metrics
	Version  string
}

// Server is a chi router behind a stdlib http.Server
type Server struct {
	cfg      model.ServerConfig
	pipeline *pipeline.Pipeline
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	version  string
	mux      *chi.Mux
	srv      *http.Server
}

// NewServer builds the router with its middleware chain
func NewServer(opt Options) *Server {
	s := &Server{
		cfg:      opt.Config,
		pipeline: opt.Pipeline,
		limiter:  opt.Limiter,
		metrics:  opt.Metrics,
		version:  opt.Version,
		mux:      chi.NewRouter(),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              opt.Config.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.mux
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		requestLogger,
		RecoverJSON,
		AccessLog(s.cfg.SlowRequest),
		CORS(s.cfg.CORSOrigins),
		Instrument(s.metrics),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, errNotFound(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, errMethod(r))
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", s.handleSources)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(s.limiter), Deadline(s.cfg.RequestTimeout))
			r.Post("/factcheck", s.handleFactCheck)
			r.Get("/search", s.handleSearch)
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listening address
func (s *Server) Addr() string { return s.srv.Addr }

// Run serves until ctx is done, then shuts down within the configured timeout
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Info().Dur("timeout", timeout).Msg("http shutting down")
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
