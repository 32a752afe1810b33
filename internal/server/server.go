// Package server exposes segmentation sessions over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hay-kot/snapdls/internal/core/session"
	"github.com/hay-kot/snapdls/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Upload limits applied when Options leaves them unset.
const (
	DefaultMaxUploadBytes int64 = 1 << 30
	DefaultMaxVoxels            = 1 << 28
)

// Acquirer hands out warm sessions.
type Acquirer interface {
	Acquire(ctx context.Context) (string, error)
}

// Options configures a Server.
type Options struct {
	Version        string
	MaxUploadBytes int64
	// MaxVoxels bounds the grid an upload may declare in its metadata.
	MaxVoxels    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Server routes requests to sessions held in a store.
type Server struct {
	store    session.Store
	acquirer Acquirer
	log      zerolog.Logger
	opts     Options

	router chi.Router
	http   *http.Server
}

// New builds the router. The store and acquirer are owned by the caller.
func New(store session.Store, acquirer Acquirer, log zerolog.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.MaxVoxels <= 0 {
		opts.MaxVoxels = DefaultMaxVoxels
	}

	s := &Server{
		store:    store,
		acquirer: acquirer,
		log:      log.With().Str("component", "http").Logger(),
		opts:     opts,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.log))
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/start_session", s.handleStartSession)
	r.Get("/end_session/{session_id}", s.handleEndSession)

	r.Post("/upload_raw/{session_id}", s.handleUploadRaw)
	r.Get("/process_point_interaction/{session_id}", s.handlePointInteraction)
	r.Post("/process_scribble_interaction/{session_id}", s.handleMaskInteraction(kindScribble))
	r.Post("/process_lasso_interaction/{session_id}", s.handleMaskInteraction(kindLasso))
	r.Get("/reset_interactions/{session_id}", s.handleResetInteractions)

	r.Get("/sessions", s.handleListSessions)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx is done, then shuts down,
// giving in-flight requests up to grace to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.log.Info().Msg("shutting down http server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// accessLog logs one line per request and counts it by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			s.opts.Metrics.ObserveRequest(route, status)

			evt := hlog.FromRequest(r).Debug()
			if status >= http.StatusInternalServerError {
				evt = hlog.FromRequest(r).Warn()
			}
			evt.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()

		next.ServeHTTP(ww, r)
	})
}
