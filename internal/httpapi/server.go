// Package httpapi exposes the fleet engine and catalog over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shelfbot/internal/catalog"
	"shelfbot/internal/fleet/engine"
	logx "shelfbot/pkg/logx"
)

// Deps are the collaborators the API serves.
type Deps struct {
	Engine  *engine.Service
	Catalog *catalog.Catalog
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Log     logx.Logger
	// BatteryThreshold is used for robots registered without one.
	BatteryThreshold float64
	// Profiler mounts net/http/pprof under /debug.
	Profiler bool
}

// NewRouter builds the root router and mounts the v1 API under /api/v1.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "not_found",
			"message": "Use a versioned path like /api/v1/...",
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"running": d.Engine.Running()})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.Profiler {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Mount("/v1", (&handlers{Deps: d}).router())
	})
	return r
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Server runs the router on addr until Shutdown.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, h http.Handler, log logx.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Serve blocks until the listener fails or Shutdown is called. Request
// contexts derive from ctx.
func (s *Server) Serve(ctx context.Context) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	s.log.Info("http listening", logx.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
