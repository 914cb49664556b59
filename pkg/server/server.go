// Package server exposes the world service over HTTP. It only translates
// between HTTP and world requests; every rule lives in package world.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aleksaelezovic/worlds/pkg/world"
)

const (
	headerTenant = "X-Tenant-ID"
	headerPlan   = "X-Plan"

	defaultMaxBody = 64 << 20
)

// Server is the HTTP front of a world.Service
type Server struct {
	worlds   *world.Service
	gatherer prometheus.Gatherer
	maxBody  int64
	log      *log.Entry
}

// Option configures a Server
type Option func(*Server)

// WithGatherer serves the metrics of g on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMaxBody limits the size of uploaded blobs and queries
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// NewServer creates a server for svc
func NewServer(svc *world.Service, opts ...Option) *Server {
	s := &Server{
		worlds:   svc,
		gatherer: prometheus.DefaultGatherer,
		maxBody:  defaultMaxBody,
		log:      log.WithField("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes wrapped in request tracing
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/worlds/{world}/sparql", s.handleSPARQL)
	mux.HandleFunc("POST /v1/worlds/{world}/sparql", s.handleSPARQL)
	mux.HandleFunc("GET /v1/worlds/{world}/search", s.handleSearch)
	mux.HandleFunc("GET /v1/worlds/{world}/blob", s.handleExport)
	mux.HandleFunc("PUT /v1/worlds/{world}/blob", s.handleImport)
	mux.HandleFunc("POST /v1/worlds/{world}", s.handleCreate)
	mux.HandleFunc("DELETE /v1/worlds/{world}", s.handleDelete)
	mux.HandleFunc("POST /v1/worlds", s.handleCreate)
	mux.HandleFunc("GET /v1/worlds", s.handleList)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", handleHealth)

	return otelhttp.NewHandler(mux, "worlds")
}

// ListenAndServe serves until ctx is cancelled, then drains open requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Starting worlds endpoint at http://%s/v1/worlds", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n")) // #nosec G104 - nothing left to do when the client is gone
}
