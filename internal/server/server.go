// Package server exposes the agent's HTTP API: command submission, record
// inspection, telemetry, emergency stop and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/engine"
	"github.com/flightdeck-io/flightdeck/internal/pkg/metrics"
	"github.com/flightdeck-io/flightdeck/internal/telemetry"
	genericoptions "github.com/flightdeck-io/flightdeck/pkg/options"
)

// Server serves the agent API over HTTP.
type Server struct {
	opts     *genericoptions.HttpOptions
	engine   *engine.Engine
	registry *command.Registry
	cache    *telemetry.Cache

	srv *http.Server
}

// New builds the API server around a running engine and telemetry cache.
func New(opts *genericoptions.HttpOptions, eng *engine.Engine, reg *command.Registry, cache *telemetry.Cache) *Server {
	s := &Server{
		opts:     opts,
		engine:   eng,
		registry: reg,
		cache:    cache,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/commands", s.listCommands).Methods(http.MethodGet)
	api.HandleFunc("/commands", s.submit).Methods(http.MethodPost)
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/records", s.listRecords).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}", s.getRecord).Methods(http.MethodGet)
	api.HandleFunc("/telemetry", s.getTelemetry).Methods(http.MethodGet)
	api.HandleFunc("/emergency-stop", s.emergencyStop).Methods(http.MethodPost)

	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen(s.opts.Network, s.opts.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
