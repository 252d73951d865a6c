package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/config"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/health"
	middleware "github.com/mohammed-shakir/wmts-cache-manager/internal/core/middleware"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/router"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/tracing"
)

type Deps struct {
	API     *router.API
	Ready   health.ReadinessReporter
	Checks  map[string]health.Check
	Metrics http.Handler
	Tracer  trace.Tracer
}

// Handler builds the full route tree.
func Handler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	if d.Tracer != nil {
		r.Use(tracing.Middleware(d.Tracer))
	}
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready, d.Checks))
	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	if d.API != nil {
		d.API.Mount(r)
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Handler(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// removals answer only once their cascade finished
		WriteTimeout: cfg.CascadeTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
