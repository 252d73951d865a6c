// Package app wires the cache manager from configuration. The server and
// the CLI share it so both run removals through the same engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/config"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/health"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/observability"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/router"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/server"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/tracing"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/invalidation"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/keylock"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/metrics"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/registry"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/store"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/tilestore"
	"github.com/mohammed-shakir/wmts-cache-manager/pkg/invalidation/kafka"
)

const ServiceName = "wmts-cache-manager"

// ErrNoScanner is returned by Reconcile when the tile backend cannot be
// walked.
var ErrNoScanner = errors.New("tile backend does not support reconcile")

type BuildInfo = metrics.BuildInfo

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    store.Store
	Backend  tilestore.Backend
	Layout   tilestore.Layout
	Registry *registry.Registry
	Engine   *invalidation.Engine
	Tracing  *tracing.Provider
	Metrics  *metrics.Provider
	Runner   *kafka.Runner

	redis   *redisstore.Client
	notices *kafka.Publisher
}

// New builds every component but starts nothing.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, build BuildInfo) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	a.Metrics = metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build:   build,
	})
	observability.Init(a.Metrics.Registerer())

	tp, err := tracing.NewProvider(ctx, cfg.Tracing, ServiceName)
	if err != nil {
		return nil, err
	}
	a.Tracing = tp

	layout, err := tilestore.ParseLayout(cfg.CacheLayout)
	if err != nil {
		return nil, err
	}
	a.Layout = layout

	if err := a.openStore(ctx); err != nil {
		a.closeQuiet()
		return nil, err
	}
	if err := a.openBackend(); err != nil {
		a.closeQuiet()
		return nil, err
	}

	if cfg.Events.NotifyTopic != "" {
		p, err := kafka.NewPublisher(cfg.Events.Brokers, cfg.Events.NotifyTopic, 1024, logger)
		if err != nil {
			a.closeQuiet()
			return nil, err
		}
		a.notices = p
	}

	locks := a.locker()
	a.Registry = registry.New(a.Store, locks, logger)
	opts := []invalidation.Option{
		invalidation.WithLocks(locks),
		invalidation.WithLogger(logger),
		invalidation.WithTracer(tp.Tracer()),
		invalidation.WithCascadeTimeout(cfg.CascadeTimeout),
	}
	if a.notices != nil {
		opts = append(opts, invalidation.WithNotifier(a.notices))
	}
	a.Engine = invalidation.New(a.Store, a.Backend, a.Backend, opts...)

	a.Runner = kafka.New(kafka.FromConfig(cfg.Events), a.Registry, a.Engine, kafka.Options{
		Logger:   logger,
		Register: a.Metrics.Registerer(),
	})
	return a, nil
}

// locker returns the per-collection writer lock. A redis store is shared by
// replicas, the CLI and consumer group members, so its lock lives in redis.
func (a *App) locker() keylock.Locker {
	if a.Config.StoreDriver == "memory" || a.redis == nil {
		return keylock.New()
	}
	return keylock.NewRedis(a.redis,
		keylock.WithTTL(a.Config.LockTTL),
		keylock.WithLogger(a.Logger))
}

func (a *App) redisClient(ctx context.Context) (*redisstore.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	cli, err := redisstore.New(ctx, a.Config.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	a.redis = cli
	return cli, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreDriver {
	case "memory":
		a.Store = store.NewMemory()
	case "redis", "":
		cli, err := a.redisClient(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.Store = store.NewRedis(cli, a.Config.CacheOpTimeout)
	default:
		return fmt.Errorf("unsupported store driver %q", a.Config.StoreDriver)
	}
	return nil
}

func (a *App) openBackend() error {
	switch a.Config.TileBackend {
	case "fs", "":
		fs, err := tilestore.OpenFS(a.Config.CacheRootDir, a.Layout)
		if err != nil {
			return fmt.Errorf("open tile cache %s: %w", a.Config.CacheRootDir, err)
		}
		a.Backend = fs
		a.Layout = fs.Layout()
	case "redis":
		cli, err := a.redisClient(context.Background())
		if err != nil {
			return fmt.Errorf("open tile backend: %w", err)
		}
		a.Backend = tilestore.NewRedis(cli, a.Layout, 500)
	default:
		return fmt.Errorf("unsupported tile backend %q", a.Config.TileBackend)
	}
	return nil
}

// Reconcile rebuilds the registry from the tile backend.
func (a *App) Reconcile(ctx context.Context) (registry.ReconcileReport, error) {
	sc, ok := a.Backend.(tilestore.Scanner)
	if !ok {
		return registry.ReconcileReport{}, ErrNoScanner
	}
	return a.Registry.Reconcile(ctx, sc)
}

// Handler returns the complete HTTP surface.
func (a *App) Handler() http.Handler {
	return server.Handler(a.Logger, a.deps())
}

func (a *App) deps() server.Deps {
	d := server.Deps{
		API:     router.New(a.Registry, a.Engine, a.Logger, string(a.Layout)),
		Ready:   a.Runner,
		Metrics: a.Metrics.Handler(),
	}
	if a.Tracing.Enabled() {
		d.Tracer = a.Tracing.Tracer()
	}
	if a.redis != nil {
		d.Checks = map[string]health.Check{"redis": a.redis.Ping}
	}
	return d
}

// Run serves HTTP, the dedicated metrics listener and the event runner
// until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a.Config.ReconcileOnStart {
		if _, err := a.Reconcile(ctx); err != nil && !errors.Is(err, ErrNoScanner) {
			return fmt.Errorf("reconcile on start: %w", err)
		}
	}

	// started first so a failure leaves nothing running behind
	if err := a.Runner.Start(ctx); err != nil {
		return fmt.Errorf("start event runner: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, a.Config, a.Logger, a.deps())
	})
	if a.Config.MetricsEnabled && a.Config.MetricsAddr != a.Config.Addr {
		g.Go(func() error { return a.Metrics.Serve(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Runner.Stop()
		return nil
	})
	return g.Wait()
}

// Close releases producers, connections and flushes traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.notices != nil {
		errs = append(errs, a.notices.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Tracing != nil {
		errs = append(errs, a.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (a *App) closeQuiet() {
	_ = a.Close(context.Background())
}
