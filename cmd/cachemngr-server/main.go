// Command cachemngr-server runs the cache management API and the cache
// event consumer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/app"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/config"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/observability"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/logger"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   app.ServiceName,
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting cache manager",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.StoreDriver,
		"tiles", cfg.TileBackend,
		"rootdir", cfg.CacheRootDir,
		"events", cfg.Events.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog, app.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	})
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			appLog.Warn("close", "err", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
