package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/app"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/config"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/logger"
)

type options struct {
	rootDir string
	layout  string
	store   string
	verbose bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "cachemngr",
		Short:         "Manage the WMTS tile cache",
		Long:          `List, delete and reconcile cached projects, layers and documents.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.rootDir, "rootdir", "", "cache root directory (default $CACHE_ROOTDIR)")
	pf.StringVar(&opts.layout, "layout", "", "tile layout: tc, mp, tms, reverse_tms (default $CACHE_LAYOUT)")
	pf.StringVar(&opts.store, "store", "", "metadata store: memory or redis (default $STORE_DRIVER)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newListCmd(opts), newDeleteCmd(opts), newReconcileCmd(opts))
	return root
}

// open builds the app from the environment and flags. With the in-memory
// store the registry starts empty, so it is first rebuilt from the cache.
func (o *options) open(ctx context.Context, stderr io.Writer) (*app.App, error) {
	cfg := config.FromEnv()
	if o.rootDir != "" {
		cfg.CacheRootDir = o.rootDir
	}
	if o.layout != "" {
		cfg.CacheLayout = o.layout
	}
	if o.store != "" {
		cfg.StoreDriver = strings.ToLower(o.store)
	}
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	zl := logger.Build(logger.Config{Level: level, Console: true, Component: "cli"}, stderr)

	a, err := app.New(ctx, cfg, logger.NewSlog(&zl), app.BuildInfo{Version: Version})
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver == "memory" {
		if _, err := a.Reconcile(ctx); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

// matchProject reports whether glob selects project. A glob matches the
// full path or the base name, with or without the .qgs suffix.
func matchProject(glob, project string) bool {
	if glob == "" || glob == "*" {
		return true
	}
	base := path.Base(project)
	for _, g := range []string{glob, glob + ".qgs"} {
		for _, p := range []string{project, base} {
			if ok, _ := path.Match(g, p); ok {
				return true
			}
		}
	}
	return false
}

func selectProjects(ctx context.Context, a *app.App, glob string) ([]model.Summary, error) {
	all, err := a.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Summary
	for _, s := range all {
		if matchProject(glob, s.Project) {
			out = append(out, s)
		}
	}
	return out, nil
}

func closeApp(a *app.App, log *slog.Logger) {
	if err := a.Close(context.Background()); err != nil {
		log.Warn("close", "err", err)
	}
}

func noProjects(w io.Writer, glob string) {
	_, _ = fmt.Fprintf(w, "No projects found for %s\n", glob)
}
