// Package router serves the cache management API: read views of the
// registry and synchronous removals through the invalidation engine.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/observability"
	mylog "github.com/mohammed-shakir/wmts-cache-manager/internal/logger"
)

// Reader is the registry view the API reads from.
type Reader interface {
	List(ctx context.Context) ([]model.Summary, error)
	Get(ctx context.Context, id string) (model.Collection, error)
}

// Remover runs the removal cascades behind the DELETE verbs.
type Remover interface {
	RemoveLayerTiles(ctx context.Context, id, layer string) (model.CascadeResult, error)
	RemoveAllLayers(ctx context.Context, id string) (model.CascadeResult, error)
	RemoveAllDocuments(ctx context.Context, id string) (model.CascadeResult, error)
	RemoveProject(ctx context.Context, id string) (model.CascadeResult, error)
}

type API struct {
	reader Reader
	rm     Remover
	logger *slog.Logger
	layout string
}

func New(reader Reader, rm Remover, logger *slog.Logger, layout string) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{reader: reader, rm: rm, logger: logger, layout: layout}
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(instrument)

		r.Get("/", a.landing)
		r.Get("/collections", a.listCollections)
		r.Route("/collections/{id}", func(r chi.Router) {
			r.Get("/", a.getCollection)
			r.Delete("/", a.removeProject)
			r.Get("/docs", a.getDocs)
			r.Delete("/docs", a.removeDocuments)
			r.Get("/layers", a.getLayers)
			r.Delete("/layers", a.removeLayers)
			r.Get("/layers/{layerId}", a.getLayer)
			r.Delete("/layers/{layerId}", a.removeLayer)
		})
	})
}

// records request metrics under the matched route pattern
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

func jsonLink(href, rel, title string) link {
	return link{Href: href, Rel: rel, Type: "application/json", Title: title}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto plain-text responses. A partial
// failure wraps its causes, so it is matched before the sentinels.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, notFound string, err error) {
	var pf *model.PartialFailure
	code := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.As(err, &pf):
		msg = pf.Error()
	case errors.Is(err, model.ErrNotFound):
		code, msg = http.StatusNotFound, notFound
	case errors.Is(err, model.ErrStorageUnavailable):
		code, msg = http.StatusServiceUnavailable, "storage unavailable"
	}

	lvl := slog.LevelWarn
	if code == http.StatusInternalServerError {
		lvl = slog.LevelError
	}
	ctx := mylog.WithComponent(r.Context(), "api")
	a.logger.Log(ctx, lvl, "request failed",
		"method", r.Method, "path", r.URL.Path, "status", code, "err", err)
	http.Error(w, msg, code)
}
