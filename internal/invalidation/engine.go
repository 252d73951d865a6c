// Package invalidation executes cascading removals against the metadata
// store and the tile and document backends.
//
// Every mutation of a collection runs under that collection's lock, shared
// with the registry ingest path. Cascades walk a snapshot of the layer set
// one layer at a time; each layer leaves the metadata in a single atomic step
// once its tiles are gone, so readers see it either present or absent. A
// failed item stays enumerable and is reported, and the rest still run.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	obs "github.com/mohammed-shakir/wmts-cache-manager/internal/core/observability"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/tracing"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/keylock"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/store"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/tilestore"
)

const (
	OpRemoveLayer     = "remove_layer"
	OpRemoveLayers    = "remove_layers"
	OpRemoveDocuments = "remove_documents"
	OpRemoveProject   = "remove_project"
)

// Notifier learns about completed removals. Implementations must not block.
type Notifier interface {
	Removed(ctx context.Context, res model.CascadeResult)
}

type Engine struct {
	store   store.Store
	tiles   tilestore.TileStorage
	docs    tilestore.DocumentStore
	locks   keylock.Locker
	logger  *slog.Logger
	tracer  trace.Tracer
	notify  Notifier
	timeout time.Duration
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notify = n } }

// WithLocks shares the per-collection locks with the registry. Use a
// keylock.Redis when several processes write the same store.
func WithLocks(l keylock.Locker) Option { return func(e *Engine) { e.locks = l } }

// WithCascadeTimeout bounds a whole operation. It is measured from the start
// of the operation and is independent of the caller's context.
func WithCascadeTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func New(s store.Store, tiles tilestore.TileStorage, docs tilestore.DocumentStore, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		tiles:   tiles,
		docs:    docs,
		timeout: 5 * time.Minute,
	}
	for _, o := range opts {
		o(e)
	}
	if e.locks == nil {
		e.locks = keylock.New()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracing.TracerName)
	}
	return e
}

// RemoveLayerTiles deletes the tiles of one layer and drops it from the
// collection. Documents are untouched. Removing a layer that is already gone
// succeeds; an unknown collection fails with ErrNotFound.
func (e *Engine) RemoveLayerTiles(ctx context.Context, id, layer string) (model.CascadeResult, error) {
	ctx, done := e.begin(ctx, OpRemoveLayer, id)
	defer done()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String(tracing.AttrLayer, layer))

	res := model.CascadeResult{Op: OpRemoveLayer, ID: id}
	start := time.Now()

	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove layer %s/%s: %w", id, layer, err))
	}
	defer unlock()

	c, err := e.store.GetCollection(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove layer %s/%s: %w", id, layer, err))
	}
	res.Project = c.Project

	// stray tiles of an unlisted layer are still swept, but nothing was
	// removed from the collection
	if err := e.removeLayer(ctx, id, layer); err != nil {
		return e.fail(ctx, res, start, err)
	}
	if hasLayer(c.Layers, layer) {
		res.Removed = []string{layer}
	}
	return e.finish(ctx, res, start)
}

// RemoveAllLayers removes every layer present when the call starts. An empty
// layer set is a no-op success. Per-layer failures come back as a
// *model.PartialFailure alongside the result.
func (e *Engine) RemoveAllLayers(ctx context.Context, id string) (model.CascadeResult, error) {
	ctx, done := e.begin(ctx, OpRemoveLayers, id)
	defer done()

	res := model.CascadeResult{Op: OpRemoveLayers, ID: id}
	start := time.Now()

	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove layers %s: %w", id, err))
	}
	defer unlock()

	c, err := e.store.GetCollection(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove layers %s: %w", id, err))
	}
	res.Project = c.Project

	e.removeLayers(ctx, &res, c.Layers)
	return e.finish(ctx, res, start)
}

// RemoveAllDocuments deletes the cached documents of a collection. Layers
// and their tiles stay.
func (e *Engine) RemoveAllDocuments(ctx context.Context, id string) (model.CascadeResult, error) {
	ctx, done := e.begin(ctx, OpRemoveDocuments, id)
	defer done()

	res := model.CascadeResult{Op: OpRemoveDocuments, ID: id}
	start := time.Now()

	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove documents %s: %w", id, err))
	}
	defer unlock()

	c, err := e.store.GetCollection(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove documents %s: %w", id, err))
	}
	res.Project = c.Project

	if err := e.removeDocuments(ctx, id); err != nil {
		return e.fail(ctx, res, start, err)
	}
	res.DocumentsCleared = true
	return e.finish(ctx, res, start)
}

// RemoveProject removes all layers, then all documents, then the collection
// record. The record is only dropped when everything before it succeeded, so
// whatever is left stays listed for a retry. Removing a collection that no
// longer exists succeeds.
func (e *Engine) RemoveProject(ctx context.Context, id string) (model.CascadeResult, error) {
	ctx, done := e.begin(ctx, OpRemoveProject, id)
	defer done()

	res := model.CascadeResult{Op: OpRemoveProject, ID: id}
	start := time.Now()

	unlock, err := e.locks.Lock(ctx, id)
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove project %s: %w", id, err))
	}
	defer unlock()

	c, err := e.store.GetCollection(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return e.finish(ctx, res, start)
	}
	if err != nil {
		return e.fail(ctx, res, start, fmt.Errorf("remove project %s: %w", id, err))
	}
	res.Project = c.Project

	e.removeLayers(ctx, &res, c.Layers)

	if err := e.removeDocuments(ctx, id); err != nil {
		e.itemFailed(ctx, &res, model.ItemDocuments, id, err)
	} else {
		res.DocumentsCleared = true
	}

	if !res.OK() {
		e.logger.WarnContext(ctx, "collection record kept after failed cascade",
			"collection", id, "failed", len(res.Failed))
		return e.finish(ctx, res, start)
	}

	if err := e.dropCollection(ctx, id); err != nil {
		e.itemFailed(ctx, &res, model.ItemCollection, id, err)
		return e.finish(ctx, res, start)
	}
	res.CollectionRemoved = true
	trace.SpanFromContext(ctx).AddEvent("collection.removed")
	return e.finish(ctx, res, start)
}

func hasLayer(layers []model.Layer, id string) bool {
	for _, l := range layers {
		if l.ID == id {
			return true
		}
	}
	return false
}

// removeLayers walks layers in order. Failures are recorded and the walk
// goes on.
func (e *Engine) removeLayers(ctx context.Context, res *model.CascadeResult, layers []model.Layer) {
	span := trace.SpanFromContext(ctx)
	for _, l := range layers {
		if err := e.removeLayer(ctx, res.ID, l.ID); err != nil {
			e.itemFailed(ctx, res, model.ItemLayer, l.ID, err)
			continue
		}
		res.Removed = append(res.Removed, l.ID)
		span.AddEvent("layer.removed", trace.WithAttributes(attribute.String(tracing.AttrLayer, l.ID)))
	}
}

// removeLayer drops tiles first. If that fails the layer is still listed
// and a retry removes it.
func (e *Engine) removeLayer(ctx context.Context, id, layer string) error {
	if err := e.tiles.DeleteLayerTiles(ctx, id, layer); err != nil {
		return fmt.Errorf("delete tiles %s/%s: %w", id, layer, err)
	}
	if err := e.store.RemoveLayer(ctx, id, layer); err != nil {
		return fmt.Errorf("unregister layer %s/%s: %w", id, layer, err)
	}
	return nil
}

func (e *Engine) removeDocuments(ctx context.Context, id string) error {
	if err := e.docs.DeleteAllDocuments(ctx, id); err != nil {
		return fmt.Errorf("delete documents %s: %w", id, err)
	}
	if err := e.store.ClearDocuments(ctx, id); err != nil {
		return fmt.Errorf("unregister documents %s: %w", id, err)
	}
	trace.SpanFromContext(ctx).AddEvent("documents.removed")
	return nil
}

func (e *Engine) dropCollection(ctx context.Context, id string) error {
	// both may be the same backend; its delete is idempotent
	for _, b := range []any{e.tiles, e.docs} {
		r, ok := b.(tilestore.CollectionRemover)
		if !ok {
			continue
		}
		if err := r.DeleteCollection(ctx, id); err != nil {
			return fmt.Errorf("delete collection data %s: %w", id, err)
		}
	}
	if err := e.store.DeleteCollection(ctx, id); err != nil {
		return fmt.Errorf("unregister collection %s: %w", id, err)
	}
	return nil
}

func (e *Engine) itemFailed(ctx context.Context, res *model.CascadeResult, typ, itemID string, err error) {
	f := model.ItemFailure{Type: typ, ID: itemID, Kind: model.KindOf(err), Err: err}
	res.Failed = append(res.Failed, f)

	span := trace.SpanFromContext(ctx)
	span.AddEvent(typ+".failed", trace.WithAttributes(
		attribute.String("item", itemID),
		attribute.String("kind", f.Kind),
	))
	span.RecordError(err)

	e.logger.WarnContext(ctx, "cascade item failed",
		"op", res.Op, "collection", res.ID, "item", typ, "id", itemID,
		"kind", f.Kind, "err", err)
}

// begin detaches the operation from the caller's cancellation and opens its
// span. Only the cascade timeout can stop it.
func (e *Engine) begin(ctx context.Context, op, id string) (context.Context, func()) {
	ctx = context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	ctx, span := e.tracer.Start(ctx, "invalidation."+op, trace.WithAttributes(
		attribute.String(tracing.AttrOp, op),
		attribute.String(tracing.AttrCollection, id),
	))
	return ctx, func() {
		span.End()
		cancel()
	}
}

func (e *Engine) fail(ctx context.Context, res model.CascadeResult, start time.Time, err error) (model.CascadeResult, error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, model.KindOf(err))
	obs.ObserveCascade(res.Op, "error", 0, 0, time.Since(start).Seconds())

	level := slog.LevelWarn
	if errors.Is(err, model.ErrNotFound) {
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, "removal failed",
		"op", res.Op, "collection", res.ID, "kind", model.KindOf(err), "err", err)
	return res, err
}

func (e *Engine) finish(ctx context.Context, res model.CascadeResult, start time.Time) (model.CascadeResult, error) {
	outcome := "ok"
	if !res.OK() {
		outcome = "partial"
	}
	dur := time.Since(start)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String(tracing.AttrProject, res.Project),
		attribute.Int(tracing.AttrRemoved, len(res.Removed)),
		attribute.Int(tracing.AttrFailed, len(res.Failed)),
	)
	if res.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, outcome)
	}
	obs.ObserveCascade(res.Op, outcome, len(res.Removed), len(res.Failed), dur.Seconds())

	e.logger.InfoContext(ctx, "removal done",
		"op", res.Op, "collection", res.ID, "project", res.Project,
		"outcome", outcome, "removed", len(res.Removed), "failed", len(res.Failed),
		"documents_cleared", res.DocumentsCleared, "collection_removed", res.CollectionRemoved,
		"duration", dur)

	if e.notify != nil && (len(res.Removed) > 0 || res.DocumentsCleared || res.CollectionRemoved) {
		e.notify.Removed(ctx, res)
	}
	return res, res.Err()
}
