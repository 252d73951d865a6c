// Package registry is the read side of the cache manager and the ingest path
// that grows it. Removals never go through here; they belong to the
// invalidation engine so tile storage and counts move together.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/keylock"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/store"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/tilestore"
)

var ErrInvalid = errors.New("invalid argument")

type Registry struct {
	store  store.Store
	locks  keylock.Locker
	logger *slog.Logger
}

// New returns a Registry. locks must be the same kind of Locker the
// invalidation engine uses, so ingest and removal on one collection never
// interleave.
func New(s store.Store, locks keylock.Locker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Registry{store: s, locks: locks, logger: logger}
}

// List returns every collection ordered by project name.
func (r *Registry) List(ctx context.Context) ([]model.Summary, error) {
	out, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, id string) (model.Collection, error) {
	c, err := r.store.GetCollection(ctx, id)
	if err != nil {
		return model.Collection{}, fmt.Errorf("get collection %s: %w", id, err)
	}
	return c, nil
}

// Documents returns the number of cached documents of a collection.
func (r *Registry) Documents(ctx context.Context, id string) (int, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.Documents, nil
}

// Layer returns one layer of a collection, or ErrNotFound when either the
// collection or the layer is unknown.
func (r *Registry) Layer(ctx context.Context, id, layer string) (model.Layer, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return model.Layer{}, err
	}
	for _, l := range c.Layers {
		if l.ID == layer {
			return l, nil
		}
	}
	return model.Layer{}, fmt.Errorf("layer %s/%s: %w", id, layer, model.ErrNotFound)
}

// Lookup resolves a project name to its collection.
func (r *Registry) Lookup(ctx context.Context, project string) (model.Collection, error) {
	return r.Get(ctx, model.CollectionID(project))
}

// RecordTile notes that n tiles of layer were cached for project. The
// collection and layer are created on first sight.
func (r *Registry) RecordTile(ctx context.Context, project, layer string, n int64) (string, error) {
	project, layer = strings.TrimSpace(project), strings.TrimSpace(layer)
	if project == "" || layer == "" {
		return "", fmt.Errorf("%w: project and layer are required", ErrInvalid)
	}
	if n <= 0 {
		n = 1
	}
	id := model.CollectionID(project)

	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return "", fmt.Errorf("record tile %s/%s: %w", id, layer, err)
	}
	defer unlock()

	if err := r.store.EnsureCollection(ctx, id, project); err != nil {
		return "", fmt.Errorf("record tile %s/%s: %w", id, layer, err)
	}
	if err := r.store.AddTiles(ctx, id, layer, n); err != nil {
		return "", fmt.Errorf("record tile %s/%s: %w", id, layer, err)
	}
	return id, nil
}

// RecordDocument notes that a document was cached for project.
func (r *Registry) RecordDocument(ctx context.Context, project, doc string) (string, error) {
	project = strings.TrimSpace(project)
	if project == "" || strings.TrimSpace(doc) == "" {
		return "", fmt.Errorf("%w: project and document are required", ErrInvalid)
	}
	id := model.CollectionID(project)

	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return "", fmt.Errorf("record document %s: %w", id, err)
	}
	defer unlock()

	if err := r.store.EnsureCollection(ctx, id, project); err != nil {
		return "", fmt.Errorf("record document %s: %w", id, err)
	}
	if err := r.store.AddDocument(ctx, id, model.DocumentID(doc)); err != nil {
		return "", fmt.Errorf("record document %s: %w", id, err)
	}
	return id, nil
}

// ReconcileReport counts what a reconcile changed.
type ReconcileReport struct {
	Collections int `json:"collections"`
	Layers      int `json:"layers"`
	Documents   int `json:"documents"`
	Dropped     int `json:"dropped"`
}

// Reconcile rebuilds metadata from what the backend actually holds. Counts
// are replaced, and collections the backend no longer has are dropped.
func (r *Registry) Reconcile(ctx context.Context, sc tilestore.Scanner) (ReconcileReport, error) {
	var rep ReconcileReport

	found, err := sc.Scan(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile scan: %w", err)
	}
	seen := make(map[string]struct{}, len(found))
	for _, s := range found {
		seen[s.ID] = struct{}{}
		if err := r.replace(ctx, s); err != nil {
			return rep, err
		}
		rep.Collections++
		rep.Layers += len(s.Layers)
		rep.Documents += len(s.Documents)
	}

	known, err := r.store.ListCollections(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile list: %w", err)
	}
	for _, k := range known {
		if _, ok := seen[k.ID]; ok {
			continue
		}
		if err := r.drop(ctx, k.ID); err != nil {
			return rep, err
		}
		rep.Dropped++
	}

	r.logger.Info("registry reconciled",
		"collections", rep.Collections, "layers", rep.Layers,
		"documents", rep.Documents, "dropped", rep.Dropped)
	return rep, nil
}

func (r *Registry) replace(ctx context.Context, s tilestore.Scanned) error {
	id := s.ID
	if id == "" {
		id = model.CollectionID(s.Project)
	}
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", id, err)
	}
	defer unlock()

	c := model.Collection{ID: id, Project: s.Project, Layers: s.Layers}
	if err := r.store.Replace(ctx, c, s.Documents); err != nil {
		return fmt.Errorf("reconcile %s: %w", id, err)
	}
	return nil
}

func (r *Registry) drop(ctx context.Context, id string) error {
	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("reconcile drop %s: %w", id, err)
	}
	defer unlock()
	if err := r.store.DeleteCollection(ctx, id); err != nil {
		return fmt.Errorf("reconcile drop %s: %w", id, err)
	}
	return nil
}
