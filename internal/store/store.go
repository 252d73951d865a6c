// Package store is the durable accessor for per-collection metadata: the
// layer set with derived tile counts, the document set and the project name.
// It owns no business rules; ordering and locking live in the registry and
// the invalidation engine.
package store

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

type Store interface {
	ListCollections(ctx context.Context) ([]model.Summary, error)
	// GetCollection fails with model.ErrNotFound for unknown ids.
	GetCollection(ctx context.Context, id string) (model.Collection, error)
	Exists(ctx context.Context, id string) (bool, error)

	EnsureCollection(ctx context.Context, id, project string) error
	// AddTiles registers layer on first sight and bumps its tile count.
	AddTiles(ctx context.Context, id, layer string, n int64) error
	AddDocument(ctx context.Context, id, doc string) error
	// Replace overwrites the whole record, used when rebuilding from disk.
	Replace(ctx context.Context, c model.Collection, docs []string) error

	RemoveLayer(ctx context.Context, id, layer string) error
	ClearDocuments(ctx context.Context, id string) error
	DeleteCollection(ctx context.Context, id string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: store %s: %w", model.ErrStorageUnavailable, op, err)
}
