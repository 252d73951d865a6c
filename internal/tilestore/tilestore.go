// Package tilestore holds the cached tiles and documents themselves. The
// invalidation engine only ever deletes through it; it is never asked which
// layers exist.
package tilestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

// TileStorage deletes every cached tile of one layer. Deleting a layer that
// has no tiles succeeds.
type TileStorage interface {
	DeleteLayerTiles(ctx context.Context, id, layer string) error
}

// DocumentStore deletes every cached document of a collection. Deleting an
// empty set succeeds.
type DocumentStore interface {
	DeleteAllDocuments(ctx context.Context, id string) error
}

// CollectionRemover drops whatever a backend keeps per collection once its
// layers and documents are gone.
type CollectionRemover interface {
	DeleteCollection(ctx context.Context, id string) error
}

// Backend is what the server wires: the delete surface plus the write path
// used by ingestion.
type Backend interface {
	TileStorage
	DocumentStore
	CollectionRemover
	PutTile(ctx context.Context, project string, t Tile, data []byte) error
	PutDocument(ctx context.Context, project, doc string, data []byte) error
}

// Scanner enumerates what a backend holds, used to rebuild metadata.
type Scanner interface {
	Scan(ctx context.Context) ([]Scanned, error)
}

// Scanned is one collection found in the backend.
type Scanned struct {
	ID        string
	Project   string
	Layers    []model.Layer
	Documents []string
}

var (
	ErrInvalidName       = errors.New("invalid name")
	ErrUnsupportedFormat = errors.New("unsupported tile format")
)

// Tile addresses one WMTS tile.
type Tile struct {
	Layer     string
	MatrixSet string
	Style     string
	Format    string
	Matrix    string // TILEMATRIX, z
	Row       int64  // TILEROW, x
	Col       int64  // TILECOL, y
}

// Ext maps the tile format onto a file suffix. An empty format means png.
func (t Tile) Ext() (string, error) {
	switch {
	case t.Format == "":
		return ".png", nil
	case strings.HasPrefix(t.Format, "image/png"):
		return ".png", nil
	case strings.HasPrefix(t.Format, "image/jpeg"):
		return ".jpg", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, t.Format)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: tilestore %s: %w", model.ErrStorageUnavailable, op, err)
}

// validName rejects names that cannot be a single path segment.
func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
