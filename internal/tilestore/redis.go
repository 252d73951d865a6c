package tilestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/keys"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

// Redis keeps tile and document bodies as plain keys. Deletes scan by
// prefix, so they stay idempotent and never need the layer list.
type Redis struct {
	cli    *redisstore.Client
	layout Layout
	batch  int64
}

func NewRedis(cli *redisstore.Client, layout Layout, batch int64) *Redis {
	if batch <= 0 {
		batch = 500
	}
	return &Redis{cli: cli, layout: layout, batch: batch}
}

func (r *Redis) PutTile(ctx context.Context, project string, t Tile, data []byte) error {
	if !validName(t.Layer) || !validName(t.Matrix) {
		return fmt.Errorf("%w: layer=%q matrix=%q", ErrInvalidName, t.Layer, t.Matrix)
	}
	ext, err := t.Ext()
	if err != nil {
		return err
	}
	tile := strings.Join([]string{t.MatrixSet, t.Style, r.layout.Path(t.Row, t.Col, t.Matrix, ext)}, ":")
	key := keys.Tile(model.CollectionID(project), t.Layer, tile)
	if err := r.cli.Set(ctx, key, data, 0); err != nil {
		return unavailable("put_tile", err)
	}
	return nil
}

func (r *Redis) PutDocument(ctx context.Context, project, doc string, data []byte) error {
	if strings.TrimSpace(doc) == "" {
		return fmt.Errorf("%w: empty document", ErrInvalidName)
	}
	key := keys.Document(model.CollectionID(project), model.DocumentID(doc))
	if err := r.cli.Set(ctx, key, data, 0); err != nil {
		return unavailable("put_document", err)
	}
	return nil
}

func (r *Redis) DeleteLayerTiles(ctx context.Context, id, layer string) error {
	if _, err := r.cli.ScanDel(ctx, keys.Pattern(keys.TilePrefix(id, layer)), r.batch); err != nil {
		return unavailable("delete_layer", err)
	}
	return nil
}

func (r *Redis) DeleteAllDocuments(ctx context.Context, id string) error {
	if _, err := r.cli.ScanDel(ctx, keys.Pattern(keys.DocumentPrefix(id)), r.batch); err != nil {
		return unavailable("delete_documents", err)
	}
	return nil
}

func (r *Redis) DeleteCollection(ctx context.Context, id string) error {
	for _, prefix := range []string{keys.TileRoot(id), keys.DocumentPrefix(id)} {
		if _, err := r.cli.ScanDel(ctx, keys.Pattern(prefix), r.batch); err != nil {
			return unavailable("delete_collection", err)
		}
	}
	return nil
}

// CountLayerTiles reports how many tile keys a layer holds.
func (r *Redis) CountLayerTiles(ctx context.Context, id, layer string) (int64, error) {
	n, err := r.cli.Count(ctx, keys.Pattern(keys.TilePrefix(id, layer)))
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}
