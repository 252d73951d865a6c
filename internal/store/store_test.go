package store

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedis(cli, time.Second), mr
}

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	rs, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  rs,
	}
}

func layerIDs(c model.Collection) []string {
	out := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		out = append(out, l.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_Contract(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			list, err := s.ListCollections(ctx)
			if err != nil || len(list) != 0 {
				t.Fatalf("empty list=%v err=%v", list, err)
			}
			if _, err := s.GetCollection(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("GetCollection unknown err=%v want ErrNotFound", err)
			}

			if err := s.EnsureCollection(ctx, "a1", "alpha.qgs"); err != nil {
				t.Fatalf("Ensure: %v", err)
			}
			// second ensure never renames
			if err := s.EnsureCollection(ctx, "a1", "renamed.qgs"); err != nil {
				t.Fatalf("Ensure: %v", err)
			}
			for _, l := range []string{"l2", "l1", "l2", "l3"} {
				if err := s.AddTiles(ctx, "a1", l, 2); err != nil {
					t.Fatalf("AddTiles: %v", err)
				}
			}
			for _, d := range []string{"d1", "d2", "d2", "d3"} {
				if err := s.AddDocument(ctx, "a1", d); err != nil {
					t.Fatalf("AddDocument: %v", err)
				}
			}

			c, err := s.GetCollection(ctx, "a1")
			if err != nil {
				t.Fatalf("GetCollection: %v", err)
			}
			if c.Project != "alpha.qgs" {
				t.Fatalf("project=%q", c.Project)
			}
			if got := layerIDs(c); !equal(got, []string{"l2", "l1", "l3"}) {
				t.Fatalf("layers=%v want first-seen order", got)
			}
			if c.Layers[0].Tiles != 4 || c.Documents != 3 {
				t.Fatalf("counts: %+v", c)
			}

			if ok, _ := s.Exists(ctx, "a1"); !ok {
				t.Fatalf("Exists=false")
			}

			if err := s.RemoveLayer(ctx, "a1", "l1"); err != nil {
				t.Fatalf("RemoveLayer: %v", err)
			}
			if err := s.RemoveLayer(ctx, "a1", "l1"); err != nil {
				t.Fatalf("RemoveLayer twice: %v", err)
			}
			c, _ = s.GetCollection(ctx, "a1")
			if got := layerIDs(c); !equal(got, []string{"l2", "l3"}) {
				t.Fatalf("layers after remove=%v", got)
			}

			if err := s.ClearDocuments(ctx, "a1"); err != nil {
				t.Fatalf("ClearDocuments: %v", err)
			}
			c, _ = s.GetCollection(ctx, "a1")
			if c.Documents != 0 || len(c.Layers) != 2 {
				t.Fatalf("after clear docs: %+v", c)
			}

			list, _ = s.ListCollections(ctx)
			if len(list) != 1 || list[0].Layers != 2 || list[0].Documents != 0 {
				t.Fatalf("list=%+v", list)
			}

			if err := s.DeleteCollection(ctx, "a1"); err != nil {
				t.Fatalf("DeleteCollection: %v", err)
			}
			if _, err := s.GetCollection(ctx, "a1"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("after delete err=%v", err)
			}
			if ok, _ := s.Exists(ctx, "a1"); ok {
				t.Fatalf("Exists after delete")
			}
		})
	}
}

func TestStore_ReplaceOverwrites(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.EnsureCollection(ctx, "b", "beta.qgs")
			_ = s.AddTiles(ctx, "b", "stale", 10)
			_ = s.AddDocument(ctx, "b", "old")

			err := s.Replace(ctx, model.Collection{
				ID: "b", Project: "beta.qgs",
				Layers: []model.Layer{{ID: "z", Tiles: 5}, {ID: "a", Tiles: 1}},
			}, []string{"n1", "n2"})
			if err != nil {
				t.Fatalf("Replace: %v", err)
			}
			c, err := s.GetCollection(ctx, "b")
			if err != nil {
				t.Fatalf("GetCollection: %v", err)
			}
			if got := layerIDs(c); !equal(got, []string{"z", "a"}) {
				t.Fatalf("layers=%v", got)
			}
			if c.Layers[0].Tiles != 5 || c.Documents != 2 {
				t.Fatalf("counts=%+v", c)
			}
		})
	}
}

func TestRedisStore_UnavailableIsClassified(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	ctx := context.Background()
	if _, err := s.ListCollections(ctx); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("ListCollections err=%v want ErrStorageUnavailable", err)
	}
	if err := s.RemoveLayer(ctx, "x", "l"); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("RemoveLayer err=%v want ErrStorageUnavailable", err)
	}
}
