package store

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

type memCollection struct {
	project string
	layers  []string
	tiles   map[string]int64
	docs    map[string]struct{}
}

type memoryStore struct {
	mu   sync.RWMutex
	cols map[string]*memCollection
}

// NewMemory returns a process-local Store. Every call copies data in and
// out so callers never share state with the store.
func NewMemory() Store {
	return &memoryStore{cols: map[string]*memCollection{}}
}

func (s *memoryStore) ListCollections(_ context.Context) ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Summary, 0, len(s.cols))
	for id, c := range s.cols {
		out = append(out, model.Summary{
			ID:        id,
			Project:   c.project,
			Layers:    len(c.layers),
			Documents: len(c.docs),
		})
	}
	sortSummaries(out)
	return out, nil
}

func (s *memoryStore) GetCollection(_ context.Context, id string) (model.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cols[id]
	if !ok {
		return model.Collection{}, model.ErrNotFound
	}
	out := model.Collection{
		ID:        id,
		Project:   c.project,
		Layers:    make([]model.Layer, 0, len(c.layers)),
		Documents: len(c.docs),
	}
	for _, l := range c.layers {
		out.Layers = append(out.Layers, model.Layer{ID: l, Tiles: c.tiles[l]})
	}
	return out, nil
}

func (s *memoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cols[id]
	return ok, nil
}

func (s *memoryStore) EnsureCollection(_ context.Context, id, project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id, project)
	return nil
}

func (s *memoryStore) ensure(id, project string) *memCollection {
	c, ok := s.cols[id]
	if !ok {
		c = &memCollection{
			project: project,
			tiles:   map[string]int64{},
			docs:    map[string]struct{}{},
		}
		s.cols[id] = c
	}
	return c
}

func (s *memoryStore) AddTiles(_ context.Context, id, layer string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensure(id, "")
	if _, ok := c.tiles[layer]; !ok {
		c.layers = append(c.layers, layer)
	}
	c.tiles[layer] += n
	return nil
}

func (s *memoryStore) AddDocument(_ context.Context, id, doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id, "").docs[doc] = struct{}{}
	return nil
}

func (s *memoryStore) Replace(_ context.Context, c model.Collection, docs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc := &memCollection{
		project: c.Project,
		layers:  make([]string, 0, len(c.Layers)),
		tiles:   make(map[string]int64, len(c.Layers)),
		docs:    make(map[string]struct{}, len(docs)),
	}
	for _, l := range c.Layers {
		if _, dup := mc.tiles[l.ID]; !dup {
			mc.layers = append(mc.layers, l.ID)
		}
		mc.tiles[l.ID] = l.Tiles
	}
	for _, d := range docs {
		mc.docs[d] = struct{}{}
	}
	s.cols[c.ID] = mc
	return nil
}

func (s *memoryStore) RemoveLayer(_ context.Context, id, layer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cols[id]
	if !ok {
		return nil
	}
	if _, ok := c.tiles[layer]; !ok {
		return nil
	}
	delete(c.tiles, layer)
	kept := c.layers[:0]
	for _, l := range c.layers {
		if l != layer {
			kept = append(kept, l)
		}
	}
	c.layers = kept
	return nil
}

func (s *memoryStore) ClearDocuments(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cols[id]; ok {
		c.docs = map[string]struct{}{}
	}
	return nil
}

func (s *memoryStore) DeleteCollection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cols, id)
	return nil
}
