package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/keys"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

const fieldProject = "project"

type redisStore struct {
	cli     *redisstore.Client
	timeout time.Duration
	now     func() time.Time
}

// NewRedis returns a Store backed by Redis. timeout bounds every call; zero
// leaves the caller's deadline in charge.
func NewRedis(cli *redisstore.Client, timeout time.Duration) Store {
	return &redisStore{cli: cli, timeout: timeout, now: time.Now}
}

// returns context with timeout if set
func (s *redisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *redisStore) ListCollections(ctx context.Context) ([]model.Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids, err := s.cli.SMembers(ctx, keys.Collections())
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(ids) == 0 {
		return []model.Summary{}, nil
	}

	type row struct {
		project *redis.StringCmd
		layers  *redis.IntCmd
		docs    *redis.IntCmd
	}
	rows := make([]row, len(ids))
	_, err = s.cli.Tx(ctx, "list", func(p redis.Pipeliner) error {
		for i, id := range ids {
			rows[i] = row{
				project: p.HGet(ctx, keys.Collection(id), fieldProject),
				layers:  p.ZCard(ctx, keys.Layers(id)),
				docs:    p.SCard(ctx, keys.Documents(id)),
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list", err)
	}

	out := make([]model.Summary, 0, len(ids))
	for i, id := range ids {
		project, err := rows[i].project.Result()
		if errors.Is(err, redis.Nil) {
			// removed between SMEMBERS and EXEC
			continue
		}
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, model.Summary{
			ID:        id,
			Project:   project,
			Layers:    int(rows[i].layers.Val()),
			Documents: int(rows[i].docs.Val()),
		})
	}
	sortSummaries(out)
	return out, nil
}

func (s *redisStore) GetCollection(ctx context.Context, id string) (model.Collection, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		project *redis.StringCmd
		layers  *redis.StringSliceCmd
		tiles   *redis.MapStringStringCmd
		docs    *redis.IntCmd
	)
	_, err := s.cli.Tx(ctx, "get", func(p redis.Pipeliner) error {
		project = p.HGet(ctx, keys.Collection(id), fieldProject)
		layers = p.ZRange(ctx, keys.Layers(id), 0, -1)
		tiles = p.HGetAll(ctx, keys.Tiles(id))
		docs = p.SCard(ctx, keys.Documents(id))
		return nil
	})
	if err != nil {
		return model.Collection{}, unavailable("get", err)
	}

	name, err := project.Result()
	if errors.Is(err, redis.Nil) {
		return model.Collection{}, model.ErrNotFound
	}
	if err != nil {
		return model.Collection{}, unavailable("get", err)
	}

	counts := tiles.Val()
	c := model.Collection{
		ID:        id,
		Project:   name,
		Layers:    make([]model.Layer, 0, len(layers.Val())),
		Documents: int(docs.Val()),
	}
	for _, l := range layers.Val() {
		n, _ := strconv.ParseInt(counts[l], 10, 64)
		c.Layers = append(c.Layers, model.Layer{ID: l, Tiles: n})
	}
	return c, nil
}

func (s *redisStore) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.cli.SIsMember(ctx, keys.Collections(), id)
	if err != nil {
		return false, unavailable("exists", err)
	}
	return ok, nil
}

func (s *redisStore) EnsureCollection(ctx context.Context, id, project string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.cli.Tx(ctx, "ensure", func(p redis.Pipeliner) error {
		p.HSetNX(ctx, keys.Collection(id), fieldProject, project)
		p.SAdd(ctx, keys.Collections(), id)
		return nil
	})
	if err != nil {
		return unavailable("ensure", err)
	}
	return nil
}

func (s *redisStore) AddTiles(ctx context.Context, id, layer string, n int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	score := float64(s.now().UnixMicro())
	_, err := s.cli.Tx(ctx, "add_tiles", func(p redis.Pipeliner) error {
		p.ZAddNX(ctx, keys.Layers(id), redis.Z{Score: score, Member: layer})
		p.HIncrBy(ctx, keys.Tiles(id), layer, n)
		return nil
	})
	if err != nil {
		return unavailable("add_tiles", err)
	}
	return nil
}

func (s *redisStore) AddDocument(ctx context.Context, id, doc string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.cli.Tx(ctx, "add_document", func(p redis.Pipeliner) error {
		p.SAdd(ctx, keys.Documents(id), doc)
		return nil
	})
	if err != nil {
		return unavailable("add_document", err)
	}
	return nil
}

func (s *redisStore) Replace(ctx context.Context, c model.Collection, docs []string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.cli.Tx(ctx, "replace", func(p redis.Pipeliner) error {
		p.Del(ctx, keys.Layers(c.ID), keys.Tiles(c.ID), keys.Documents(c.ID))
		p.HSet(ctx, keys.Collection(c.ID), fieldProject, c.Project)
		p.SAdd(ctx, keys.Collections(), c.ID)
		for i, l := range c.Layers {
			p.ZAdd(ctx, keys.Layers(c.ID), redis.Z{Score: float64(i), Member: l.ID})
			p.HSet(ctx, keys.Tiles(c.ID), l.ID, l.Tiles)
		}
		if len(docs) > 0 {
			members := make([]any, len(docs))
			for i, d := range docs {
				members[i] = d
			}
			p.SAdd(ctx, keys.Documents(c.ID), members...)
		}
		return nil
	})
	if err != nil {
		return unavailable("replace", err)
	}
	return nil
}

func (s *redisStore) RemoveLayer(ctx context.Context, id, layer string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.cli.Tx(ctx, "remove_layer", func(p redis.Pipeliner) error {
		p.ZRem(ctx, keys.Layers(id), layer)
		p.HDel(ctx, keys.Tiles(id), layer)
		return nil
	})
	if err != nil {
		return unavailable("remove_layer", err)
	}
	return nil
}

func (s *redisStore) ClearDocuments(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.cli.Del(ctx, keys.Documents(id)); err != nil {
		return unavailable("clear_documents", err)
	}
	return nil
}

func (s *redisStore) DeleteCollection(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.cli.Tx(ctx, "delete_collection", func(p redis.Pipeliner) error {
		p.SRem(ctx, keys.Collections(), id)
		p.Del(ctx, keys.Collection(id), keys.Layers(id), keys.Tiles(id), keys.Documents(id))
		return nil
	})
	if err != nil {
		return unavailable("delete_collection", err)
	}
	return nil
}

func sortSummaries(s []model.Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Project != s[j].Project {
			return s[i].Project < s[j].Project
		}
		return s[i].ID < s[j].ID
	})
}
