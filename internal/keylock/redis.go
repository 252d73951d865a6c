package keylock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/keys"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

// Redis holds a collection lock as SET cachemngr:lock:{id} NX PX. The ttl is
// extended while the holder runs, so a crashed process frees its collections
// after one ttl. Waiters in the same process queue on a Local first and do
// not poll Redis.
type Redis struct {
	cli    *redisstore.Client
	local  *Local
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

type RedisOption func(*Redis)

func WithTTL(d time.Duration) RedisOption { return func(r *Redis) { r.ttl = d } }

// WithRetry sets how often a waiter polls a lock held by another process.
func WithRetry(d time.Duration) RedisOption { return func(r *Redis) { r.retry = d } }

func WithLogger(l *slog.Logger) RedisOption { return func(r *Redis) { r.logger = l } }

func NewRedis(cli *redisstore.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		cli:   cli,
		local: New(),
		ttl:   30 * time.Second,
		retry: 50 * time.Millisecond,
	}
	for _, o := range opts {
		o(r)
	}
	if r.ttl < time.Second {
		r.ttl = time.Second
	}
	if r.retry <= 0 {
		r.retry = 50 * time.Millisecond
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	var tok [16]byte
	_, _ = rand.Read(tok[:])
	token := hex.EncodeToString(tok[:])
	rk := keys.Lock(key)

	for {
		ok, err := r.cli.SetNX(ctx, rk, token, r.ttl)
		if err != nil {
			unlockLocal()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
			}
			return nil, fmt.Errorf("%w: lock %s: %w", model.ErrStorageUnavailable, key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(r.retry):
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(rk, token, stop, done)

	var once sync.Once
	return func() { once.Do(func() { r.release(key, rk, token, stop, done, unlockLocal) }) }, nil
}

func (r *Redis) release(key, rk, token string, stop chan struct{}, done <-chan struct{}, unlockLocal func()) {
	close(stop)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, err := r.cli.DelIfEqual(ctx, rk, token); err != nil {
		r.logger.Warn("collection lock release failed", "key", key, "err", err)
	} else if !ok {
		r.logger.Warn("collection lock expired before release", "key", key)
	}
	unlockLocal()
}

func (r *Redis) keepAlive(rk, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			ok, err := r.cli.ExpireIfEqual(ctx, rk, token, r.ttl)
			cancel()
			if err != nil {
				r.logger.Warn("collection lock refresh failed", "key", rk, "err", err)
				continue
			}
			if !ok {
				r.logger.Error("collection lock lost", "key", rk)
				return
			}
		}
	}
}
