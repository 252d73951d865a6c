// Package kafka consumes the cache event stream and publishes removal
// notices. Ingest events grow the registry; removal events run through the
// same invalidation engine as the HTTP surface.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/invalidation"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/registry"
)

// Recorder grows the registry from ingest events.
type Recorder interface {
	RecordTile(ctx context.Context, project, layer string, n int64) (string, error)
	RecordDocument(ctx context.Context, project, doc string) (string, error)
}

// Remover runs removal cascades.
type Remover interface {
	RemoveLayerTiles(ctx context.Context, id, layer string) (model.CascadeResult, error)
	RemoveAllLayers(ctx context.Context, id string) (model.CascadeResult, error)
	RemoveAllDocuments(ctx context.Context, id string) (model.CascadeResult, error)
	RemoveProject(ctx context.Context, id string) (model.CascadeResult, error)
}

// errPoison marks a message that can never be applied. It is counted and
// committed instead of blocking its partition.
var errPoison = errors.New("poison message")

type Runner struct {
	log      *slog.Logger
	cfg      RunnerConfig
	rec      Recorder
	rm       Remover
	ms       *metricSet
	dedupe   *eventDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func New(cfg RunnerConfig, rec Recorder, rm Remover, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		rec:    rec,
		rm:     rm,
		ms:     newMetricSet(opts.Register),
		dedupe: newEventDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("cache event runner disabled")
		return nil
	}
	if r.rec == nil || r.rm == nil {
		return errors.New("kafka runner: recorder and remover are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	backoff := r.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	h := &groupHandler{
		setup:   r.setAssigned,
		cleanup: func(sarama.ConsumerGroupSession) { r.clearAssigned() },
		process: r.ProcessOne,
		backoff: backoff,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("cache event runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("cache event runner stopped")
}

// Readiness reports whether the runner currently owns partitions. A disabled
// runner is always ready.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.cfg.Enabled {
		return true, nil
	}
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) setAssigned(sess sarama.ConsumerGroupSession) {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(true)
	r.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			r.assign[p] = struct{}{}
		}
	}
}

func (r *Runner) clearAssigned() {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(false)
	r.assign = map[int32]struct{}{}
}

// ProcessOne applies a single message. A returned error leaves the offset
// unmarked so the message is redelivered.
func (r *Runner) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return r.poison(msg, fmt.Errorf("%w: decode: %v", errPoison, err))
	}
	if err := ev.Validate(); err != nil {
		return r.poison(msg, fmt.Errorf("%w: validate: %v", errPoison, err))
	}

	if r.dedupe.seen(ev.ID) {
		r.ms.apply.WithLabelValues(ev.Op, "skip_duplicate").Inc()
		r.observe(ev.Op, nil, time.Since(start))
		return nil
	}

	action, err := r.apply(ctx, ev)
	if errors.Is(err, registry.ErrInvalid) {
		return r.poison(msg, fmt.Errorf("%w: %v", errPoison, err))
	}
	r.observe(ev.Op, err, time.Since(start))
	if err != nil {
		r.log.WarnContext(ctx, "cache event failed",
			"id", ev.ID, "op", ev.Op, "project", ev.Project,
			"partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("apply %s %s: %w", ev.Op, ev.ID, err)
	}
	r.ms.apply.WithLabelValues(ev.Op, action).Inc()
	r.dedupe.applied(ev.ID)
	return nil
}

func (r *Runner) apply(ctx context.Context, ev invalidation.Event) (string, error) {
	var err error
	switch ev.Op {
	case invalidation.OpTileCached:
		_, err = r.rec.RecordTile(ctx, ev.Project, ev.Layer, ev.Tiles)
	case invalidation.OpDocumentCached:
		_, err = r.rec.RecordDocument(ctx, ev.Project, ev.Document)
	case invalidation.OpRemoveLayer:
		_, err = r.rm.RemoveLayerTiles(ctx, ev.CollectionID(), ev.Layer)
	case invalidation.OpRemoveLayers:
		_, err = r.rm.RemoveAllLayers(ctx, ev.CollectionID())
	case invalidation.OpRemoveDocuments:
		_, err = r.rm.RemoveAllDocuments(ctx, ev.CollectionID())
	case invalidation.OpRemoveProject:
		_, err = r.rm.RemoveProject(ctx, ev.CollectionID())
	}
	// removing from a collection that is already gone leaves nothing to retry
	if errors.Is(err, model.ErrNotFound) {
		var pf *model.PartialFailure
		if !errors.As(err, &pf) {
			return "skip_missing", nil
		}
	}
	return "apply", err
}

func (r *Runner) poison(msg *sarama.ConsumerMessage, err error) error {
	r.ms.msgs.WithLabelValues("invalid").Inc()
	r.log.Error("dropping cache event",
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
	return nil
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}
