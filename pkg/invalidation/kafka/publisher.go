package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

// Notice tells tile renderers that cached content of a project is gone.
type Notice struct {
	Version           int       `json:"version"`
	Op                string    `json:"op"`
	ID                string    `json:"id"`
	Project           string    `json:"project,omitempty"`
	LayersRemoved     []string  `json:"layers_removed"`
	DocumentsCleared  bool      `json:"documents_cleared"`
	CollectionRemoved bool      `json:"collection_removed"`
	TS                time.Time `json:"ts"`
}

// Publisher sends one Notice per completed removal. Publishing never blocks
// the removal path: when the queue is full the notice is dropped.
type Publisher struct {
	topic   string
	log     *slog.Logger
	notices chan Notice
	prod    sarama.AsyncProducer
	stopped chan struct{}
	now     func() time.Time
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("notices: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		log:     logger,
		notices: make(chan Notice, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		now:     time.Now,
	}

	go func() {
		defer close(p.stopped)
		for n := range p.notices {
			b, err := json.Marshal(n)
			if err != nil {
				p.log.Error("notices: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(n.ID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("notices: producer error", "err", err)
			}
		}
	}()

	return p
}

// Removed implements invalidation.Notifier.
func (p *Publisher) Removed(ctx context.Context, res model.CascadeResult) {
	n := Notice{
		Version:           1,
		Op:                res.Op,
		ID:                res.ID,
		Project:           res.Project,
		LayersRemoved:     res.Removed,
		DocumentsCleared:  res.DocumentsCleared,
		CollectionRemoved: res.CollectionRemoved,
		TS:                p.now().UTC(),
	}
	if n.LayersRemoved == nil {
		n.LayersRemoved = []string{}
	}
	select {
	case p.notices <- n:
	default:
		p.log.WarnContext(ctx, "notices: queue full, dropping", "op", n.Op, "collection", n.ID)
	}
}

func (p *Publisher) Close() error {
	close(p.notices)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("notices: close producer: %w", err)
	}
	return nil
}
