package kafka

import (
	"time"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/config"
)

type RunnerConfig struct {
	Enabled bool

	Brokers     []string
	Topic       string
	GroupID     string
	NotifyTopic string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool

	// DedupeSize bounds how many applied event ids are remembered.
	DedupeSize int
	// RetryBackoff is the pause after a failed consume loop or message.
	RetryBackoff time.Duration
}

func FromConfig(c config.EventsCfg) RunnerConfig {
	return RunnerConfig{
		Enabled:          c.Enabled,
		Brokers:          c.Brokers,
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		NotifyTopic:      c.NotifyTopic,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
		DedupeSize:       8192,
		RetryBackoff:     2 * time.Second,
	}
}
