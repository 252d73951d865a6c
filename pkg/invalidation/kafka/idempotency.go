package kafka

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// eventDedupe remembers ids of events that were already applied, so a
// redelivery after a rebalance does not replay ingest counts.
type eventDedupe struct {
	lru *lru.Cache[string, struct{}]
}

func newEventDedupe(size int) *eventDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &eventDedupe{lru: c}
}

func (d *eventDedupe) seen(id string) bool {
	return d.lru.Contains(id)
}

// applied must only be called once the event took effect.
func (d *eventDedupe) applied(id string) {
	d.lru.Add(id, struct{}{})
}
