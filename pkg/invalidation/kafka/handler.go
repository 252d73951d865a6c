package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
)

// groupHandler marks a message only after it was processed. A failure ends
// the claim, which ends the session, and the message is consumed again from
// the committed offset once the group rejoins.
type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
	// pause before giving up a claim so a broken store is not hammered
	backoff time.Duration
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			if h.backoff > 0 {
				select {
				case <-time.After(h.backoff):
				case <-ctx.Done():
				}
			}
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
