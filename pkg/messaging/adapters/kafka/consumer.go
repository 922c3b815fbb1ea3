package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/hayabusa-fifo/fifoqueue/pkg/messaging"
)

// consumer is a Kafka consumer-group implementation.
type consumer struct {
	broker *Broker
	topic  string
	group  sarama.ConsumerGroup
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	h := &groupHandler{handler: handler}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			return messaging.ErrConsumeFailed(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *consumer) Close() error {
	return c.group.Close()
}

// groupHandler adapts sarama.ConsumerGroupHandler onto a
// messaging.MessageHandler.
type groupHandler struct {
	handler messaging.MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		m := &messaging.Message{
			Topic:   msg.Topic,
			Key:     msg.Key,
			Payload: msg.Value,
			Headers: headersToMap(msg.Headers),
			Metadata: messaging.MessageMetadata{
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Raw:       msg,
			},
		}
		if err := h.handler(sess.Context(), m); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func headersToMap(rh []*sarama.RecordHeader) map[string]string {
	if len(rh) == 0 {
		return nil
	}
	out := make(map[string]string, len(rh))
	for _, h := range rh {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}
