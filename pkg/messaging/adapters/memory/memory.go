// Package memory provides an in-process messaging.Broker backed by
// buffered channels. It is used for tests and for local development where
// no real broker is available.
package memory

import (
	"context"
	"sync"

	"github.com/hayabusa-fifo/fifoqueue/pkg/messaging"
	"github.com/google/uuid"
)

// Config configures the memory broker.
type Config struct {
	// BufferSize bounds each subscriber's channel. 0 means unbuffered.
	BufferSize int
}

// Broker is a messaging.Broker that delivers messages in-process.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

type topic struct {
	mu    sync.Mutex
	subs  map[int]chan *messaging.Message
	nextI int
}

// New creates an in-memory broker.
func New(cfg Config) *Broker {
	return &Broker{cfg: cfg, topics: make(map[string]*topic)}
}

func (b *Broker) topicFor(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{subs: make(map[int]chan *messaging.Message)}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) Producer(topicName string) (messaging.Producer, error) {
	return &producer{broker: b, topic: topicName}, nil
}

func (b *Broker) Consumer(topicName string, group string) (messaging.Consumer, error) {
	t := b.topicFor(topicName)
	t.mu.Lock()
	id := t.nextI
	t.nextI++
	ch := make(chan *messaging.Message, b.cfg.BufferSize)
	t.subs[id] = ch
	t.mu.Unlock()
	return &consumer{broker: b, topic: t, id: id, ch: ch}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		t.mu.Lock()
		for _, ch := range t.subs {
			close(ch)
		}
		t.mu.Unlock()
	}
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

type producer struct {
	broker *Broker
	topic  string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	t := p.broker.topicFor(p.topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow/absent subscriber: drop rather than block the publisher,
			// matching the at-most-once semantics of the broker's buffer.
		}
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	broker *Broker
	topic  *topic
	id     int
	ch     chan *messaging.Message
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (c *consumer) Close() error {
	c.topic.mu.Lock()
	defer c.topic.mu.Unlock()
	if ch, ok := c.topic.subs[c.id]; ok {
		delete(c.topic.subs, c.id)
		close(ch)
	}
	return nil
}
