// Package tests provides a broker-agnostic conformance suite that every
// messaging.Broker adapter can run against itself.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hayabusa-fifo/fifoqueue/pkg/messaging"
)

// RunBrokerTests exercises the common Broker contract: publish, consume,
// and batch publish. Adapters are expected to call this from their own
// _test.go file against a live instance of themselves.
func RunBrokerTests(t *testing.T, broker messaging.Broker) {
	t.Helper()

	t.Run("PublishAndConsume", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		topic := "test-topic"
		consumer, err := broker.Consumer(topic, "test-group")
		if err != nil {
			t.Fatalf("Consumer: %v", err)
		}
		defer consumer.Close()

		producer, err := broker.Producer(topic)
		if err != nil {
			t.Fatalf("Producer: %v", err)
		}
		defer producer.Close()

		var wg sync.WaitGroup
		wg.Add(1)
		var got *messaging.Message
		go func() {
			defer wg.Done()
			_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
				got = msg
				cancel()
				return nil
			})
		}()

		// Give the consumer goroutine a chance to start receiving before we publish.
		time.Sleep(10 * time.Millisecond)

		if err := producer.Publish(ctx, &messaging.Message{Topic: topic, Payload: []byte("hello")}); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		wg.Wait()
		if got == nil {
			t.Fatal("expected to receive a message")
		}
		if string(got.Payload) != "hello" {
			t.Fatalf("got payload %q, want %q", got.Payload, "hello")
		}
	})

	t.Run("PublishBatch", func(t *testing.T) {
		ctx := context.Background()
		producer, err := broker.Producer("batch-topic")
		if err != nil {
			t.Fatalf("Producer: %v", err)
		}
		defer producer.Close()

		msgs := []*messaging.Message{
			{Topic: "batch-topic", Payload: []byte("a")},
			{Topic: "batch-topic", Payload: []byte("b")},
		}
		if err := producer.PublishBatch(ctx, msgs); err != nil {
			t.Fatalf("PublishBatch: %v", err)
		}
	})

	t.Run("Healthy", func(t *testing.T) {
		if !broker.Healthy(context.Background()) {
			t.Fatal("expected broker to be healthy before Close")
		}
	})
}
