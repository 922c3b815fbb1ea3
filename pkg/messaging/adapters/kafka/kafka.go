// Package kafka adapts the messaging.Broker contract onto IBM's sarama
// client.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/hayabusa-fifo/fifoqueue/pkg/messaging"
)

// Config configures the Kafka broker adapter.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
}

// Broker implements messaging.Broker on top of sarama.
type Broker struct {
	cfg    Config
	client sarama.Client
}

// New dials the configured Kafka brokers and returns a messaging.Broker.
func New(cfg Config) (*Broker, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &Broker{cfg: cfg, client: client}, nil
}

func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	sp, err := sarama.NewSyncProducerFromClient(b.client)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &producer{broker: b, topic: topic, producer: sp}, nil
}

func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	cg, err := sarama.NewConsumerGroupFromClient(group, b.client)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &consumer{broker: b, topic: topic, group: cg}, nil
}

func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) Healthy(ctx context.Context) bool {
	return !b.client.Closed()
}
