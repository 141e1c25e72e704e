package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c config.KafkaConfig) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		GroupID:  c.GroupID,
		Topic:    c.AnalyticsTopic,
		MinBytes: min,
		MaxBytes: max,
		// 0 commits synchronously; the sink commits once per flushed batch
		CommitInterval: time.Duration(c.CommitInterval) * time.Millisecond,
		MaxWait:        500 * time.Millisecond,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }
