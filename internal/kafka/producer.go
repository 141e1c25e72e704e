package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// Producer wraps an async kafka-go Writer. WriteMessages returns as soon as
// messages are buffered; delivery failures surface in the log only.
type Producer struct {
	w *kafka.Writer
}

func NewProducerFromConfig(c config.KafkaConfig, log *zap.Logger) *Producer {
	bt := c.WriterBatch
	if bt <= 0 {
		bt = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.AnalyticsTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka async write failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &Producer{w: w}
}

func (p *Producer) WriteMessages(ctx context.Context, msgs ...Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }
