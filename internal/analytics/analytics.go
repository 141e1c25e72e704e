// Package analytics emits best-effort product events. Emit never fails the
// caller's operation.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/kafka"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/util"
)

type Emitter interface {
	Emit(ctx context.Context, ev model.Envelope)
}

// MessageWriter is satisfied by kafka.Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaEmitter struct {
	w   MessageWriter
	log *zap.Logger
	now func() time.Time
}

func NewKafkaEmitter(w MessageWriter, log *zap.Logger) *KafkaEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaEmitter{w: w, log: log, now: time.Now}
}

func (e *KafkaEmitter) Emit(ctx context.Context, ev model.Envelope) {
	if ev.ID == "" {
		ev.ID = util.NewID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now().UTC()
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("analytics emit panicked", zap.Any("panic", r), zap.String("event", ev.Name))
		}
	}()

	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("analytics marshal failed", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	// detached from the request so cancellation right after the response
	// does not drop the event
	if err := e.w.WriteMessages(context.WithoutCancel(ctx), kafka.Message{Key: []byte(ev.UserID), Value: payload}); err != nil {
		e.log.Warn("analytics emit failed", zap.String("event", ev.Name), zap.Error(err))
	}
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, model.Envelope) {}
