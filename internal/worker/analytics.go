package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/kafka"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

// Fetcher is satisfied by kafka.Consumer.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// EventSink is satisfied by repository.CHEventsRepository.
type EventSink interface {
	InsertBatch(ctx context.Context, events []model.Envelope) error
}

// AnalyticsSink:
// - fetches analytics envelopes from Kafka,
// - batches them by size/time into ClickHouse,
// - commits offsets only after the batch is stored.
type AnalyticsSink struct {
	// Dependencies
	Consumer Fetcher
	Sink     EventSink
	Log      *zap.Logger

	// Behavior
	BatchSize     int           // max buffered events per flush
	BatchWait     time.Duration // max time to wait before flush
	InsertRetries uint
	RetryDelay    time.Duration
}

// NewAnalyticsSink builds a worker with sane defaults.
func NewAnalyticsSink(consumer Fetcher, sink EventSink, log *zap.Logger) *AnalyticsSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsSink{
		Consumer:      consumer,
		Sink:          sink,
		Log:           log,
		BatchSize:     500,
		BatchWait:     time.Second,
		InsertRetries: 3,
		RetryDelay:    200 * time.Millisecond,
	}
}

type pendingBatch struct {
	events []model.Envelope
	msgs   []kafka.Message
}

func (b *pendingBatch) reset() {
	b.events = b.events[:0]
	b.msgs = b.msgs[:0]
}

// Run blocks until ctx is cancelled, then flushes what it holds.
func (w *AnalyticsSink) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Sink == nil {
		return errors.New("analytics-sink: consumer and sink are required")
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("analytics kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var batch pendingBatch
	for {
		// a batch that failed to flush stops intake until it lands
		in := msgCh
		if len(batch.msgs) >= w.BatchSize {
			in = nil
		}

		select {
		case <-ctx.Done():
			w.flushOnShutdown(ctx, &batch)
			return nil

		case m, ok := <-in:
			if !ok {
				w.flushOnShutdown(ctx, &batch)
				return nil
			}
			w.add(&batch, m)
			if len(batch.msgs) >= w.BatchSize {
				w.flush(ctx, &batch)
			}

		case <-tick.C:
			w.flush(ctx, &batch)
		}
	}
}

func (w *AnalyticsSink) add(b *pendingBatch, m kafka.Message) {
	b.msgs = append(b.msgs, m)

	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.ID == "" || env.Name == "" {
		// poison: committed with the batch, never stored
		w.Log.Warn("analytics bad envelope", zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition), zap.Error(err))
		return
	}
	b.events = append(b.events, env)
}

func (w *AnalyticsSink) flushOnShutdown(ctx context.Context, b *pendingBatch) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	w.flush(fctx, b)
}

// flush stores the batch, then commits its offsets. Inserts are safe to
// repeat: analytics_events collapses rows by id.
func (w *AnalyticsSink) flush(ctx context.Context, b *pendingBatch) {
	if len(b.msgs) == 0 {
		return
	}

	if len(b.events) > 0 {
		var lastErr error
		err := retry.Do(
			func() error {
				lastErr = w.Sink.InsertBatch(ctx, b.events)
				return lastErr
			},
			retry.Attempts(max(1, w.InsertRetries)),
			retry.Delay(w.RetryDelay),
			retry.MaxDelay(5*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				w.Log.Warn("analytics insert retry", zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			w.Log.Error("analytics insert failed, keeping batch", zap.Int("events", len(b.events)), zap.Error(lastErr))
			return
		}
	}

	if err := w.Consumer.Commit(ctx, b.msgs...); err != nil {
		// re-delivered rows collapse in ClickHouse
		w.Log.Warn("analytics commit failed", zap.Error(err))
	}

	metrics.AnalyticsFlushed.Add(float64(len(b.events)))
	w.Log.Debug("analytics flushed", zap.Int("events", len(b.events)), zap.Int("messages", len(b.msgs)))
	b.reset()
}
