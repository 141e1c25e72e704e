package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/label-dispatch/internal/kafka"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/pkg/distlock"
)

type fakeConsumer struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []kafka.Message
}

func newFakeConsumer(msgs ...kafka.Message) *fakeConsumer {
	q := make(chan kafka.Message, len(msgs))
	for _, m := range msgs {
		q <- m
	}
	return &fakeConsumer{queue: q}
}

func (f *fakeConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeConsumer) Commit(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeConsumer) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type fakeSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []model.Envelope
}

func (f *fakeSink) InsertBatch(_ context.Context, events []model.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("clickhouse: timeout")
	}
	f.stored = append(f.stored, events...)
	return nil
}

func (f *fakeSink) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func envelopeMsg(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.Envelope{ID: id, Name: model.EventSubmissionSent, UserID: "u1", OccurredAt: time.Now().UTC()})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func runSink(t *testing.T, w *AnalyticsSink) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestAnalyticsSinkFlushesBySizeAndCommits(t *testing.T) {
	c := newFakeConsumer(
		envelopeMsg(t, 1, "e1"),
		kafka.Message{Offset: 2, Value: []byte("{not json")},
		envelopeMsg(t, 3, "e3"),
	)
	sink := &fakeSink{}

	w := NewAnalyticsSink(c, sink, nil)
	w.BatchSize = 3
	w.BatchWait = time.Hour
	stop := runSink(t, w)
	defer stop()

	require.Eventually(t, func() bool { return c.commits() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sink.storedCount(), "poison message is committed but not stored")
}

func TestAnalyticsSinkRetriesBeforeCommit(t *testing.T) {
	c := newFakeConsumer(envelopeMsg(t, 1, "e1"), envelopeMsg(t, 2, "e2"))
	sink := &fakeSink{failures: 2}

	w := NewAnalyticsSink(c, sink, nil)
	w.BatchSize = 2
	w.BatchWait = time.Hour
	w.RetryDelay = time.Millisecond
	stop := runSink(t, w)
	defer stop()

	require.Eventually(t, func() bool { return c.commits() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sink.storedCount())
	assert.Equal(t, 3, sink.calls)
}

func TestAnalyticsSinkKeepsBatchWhenStoreIsDown(t *testing.T) {
	c := newFakeConsumer(envelopeMsg(t, 1, "e1"))
	sink := &fakeSink{failures: 3}

	w := NewAnalyticsSink(c, sink, nil)
	w.BatchSize = 10
	w.BatchWait = 20 * time.Millisecond
	w.InsertRetries = 1
	w.RetryDelay = time.Millisecond
	stop := runSink(t, w)
	defer stop()

	// three failed ticks, then the fourth lands
	require.Eventually(t, func() bool { return sink.storedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.commits())
}

func TestAnalyticsSinkFlushesOnShutdown(t *testing.T) {
	c := newFakeConsumer(envelopeMsg(t, 1, "e1"))
	sink := &fakeSink{}

	w := NewAnalyticsSink(c, sink, nil)
	w.BatchSize = 100
	w.BatchWait = time.Hour
	stop := runSink(t, w)

	require.Eventually(t, func() bool { return len(c.queue) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Equal(t, 1, sink.storedCount())
	assert.Equal(t, 1, c.commits())
}

type fakeSweeper struct {
	mu      sync.Mutex
	pending map[string]time.Time
	failed  map[string]string
}

func (f *fakeSweeper) ListStalePending(_ context.Context, before time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, at := range f.pending {
		if at.Before(before) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeSweeper) BatchFail(_ context.Context, ids []string, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.pending[id]; ok {
			delete(f.pending, id)
			f.failed[id] = reason
			n++
		}
	}
	return n, nil
}

func newLocker(t *testing.T) *distlock.RedisLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return distlock.NewRedisLocker(rdb)
}

func TestReconcilerFailsOnlyStalePending(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s := &fakeSweeper{
		pending: map[string]time.Time{
			"old1":  now.Add(-time.Hour),
			"old2":  now.Add(-20 * time.Minute),
			"old3":  now.Add(-16 * time.Minute),
			"fresh": now.Add(-time.Minute),
		},
		failed: map[string]string{},
	}

	r := NewReconciler(s, newLocker(t), nil, nil)
	r.StaleAfter = 15 * time.Minute
	r.BatchLimit = 2
	r.now = func() time.Time { return now }

	n, err := r.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, StalePendingReason, s.failed["old1"])
	assert.Contains(t, s.pending, "fresh")
}

func TestReconcilerSkipsWhenLockHeld(t *testing.T) {
	locker := newLocker(t)
	unlock, ok, err := locker.TryLock(context.Background(), ReconcileLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	s := &fakeSweeper{pending: map[string]time.Time{"old": time.Now().Add(-time.Hour)}, failed: map[string]string{}}
	r := NewReconciler(s, locker, nil, nil)

	n, err := r.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, s.pending, "old")
}
