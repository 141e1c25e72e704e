package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/label-dispatch/internal/metrics"
)

var (
	ErrNoHealthy = errors.New("no healthy providers")
	ErrNoAcquire = errors.New("provider not acquired")
)

// Sender is what the services depend on.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Dispatcher spreads sends round-robin across providers whose breaker is
// closed, trying up to maxAttempts selections per message.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

var _ Sender = (*Dispatcher)(nil)

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, msg Message) (Receipt, error) {
	p, err := d.selectProvider()
	if err != nil {
		return Receipt{}, err
	}

	if !p.Acquire() {
		return Receipt{}, ErrNoAcquire
	}

	rc, err := p.Send(ctx, msg)
	if err != nil {
		metrics.ProviderSends.WithLabelValues(p.Name(), "failed").Inc()
		return Receipt{}, fmt.Errorf("provider=%s: %w", p.Name(), err)
	}
	metrics.ProviderSends.WithLabelValues(p.Name(), "sent").Inc()
	if rc.Provider == "" {
		rc.Provider = p.Name()
	}
	return rc, nil
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) (Receipt, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Receipt{}, err
		}
		rc, err := d.tryOnce(ctx, msg)
		if err == nil {
			return rc, nil
		}
		last = err
	}

	if last == nil {
		last = errors.New("send failed")
	}

	return Receipt{}, last
}
