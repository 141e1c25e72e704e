package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// Message is one outbound email, provider-neutral.
type Message struct {
	From     string
	FromName string
	To       string
	ReplyTo  string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
	Metadata map[string]string
}

// Receipt identifies an accepted message at the provider.
type Receipt struct {
	Provider  string
	MessageID string
}

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// breakerGuard gives a provider the Ready/Acquire half of the interface.
type breakerGuard struct {
	br *MicroBreaker
}

func newGuard(cfg config.BreakerConfig) breakerGuard {
	return breakerGuard{br: NewMicroBreaker(cfg.FailThreshold, time.Duration(cfg.OpenForMs)*time.Millisecond)}
}

func (g breakerGuard) Ready() bool   { return g.br.Ready() }
func (g breakerGuard) Acquire() bool { return g.br.TryAcquire() }

func timeoutOf(ms int) time.Duration {
	if ms <= 0 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// FromConfig builds every enabled provider in config order.
func FromConfig(ctx context.Context, cfgs []config.ProviderConfig, log *zap.Logger) ([]Provider, error) {
	var out []Provider
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		switch c.Kind {
		case "postmark":
			out = append(out, NewPostmarkProvider(c, log))
		case "ses":
			p, err := NewSESProvider(ctx, c)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", c.Name, err)
			}
			out = append(out, p)
		case "log":
			out = append(out, NewLogProvider(c, log))
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", c.Name, c.Kind)
		}
	}
	return out, nil
}
