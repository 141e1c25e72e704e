package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/util"
)

// LogProvider accepts everything and only logs it. Development use.
type LogProvider struct {
	breakerGuard
	name string
	log  *zap.Logger
}

func NewLogProvider(cfg config.ProviderConfig, log *zap.Logger) *LogProvider {
	name := cfg.Name
	if name == "" {
		name = "log"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LogProvider{breakerGuard: newGuard(cfg.Breaker), name: name, log: log}
}

func (p *LogProvider) Name() string { return p.name }

func (p *LogProvider) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id := util.NewID()
	p.log.Info("email accepted by log provider",
		zap.String("message_id", id),
		zap.String("to", util.RedactEmail(msg.To)),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag),
	)
	return Receipt{Provider: p.name, MessageID: id}, nil
}
