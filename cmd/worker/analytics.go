package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/db"
	"github.com/jmehdipour/label-dispatch/internal/kafka"
	"github.com/jmehdipour/label-dispatch/internal/logger"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/worker"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Drain analytics events from Kafka into ClickHouse",
	RunE:  runAnalytics,
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Kafka.Enabled {
		return errors.New("kafka is disabled; the analytics sink has nothing to consume")
	}
	log := logger.Log
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3) ClickHouse
	chDB, err := db.NewClickHouseConnection(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer func() { _ = chDB.Close() }()

	// 4) kafka consumer
	consumer := kafka.NewConsumerFromConfig(cfg.Kafka)
	defer consumer.Close()

	w := worker.NewAnalyticsSink(consumer, repository.NewCHEventsRepository(chDB), log)

	// tune knobs
	if cfg.Kafka.BatchSize > 0 {
		w.BatchSize = cfg.Kafka.BatchSize
	}
	if cfg.Kafka.BatchWait > 0 {
		w.BatchWait = cfg.Kafka.BatchWait
	}

	log.Info("analytics sink started",
		zap.String("topic", cfg.Kafka.AnalyticsTopic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait))

	return w.Run(ctx)
}
