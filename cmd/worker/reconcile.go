package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/analytics"
	"github.com/jmehdipour/label-dispatch/internal/db"
	"github.com/jmehdipour/label-dispatch/internal/kafka"
	"github.com/jmehdipour/label-dispatch/internal/logger"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/pkg/distlock"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/worker"
)

var reconcileOnce bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail submission logs stuck in pending",
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "run a single sweep and exit")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.Log
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbx, err := db.NewMySQLConnection(ctx, cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	var events analytics.Emitter = analytics.NopEmitter{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducerFromConfig(cfg.Kafka, log)
		defer func() { _ = producer.Close() }()
		events = analytics.NewKafkaEmitter(producer, log)
	}

	r := worker.NewReconciler(repository.NewSubmissionsRepository(dbx), distlock.NewRedisLocker(rdb), events, log)
	if cfg.Reconcile.StaleAfter > 0 {
		r.StaleAfter = cfg.Reconcile.StaleAfter
	}
	if cfg.Reconcile.Interval > 0 {
		r.Interval = cfg.Reconcile.Interval
	}
	if cfg.Reconcile.LockTTL > 0 {
		r.LockTTL = cfg.Reconcile.LockTTL
	}
	if cfg.Reconcile.BatchLimit > 0 {
		r.BatchLimit = cfg.Reconcile.BatchLimit
	}

	if reconcileOnce {
		n, err := r.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		log.Info("reconcile sweep done", zap.Int64("failed", n))
		return nil
	}

	log.Info("reconciler started",
		zap.Duration("stale_after", r.StaleAfter),
		zap.Duration("interval", r.Interval),
		zap.Int("batch_limit", r.BatchLimit))

	return r.Run(ctx)
}
