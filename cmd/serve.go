package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/analytics"
	"github.com/jmehdipour/label-dispatch/internal/db"
	"github.com/jmehdipour/label-dispatch/internal/dispatcher"
	httpSrv "github.com/jmehdipour/label-dispatch/internal/http"
	"github.com/jmehdipour/label-dispatch/internal/kafka"
	"github.com/jmehdipour/label-dispatch/internal/logger"
	"github.com/jmehdipour/label-dispatch/internal/pkg/distlock"
	"github.com/jmehdipour/label-dispatch/internal/quota"
	"github.com/jmehdipour/label-dispatch/internal/ratelimit"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/service/lifecycle"
	"github.com/jmehdipour/label-dispatch/internal/service/recommend"
	"github.com/jmehdipour/label-dispatch/internal/service/submission"
	"github.com/jmehdipour/label-dispatch/internal/service/suppression"
	"github.com/jmehdipour/label-dispatch/internal/signing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		log := logger.Log
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mysqlDB, err := db.NewMySQLConnection(ctx, cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		// activity reads are optional; the API runs without ClickHouse
		var activity httpSrv.ActivityReader
		chDB, err := db.NewClickHouseConnection(ctx, cfg.ClickHouse)
		if err != nil {
			log.Warn("clickhouse unavailable, activity endpoint disabled", zap.Error(err))
		} else {
			defer func() { _ = chDB.Close() }()
			activity = repository.NewCHEventsRepository(chDB)
		}

		var events analytics.Emitter = analytics.NopEmitter{}
		if cfg.Kafka.Enabled {
			producer := kafka.NewProducerFromConfig(cfg.Kafka, log)
			defer func() { _ = producer.Close() }()
			events = analytics.NewKafkaEmitter(producer, log)
		}

		provs, err := dispatcher.FromConfig(ctx, cfg.Providers, log)
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		disp := dispatcher.NewDispatcher(provs, cfg.Dispatch.MaxAttempts)

		limiter, err := ratelimit.New(cfg.RateLimit, redisClient)
		if err != nil {
			return err
		}
		engine, err := quota.NewEngine(cfg.Quota)
		if err != nil {
			return fmt.Errorf("quota: %w", err)
		}
		registry, err := lifecycle.NewRegistry(cfg.Lifecycle.Types)
		if err != nil {
			return fmt.Errorf("lifecycle registry: %w", err)
		}
		signer, err := signing.NewSigner(cfg.Unsubscribe, cfg.HTTP.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("unsubscribe signer: %w", err)
		}

		// repositories
		usersRepo := repository.NewUsersRepository(mysqlDB)
		labelsRepo := repository.NewLabelsRepository(mysqlDB)
		pitchesRepo := repository.NewPitchesRepository(mysqlDB)
		subsRepo := repository.NewSubmissionsRepository(mysqlDB)
		flagsRepo := repository.NewEmailFlagsRepository(mysqlDB)
		auditRepo := repository.NewSuppressionEventsRepository(mysqlDB)

		svc := httpSrv.Services{
			Recommendations: recommend.New(usersRepo, labelsRepo, cfg.Match.MaxResults),
			Submissions: submission.New(labelsRepo, pitchesRepo, subsRepo, engine, disp, events, log, submission.Options{
				SendTimeout: cfg.Dispatch.SendTimeout,
				FromAddress: cfg.Dispatch.FromAddress,
				FromName:    cfg.Dispatch.FromName,
			}),
			Lifecycle: lifecycle.New(usersRepo, flagsRepo, distlock.NewRedisLocker(redisClient), disp, registry, signer, events, log, lifecycle.Options{
				FromAddress: cfg.Dispatch.FromAddress,
				FromName:    cfg.Dispatch.FromName,
				LockTTL:     cfg.Lifecycle.LockTTL,
				SendTimeout: cfg.Dispatch.SendTimeout,
			}),
			Suppression: suppression.New(usersRepo, auditRepo, flagsRepo, signer, registry, events, log),
			Activity:    activity,
			Limiter:     limiter,
		}

		server := httpSrv.NewServer(cfg, svc, log)

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting http", zap.String("addr", cfg.HTTP.Addr), zap.Int("providers", len(provs)))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
