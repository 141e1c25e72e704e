package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/db"
	"github.com/jmehdipour/label-dispatch/internal/logger"
	"github.com/jmehdipour/label-dispatch/migrations"
)

var withClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema (CREATE IF NOT EXISTS)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sqlDB, err := db.NewMySQLConnection(ctx, cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if err := applyMySQL(ctx, sqlDB); err != nil {
			return err
		}
		logger.Log.Info("mysql migration complete", zap.String("file", migrations.MySQLInit))

		if !withClickHouse {
			return nil
		}
		chDB, err := db.NewClickHouseConnection(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		if err := applyClickHouse(ctx, chDB); err != nil {
			return err
		}
		logger.Log.Info("clickhouse migration complete", zap.String("file", migrations.ClickHouseInit))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&withClickHouse, "clickhouse", false, "also apply the ClickHouse analytics schema")
}

// applyMySQL relies on multiStatements=true in the DSN.
func applyMySQL(ctx context.Context, sqlDB *sqlx.DB) error {
	sqlBytes, err := migrations.FS.ReadFile(migrations.MySQLInit)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", migrations.MySQLInit, err)
	}

	if _, err := sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("disable fk checks: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, string(sqlBytes)); err != nil {
		_, _ = sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
		return fmt.Errorf("exec migration: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
		return fmt.Errorf("enable fk checks: %w", err)
	}
	return nil
}

// applyClickHouse runs statements one at a time; the native protocol
// rejects multi-statement queries.
func applyClickHouse(ctx context.Context, chDB *sqlx.DB) error {
	sqlBytes, err := migrations.FS.ReadFile(migrations.ClickHouseInit)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", migrations.ClickHouseInit, err)
	}
	for _, stmt := range strings.Split(string(sqlBytes), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := chDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec clickhouse migration: %w", err)
		}
	}
	return nil
}
