package db

import (
	"context"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// NewClickHouseConnection opens the analytics read model,
// e.g. clickhouse://default:@localhost:9000/labeld?dial_timeout=5s&compress=true
func NewClickHouseConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return open(ctx, "clickhouse", cfg.DSN, cfg)
}
