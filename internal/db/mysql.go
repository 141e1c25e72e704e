package db

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/config"
)

// NewMySQLConnection opens the authoritative store. parseTime and
// multiStatements are forced on because repositories scan DATETIME columns
// into time.Time and migrate runs a whole schema file.
func NewMySQLConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := normalizeMySQLDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return open(ctx, "mysql", dsn, cfg)
}

func normalizeMySQLDSN(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty mysql DSN")
	}
	parsed, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql DSN: %w", err)
	}
	parsed.ParseTime = true
	parsed.MultiStatements = true
	return parsed.FormatDSN(), nil
}
