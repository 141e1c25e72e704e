package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

// CHEventsRepository writes and reads the analytics_events read model.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.Envelope) error
	ListByUser(ctx context.Context, userID, name string, limit, offset int) ([]model.Envelope, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

// chProperties scans a Map(String, String) column. The native driver hands
// over a map; JSON text is accepted for drivers that stringify it.
type chProperties map[string]string

func (p *chProperties) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case map[string]string:
		*p = v
		return nil
	case []byte:
		return json.Unmarshal(v, (*map[string]string)(p))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]string)(p))
	default:
		return fmt.Errorf("analytics properties: unsupported type %T", src)
	}
}

type chEventRow struct {
	ID         string            `db:"id"`
	Name       string            `db:"name"`
	UserID     string            `db:"user_id"`
	Subject    string            `db:"subject"`
	Properties chProperties      `db:"properties"`
	OccurredAt time.Time         `db:"occurred_at"`
}

// InsertBatch sends one ClickHouse block per call; the driver buffers
// prepared rows until commit.
func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO analytics_events (id, name, user_id, subject, properties, occurred_at)`)
	if err != nil {
		return fmt.Errorf("prepare analytics insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		props := e.Properties
		if props == nil {
			props = map[string]string{}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Name, e.UserID, e.Subject, props, e.OccurredAt.UTC()); err != nil {
			return fmt.Errorf("append analytics event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (r *chEventsRepository) ListByUser(ctx context.Context, userID, name string, limit, offset int) ([]model.Envelope, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, name, user_id, subject, properties, occurred_at
		FROM analytics_events FINAL
		WHERE user_id = ?
	`
	args := []any{userID}

	if name != "" {
		q += " AND name = ?"
		args = append(args, name)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []chEventRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.Envelope{
			ID:         row.ID,
			Name:       row.Name,
			UserID:     row.UserID,
			Subject:    row.Subject,
			Properties: map[string]string(row.Properties),
			OccurredAt: row.OccurredAt,
		})
	}
	return out, nil
}
