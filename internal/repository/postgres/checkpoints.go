package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/egannguyen/go-kafka-social/internal/repository"
)

type checkpoints struct {
	db *sqlx.DB
}

// NewCheckpoints creates a projection checkpoint ledger stored next to the read model.
func NewCheckpoints(db *sqlx.DB) repository.Checkpoints {
	return &checkpoints{db: db}
}

func (c *checkpoints) Last(ctx context.Context, aggregateID string) (int, error) {
	var v int
	err := c.db.GetContext(ctx, &v, "SELECT version FROM projection_checkpoints WHERE aggregate_id = $1", aggregateID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint for %s: %w", aggregateID, err)
	}
	return v, nil
}

func (c *checkpoints) Advance(ctx context.Context, aggregateID string, version int) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (aggregate_id, version, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (aggregate_id) DO UPDATE
		SET version = GREATEST(projection_checkpoints.version, EXCLUDED.version), updated_at = NOW()
	`, aggregateID, version)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for %s: %w", aggregateID, err)
	}
	return nil
}
