package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var eventColumns = []string{"event_id", "aggregate_id", "version", "event_type", "payload", "created_at"}

type eventLog struct {
	db *sqlx.DB
}

// NewEventLog creates a new EventLog backed by Postgres.
func NewEventLog(db *sqlx.DB) repository.EventLog {
	return &eventLog{db: db}
}

func (s *eventLog) Append(ctx context.Context, aggregateID string, expectedVersion int, events []entity.Envelope) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1", aggregateID)
	if err != nil {
		return fmt.Errorf("failed to get current stream version: %w", err)
	}
	if currentVersion != expectedVersion {
		return fmt.Errorf("%w: stream %s expected version %d, got %d", entity.ErrConcurrency, aggregateID, expectedVersion, currentVersion)
	}

	insert := psql.Insert("events").Columns(eventColumns...)
	for i, env := range events {
		if env.Version != expectedVersion+i+1 {
			return fmt.Errorf("%w: stream %s event version %d after %d", entity.ErrVersionGap, aggregateID, env.Version, expectedVersion+i)
		}
		rec, err := env.Record()
		if err != nil {
			return err
		}
		insert = insert.Values(rec.EventID, aggregateID, rec.Version, rec.EventType, rec.Payload, rec.CreatedAt)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert statement: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Lost the race to a concurrent writer between the version check and the insert.
			return fmt.Errorf("%w: stream %s version %d already taken", entity.ErrConcurrency, aggregateID, expectedVersion+1)
		}
		return fmt.Errorf("failed to insert events for stream %s: %w", aggregateID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *eventLog) Load(ctx context.Context, aggregateID string) ([]entity.EventStoreRecord, error) {
	query, args, err := psql.Select(eventColumns...).
		From("events").
		Where(sq.Eq{"aggregate_id": aggregateID}).
		OrderBy("version ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build load query: %w", err)
	}

	records := []entity.EventStoreRecord{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load events for stream %s: %w", aggregateID, err)
	}
	return records, nil
}

func (s *eventLog) Unpublished(ctx context.Context, aggregateID string, limit int) ([]entity.EventStoreRecord, error) {
	b := psql.Select(eventColumns...).
		From("events").
		Where(sq.Eq{"published_at": nil}).
		OrderBy("aggregate_id", "version")
	if aggregateID != "" {
		b = b.Where(sq.Eq{"aggregate_id": aggregateID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build unpublished query: %w", err)
	}

	var records []entity.EventStoreRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load unpublished events: %w", err)
	}
	return records, nil
}

func (s *eventLog) MarkPublished(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE events SET published_at = NOW() WHERE event_id = ANY($1) AND published_at IS NULL",
		pq.Array(eventIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}
	return nil
}
