package projection

import (
	"context"
	"fmt"

	"github.com/egannguyen/go-kafka-social/internal/entity"
	"github.com/egannguyen/go-kafka-social/internal/repository"
)

// Replay feeds the stored history of one post through the handler. Events the
// read model already has are skipped, so it both rebuilds a lost read model
// and fills a version gap. It returns how many events were applied.
func Replay(ctx context.Context, eventLog repository.EventLog, h *Handler, aggregateID string) (int, error) {
	records, err := eventLog.Load(ctx, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("failed to load history of %s: %w", aggregateID, err)
	}

	applied := 0
	for _, rec := range records {
		env, err := entity.FromRecord(rec)
		if err != nil {
			return applied, err
		}
		outcome, err := h.Apply(ctx, env)
		if err != nil {
			return applied, err
		}
		if outcome == Applied {
			applied++
		}
	}
	return applied, nil
}
