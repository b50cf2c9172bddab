package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/egannguyen/go-kafka-social/internal/repository"
)

const defaultKey = "projection:checkpoints"

// advanceScript raises the stored version only when the new one is higher.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if tonumber(ARGV[2]) > cur then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

type checkpoints struct {
	client *redis.Client
	key    string
}

// NewCheckpoints stores the projection ledger in a single redis hash.
func NewCheckpoints(client *redis.Client, key string) repository.Checkpoints {
	if key == "" {
		key = defaultKey
	}
	return &checkpoints{client: client, key: key}
}

func (c *checkpoints) Last(ctx context.Context, aggregateID string) (int, error) {
	v, err := c.client.HGet(ctx, c.key, aggregateID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint for %s: %w", aggregateID, err)
	}
	return v, nil
}

func (c *checkpoints) Advance(ctx context.Context, aggregateID string, version int) error {
	if err := advanceScript.Run(ctx, c.client, []string{c.key}, aggregateID, version).Err(); err != nil {
		return fmt.Errorf("failed to advance checkpoint for %s: %w", aggregateID, err)
	}
	return nil
}
