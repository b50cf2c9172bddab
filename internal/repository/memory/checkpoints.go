package memory

import (
	"context"
	"sync"

	"github.com/egannguyen/go-kafka-social/internal/repository"
)

// Checkpoints is an in-memory projection checkpoint ledger.
type Checkpoints struct {
	mu   sync.Mutex
	last map[string]int
}

var _ repository.Checkpoints = (*Checkpoints)(nil)

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{last: make(map[string]int)}
}

func (c *Checkpoints) Last(_ context.Context, aggregateID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[aggregateID], nil
}

// Advance never moves a checkpoint backwards.
func (c *Checkpoints) Advance(_ context.Context, aggregateID string, version int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.last[aggregateID] {
		c.last[aggregateID] = version
	}
	return nil
}
