package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/queue_push.lua
var queuePushLua string

//go:embed scripts/queue_remove.lua
var queueRemoveLua string

// OpportunityQueue implements domain.OpportunityQueue with a sorted set of
// opportunity ids scored by priority, a hash of JSON payloads, and a pair of
// slot hashes so a newer opportunity for the same move replaces the old one.
// Every mutation runs as a single Lua script.
type OpportunityQueue struct {
	rdb      *redis.Client
	keys     []string
	pushSc   *redis.Script
	removeSc *redis.Script
}

// NewOpportunityQueue creates an OpportunityQueue backed by the given Client.
func NewOpportunityQueue(c *Client) *OpportunityQueue {
	return &OpportunityQueue{
		rdb: c.Underlying(),
		keys: []string{
			c.Key("queue", "scores"),
			c.Key("queue", "payloads"),
			c.Key("queue", "slots"),
			c.Key("queue", "owners"),
		},
		pushSc:   redis.NewScript(queuePushLua),
		removeSc: redis.NewScript(queueRemoveLua),
	}
}

// Push inserts opp keyed by its id. An older pending opportunity for the same
// account and vault pair is dropped in the same step.
func (q *OpportunityQueue) Push(ctx context.Context, opp domain.Opportunity) error {
	if opp.ID == "" {
		return fmt.Errorf("redis: queue push: opportunity has no id")
	}
	payload, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("redis: queue push %s: marshal: %w", opp.ID, err)
	}
	err = q.pushSc.Run(ctx, q.rdb, q.keys, opp.ID, opp.Priority, payload, opp.Slot()).Err()
	if err != nil {
		return fmt.Errorf("redis: queue push %s: %w", opp.ID, err)
	}
	return nil
}

// Top returns up to n opportunities, highest priority first. Ids whose
// payload has gone missing are skipped.
func (q *OpportunityQueue) Top(ctx context.Context, n int) ([]domain.Opportunity, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := q.rdb.ZRevRange(ctx, q.keys[0], 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: queue top: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := q.rdb.HMGet(ctx, q.keys[1], ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: queue top payloads: %w", err)
	}

	out := make([]domain.Opportunity, 0, len(ids))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var o domain.Opportunity
		if err := json.Unmarshal([]byte(s), &o); err != nil {
			return nil, fmt.Errorf("redis: queue top: decode %s: %w", ids[i], err)
		}
		out = append(out, o)
	}
	return out, nil
}

// Get returns the pending opportunity with the given id.
func (q *OpportunityQueue) Get(ctx context.Context, id string) (domain.Opportunity, error) {
	s, err := q.rdb.HGet(ctx, q.keys[1], id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Opportunity{}, fmt.Errorf("redis: queue get %s: %w", id, domain.ErrNotFound)
		}
		return domain.Opportunity{}, fmt.Errorf("redis: queue get %s: %w", id, err)
	}
	var o domain.Opportunity
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return domain.Opportunity{}, fmt.Errorf("redis: queue get %s: decode: %w", id, err)
	}
	return o, nil
}

// Remove deletes the opportunity with the given id. Unknown ids are a no-op.
func (q *OpportunityQueue) Remove(ctx context.Context, id string) error {
	if err := q.removeSc.Run(ctx, q.rdb, q.keys, id).Err(); err != nil {
		return fmt.Errorf("redis: queue remove %s: %w", id, err)
	}
	return nil
}

// Len returns the number of pending opportunities.
func (q *OpportunityQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.keys[0]).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: queue len: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.OpportunityQueue = (*OpportunityQueue)(nil)
