package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultLastMoveTTL keeps the last-move stamp long enough for reporting
// after the cooldown itself has passed.
const defaultLastMoveTTL = 30 * 24 * time.Hour

// CooldownStore implements domain.CooldownStore with one timestamp key and
// one per-day counter key per account, each with its own expiry.
type CooldownStore struct {
	c           *Client
	lastMoveTTL time.Duration
}

// NewCooldownStore creates a CooldownStore backed by the given Client.
func NewCooldownStore(c *Client) *CooldownStore {
	return &CooldownStore{c: c, lastMoveTTL: defaultLastMoveTTL}
}

func (s *CooldownStore) lastKey(account string) string {
	return s.c.Key("cooldown", "last", account)
}

func (s *CooldownStore) countKey(account, day string) string {
	return s.c.Key("cooldown", "count", account, day)
}

// LastMove returns the time of the account's last successful move.
func (s *CooldownStore) LastMove(ctx context.Context, account string) (time.Time, bool, error) {
	v, err := s.c.rdb.Get(ctx, s.lastKey(account)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis: cooldown last %s: %w", account, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: cooldown last %s: parse %q: %w", account, v, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// MovesOn returns how many moves were recorded for account on day.
func (s *CooldownStore) MovesOn(ctx context.Context, account, day string) (int, error) {
	n, err := s.c.rdb.Get(ctx, s.countKey(account, day)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: cooldown count %s: %w", account, err)
	}
	return n, nil
}

// RecordMove stamps the last move and bumps the day counter, refreshing its
// expiry so it clears itself.
func (s *CooldownStore) RecordMove(ctx context.Context, account string, at time.Time, day string, counterTTL time.Duration) error {
	countKey := s.countKey(account, day)
	_, err := s.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.lastKey(account), at.UnixMilli(), s.lastMoveTTL)
		p.Incr(ctx, countKey)
		p.Expire(ctx, countKey, counterTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: cooldown record %s: %w", account, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CooldownStore = (*CooldownStore)(nil)
