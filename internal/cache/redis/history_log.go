package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/redis/go-redis/v9"
)

// HistoryLog implements domain.HistoryLog as a Redis list: LPUSH the newest
// entry, then LTRIM to the retention bound in the same transaction.
type HistoryLog struct {
	rdb       *redis.Client
	key       string
	retention int64
}

// NewHistoryLog creates a HistoryLog retaining at most retention entries.
func NewHistoryLog(c *Client, retention int) *HistoryLog {
	return &HistoryLog{rdb: c.Underlying(), key: c.Key("history"), retention: int64(retention)}
}

// Append records e and trims the list.
func (h *HistoryLog) Append(ctx context.Context, e domain.HistoryEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: history append: marshal: %w", err)
	}
	_, err = h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, h.key, payload)
		p.LTrim(ctx, h.key, 0, h.retention-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: history append: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (h *HistoryLog) Recent(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	raw, err := h.rdb.LRange(ctx, h.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: history range: %w", err)
	}
	out := make([]domain.HistoryEntry, 0, len(raw))
	for _, s := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("redis: history range: decode: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Len returns the number of retained entries.
func (h *HistoryLog) Len(ctx context.Context) (int64, error) {
	n, err := h.rdb.LLen(ctx, h.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: history len: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.HistoryLog = (*HistoryLog)(nil)
