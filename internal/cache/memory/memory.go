// Package memory provides in-process implementations of the engine's
// durable-store contracts. They back local runs (store.backend = "memory")
// and tests; state does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// Queue is an in-memory OpportunityQueue with the same slot-replacement
// semantics as the Redis queue.
type Queue struct {
	mu    sync.Mutex
	items map[string]domain.Opportunity
	slots map[string]string
}

var _ domain.OpportunityQueue = (*Queue)(nil)

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[string]domain.Opportunity), slots: make(map[string]string)}
}

func (q *Queue) Push(_ context.Context, opp domain.Opportunity) error {
	if opp.ID == "" {
		return fmt.Errorf("memory: push: opportunity has no id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	slot := opp.Slot()
	if old, ok := q.slots[slot]; ok && old != opp.ID {
		delete(q.items, old)
	}
	q.items[opp.ID] = opp
	q.slots[slot] = opp.ID
	return nil
}

func (q *Queue) Top(_ context.Context, n int) ([]domain.Opportunity, error) {
	if n <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	all := make([]domain.Opportunity, 0, len(q.items))
	for _, o := range q.items {
		all = append(all, o)
	}
	q.mu.Unlock()

	// Ties broken by id, matching the lexicographic order of a sorted set.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (q *Queue) Get(_ context.Context, id string) (domain.Opportunity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o, ok := q.items[id]
	if !ok {
		return domain.Opportunity{}, fmt.Errorf("memory: opportunity %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (q *Queue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	o, ok := q.items[id]
	if !ok {
		return nil
	}
	delete(q.items, id)
	if q.slots[o.Slot()] == id {
		delete(q.slots, o.Slot())
	}
	return nil
}

func (q *Queue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// CooldownStore keeps rate-limit state in maps. Each account holds only the
// counter of the day it last moved on, so rollover does not depend on expiry
// and old days do not accumulate.
type CooldownStore struct {
	mu     sync.Mutex
	last   map[string]time.Time
	counts map[string]dayCount
}

type dayCount struct {
	day string
	n   int
}

var _ domain.CooldownStore = (*CooldownStore)(nil)

// NewCooldownStore creates an empty CooldownStore.
func NewCooldownStore() *CooldownStore {
	return &CooldownStore{last: make(map[string]time.Time), counts: make(map[string]dayCount)}
}

func (s *CooldownStore) LastMove(_ context.Context, account string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[account]
	return t, ok, nil
}

func (s *CooldownStore) MovesOn(_ context.Context, account, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts[account]
	if c.day != day {
		return 0, nil
	}
	return c.n, nil
}

func (s *CooldownStore) RecordMove(_ context.Context, account string, at time.Time, day string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[account] = at
	c := s.counts[account]
	if c.day != day {
		c = dayCount{day: day}
	}
	c.n++
	s.counts[account] = c
	return nil
}

// HistoryLog is a bounded newest-first slice.
type HistoryLog struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	max     int
}

var _ domain.HistoryLog = (*HistoryLog)(nil)

// NewHistoryLog creates a HistoryLog retaining at most max entries.
func NewHistoryLog(max int) *HistoryLog {
	return &HistoryLog{max: max}
}

func (h *HistoryLog) Append(_ context.Context, e domain.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]domain.HistoryEntry{e}, h.entries...)
	if h.max > 0 && len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
	return nil
}

func (h *HistoryLog) Recent(_ context.Context, limit int) ([]domain.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]domain.HistoryEntry, limit)
	copy(out, h.entries[:limit])
	return out, nil
}

func (h *HistoryLog) Len(_ context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.entries)), nil
}

// Registry is an in-memory AccountRegistry.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

var _ domain.AccountRegistry = (*Registry)(nil)

// NewRegistry creates a Registry seeded with accounts.
func NewRegistry(accounts ...domain.Account) *Registry {
	r := &Registry{accounts: make(map[string]domain.Account)}
	for _, a := range accounts {
		a.Address = domain.NormalizeAddress(a.Address)
		r.accounts[a.Address] = a
	}
	return r
}

func (r *Registry) List(_ context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (r *Registry) Get(_ context.Context, address string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[domain.NormalizeAddress(address)]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", address, domain.ErrNotFound)
	}
	return a, nil
}

func (r *Registry) Register(_ context.Context, acct domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct.Address = domain.NormalizeAddress(acct.Address)
	if acct.EnrolledAt.IsZero() {
		acct.EnrolledAt = time.Now().UTC()
	}
	r.accounts[acct.Address] = acct
	return nil
}

func (r *Registry) Unregister(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, domain.NormalizeAddress(address))
	return nil
}

// LockManager is a process-local LockManager. TTLs are honoured lazily on
// the next Acquire.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]time.Time), nowFn: time.Now}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
	}, nil
}

// streamMaxLen matches the approximate cap of the Redis streams.
const streamMaxLen = 10000

// SignalBus is an in-process SignalBus. Subscribers with a trailing "*" in
// the channel name receive every channel sharing the prefix.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     int64
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[string][]chan []byte), streams: make(map[string][]domain.StreamMessage)}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for pattern, chans := range b.subs {
		if !channelMatches(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.seq),
		Payload: payload,
	})
	if len(msgs) > streamMaxLen {
		msgs = msgs[len(msgs)-streamMaxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

func (b *SignalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msgs := b.streams[stream]
	start := 0
	if lastID != "" && lastID != "0" {
		for i, m := range msgs {
			if m.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	end := len(msgs)
	if count > 0 && start+count < end {
		end = start + count
	}
	out := make([]domain.StreamMessage, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func channelMatches(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}

// RateLimiter is a process-local sliding-window RateLimiter.
type RateLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	nowFn func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), nowFn: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}
