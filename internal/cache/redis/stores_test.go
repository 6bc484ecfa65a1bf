package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, "test:"), mr
}

func queued(id, from string, priority float64) domain.Opportunity {
	return domain.Opportunity{
		ID:        id,
		Account:   "0xacc",
		FromVault: from,
		ToVault:   "0xto",
		AmountRaw: "1000000",
		Priority:  priority,
	}
}

func TestOpportunityQueueTop(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	q := NewOpportunityQueue(c)

	r := rand.New(rand.NewSource(11))
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("id-%02d", i)
		if err := q.Push(ctx, queued(id, "0xfrom-"+id, r.Float64()*1000)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if n, _ := q.Len(ctx); n != 30 {
		t.Fatalf("Len = %d, want 30", n)
	}

	for _, n := range []int{0, 1, 5, 30, 40} {
		got, err := q.Top(ctx, n)
		if err != nil {
			t.Fatalf("Top(%d): %v", n, err)
		}
		if len(got) > n {
			t.Fatalf("Top(%d) returned %d items", n, len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Priority > got[i-1].Priority {
				t.Fatalf("Top(%d) not in non-increasing order at %d", n, i)
			}
		}
	}
}

func TestOpportunityQueueSlotReplacementAndRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	q := NewOpportunityQueue(c)

	for _, o := range []domain.Opportunity{
		queued("a", "0x1", 10),
		queued("b", "0x2", 20),
		queued("c", "0x1", 30), // same move as "a"
		queued("d", "0x3", 5),
	} {
		if err := q.Push(ctx, o); err != nil {
			t.Fatalf("Push %s: %v", o.ID, err)
		}
	}

	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("Len = %d, want 3 after slot replacement", n)
	}
	if _, err := q.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(a) err = %v, want ErrNotFound", err)
	}
	top, err := q.Top(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].ID != "c" || top[1].ID != "b" {
		t.Fatalf("Top(2) = %+v, want c then b", top)
	}

	if err := q.Remove(ctx, "c"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := q.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Fatalf("Len after remove = %d, want 2", n)
	}

	// The freed slot accepts a new move without touching others.
	if err := q.Push(ctx, queued("e", "0x1", 1)); err != nil {
		t.Fatal(err)
	}
	got, err := q.Get(ctx, "e")
	if err != nil || got.Priority != 1 {
		t.Fatalf("Get(e) = %+v, %v", got, err)
	}
	if n, _ := q.Len(ctx); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
}

func TestOpportunityQueueRepushSameID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	q := NewOpportunityQueue(c)

	_ = q.Push(ctx, queued("a", "0x1", 10))
	_ = q.Push(ctx, queued("a", "0x1", 40))

	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	got, err := q.Get(ctx, "a")
	if err != nil || got.Priority != 40 {
		t.Fatalf("Get(a) = %+v, %v; want priority 40", got, err)
	}
}

func TestHistoryLogRetention(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	h := NewHistoryLog(c, 1000)

	for i := 0; i < 1500; i++ {
		e := domain.HistoryEntry{Opportunity: domain.Opportunity{ID: fmt.Sprintf("h-%04d", i)}}
		if err := h.Append(ctx, e); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if n, _ := h.Len(ctx); n != 1000 {
		t.Fatalf("Len = %d, want 1000", n)
	}

	recent, err := h.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 || recent[0].Opportunity.ID != "h-1499" || recent[2].Opportunity.ID != "h-1497" {
		t.Fatalf("Recent(3) = %v, want newest first", recent)
	}
	all, err := h.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1000 || all[len(all)-1].Opportunity.ID != "h-0500" {
		t.Fatalf("Recent(0) len = %d, oldest = %s", len(all), all[len(all)-1].Opportunity.ID)
	}
}

func TestCooldownStore(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	s := NewCooldownStore(c)

	if _, ok, err := s.LastMove(ctx, "0xacc"); ok || err != nil {
		t.Fatalf("LastMove before any move = %v, %v", ok, err)
	}
	if n, err := s.MovesOn(ctx, "0xacc", "2026-01-10"); n != 0 || err != nil {
		t.Fatalf("MovesOn before any move = %d, %v", n, err)
	}

	at := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := s.RecordMove(ctx, "0xacc", at.Add(time.Duration(i)*time.Minute), "2026-01-10", 24*time.Hour); err != nil {
			t.Fatalf("RecordMove: %v", err)
		}
	}

	last, ok, err := s.LastMove(ctx, "0xacc")
	if err != nil || !ok || !last.Equal(at.Add(time.Minute)) {
		t.Fatalf("LastMove = %v, %v, %v", last, ok, err)
	}
	if n, _ := s.MovesOn(ctx, "0xacc", "2026-01-10"); n != 2 {
		t.Fatalf("MovesOn = %d, want 2", n)
	}
	if n, _ := s.MovesOn(ctx, "0xacc", "2026-01-11"); n != 0 {
		t.Fatalf("MovesOn next day = %d, want 0", n)
	}
	if ttl := mr.TTL(s.countKey("0xacc", "2026-01-10")); ttl != 24*time.Hour {
		t.Fatalf("counter TTL = %v, want 24h", ttl)
	}

	mr.FastForward(25 * time.Hour)
	if n, _ := s.MovesOn(ctx, "0xacc", "2026-01-10"); n != 0 {
		t.Fatalf("MovesOn after expiry = %d, want 0", n)
	}
	if _, ok, _ := s.LastMove(ctx, "0xacc"); !ok {
		t.Fatal("last move expired with the day counter")
	}
}

func TestAccountRegistry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	r := NewAccountRegistry(c)

	if got, err := r.List(ctx); err != nil || len(got) != 0 {
		t.Fatalf("List on empty registry = %v, %v", got, err)
	}
	for _, a := range []domain.Account{
		{Address: "0xBBB", KeyID: "k2"},
		{Address: "0xaaa", KeyID: "k1"},
	} {
		if err := r.Register(ctx, a); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Address != "0xaaa" || list[1].KeyID != "k2" {
		t.Fatalf("List = %+v", list)
	}

	got, err := r.Get(ctx, "0xbbb")
	if err != nil || got.KeyID != "k2" || got.EnrolledAt.IsZero() {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if err := r.Unregister(ctx, "0xBBB"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "0xbbb"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after unregister err = %v, want ErrNotFound", err)
	}
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "cycle", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "cycle", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "cycle", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}

	// A holder whose lock expired must not release the next holder's lock.
	mr.FastForward(2 * time.Minute)
	next, err := lm.Acquire(ctx, "cycle", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	again()
	if _, err := lm.Acquire(ctx, "cycle", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("stale unlock released the lock: %v", err)
	}
	next()
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("Allow %d = %v, %v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "client", 3, time.Minute); ok {
		t.Fatal("fourth request within the window was allowed")
	}
	if ok, _ := rl.Allow(ctx, "other", 3, time.Minute); !ok {
		t.Fatal("limit leaked across keys")
	}
}
