package executor

import (
	"sync"
	"time"
)

// Dedup keeps one opportunity from being executed twice, either concurrently
// or again within ttl of a finished attempt. It is safe for concurrent use.
type Dedup struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	finished map[string]time.Time // opportunity ID -> when the attempt ended
	ttl      time.Duration
	now      func() time.Time
}

// NewDedup creates a Dedup that refuses an ID while it is executing and for
// ttl after it finishes.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		inflight: make(map[string]struct{}),
		finished: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Claim is the outcome of Begin.
type Claim int

const (
	// ClaimGranted means the caller owns id until Finish.
	ClaimGranted Claim = iota
	// ClaimInFlight means another caller is executing id right now.
	ClaimInFlight
	// ClaimFinished means an attempt for id ended within the TTL.
	ClaimFinished
)

// Begin claims id. Only ClaimGranted must be paired with Finish.
func (d *Dedup) Begin(id string) Claim {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inflight[id]; busy {
		return ClaimInFlight
	}
	if at, ok := d.finished[id]; ok && d.now().Sub(at) < d.ttl {
		return ClaimFinished
	}
	d.inflight[id] = struct{}{}
	return ClaimGranted
}

// Finish releases a claim taken by Begin and starts its TTL.
func (d *Dedup) Finish(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inflight, id)
	d.finished[id] = d.now()
}

// Cleanup drops finished entries older than the TTL. Call it periodically to
// bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.finished {
		if now.Sub(at) >= d.ttl {
			delete(d.finished, id)
		}
	}
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight) + len(d.finished)
}
