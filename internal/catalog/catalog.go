// Package catalog merges the yield sources into the eligible-vault list and
// the per-account position view consumed by the scheduler.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

const eligibleKey = "eligible"

// VaultSource lists the vaults of one protocol.
type VaultSource interface {
	Name() string
	Vaults(ctx context.Context) ([]domain.Vault, error)
}

// Filter holds the eligibility thresholds. Yields are decimal fractions.
type Filter struct {
	MinAPY    float64
	MinTVLUSD float64
}

// DefaultFilter keeps vaults yielding at least 1% with over $1M deposited.
func DefaultFilter() Filter {
	return Filter{MinAPY: 0.01, MinTVLUSD: 1_000_000}
}

// Keep reports whether v passes the filter.
func (f Filter) Keep(v domain.Vault) bool {
	return v.APY >= f.MinAPY && v.TotalAssetsUSD > f.MinTVLUSD
}

// Catalog implements domain.VaultCatalog. Results are cached in-process for
// the configured TTL so one cycle's accounts share a single snapshot.
type Catalog struct {
	sources []VaultSource
	filter  Filter
	ttl     time.Duration
	cache   *ristretto.Cache
	logger  *slog.Logger
}

// New creates a Catalog. A zero ttl disables caching.
func New(sources []VaultSource, filter Filter, ttl time.Duration, logger *slog.Logger) (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e3,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: cache: %w", err)
	}
	return &Catalog{
		sources: sources,
		filter:  filter,
		ttl:     ttl,
		cache:   cache,
		logger:  logger.With(slog.String("component", "catalog")),
	}, nil
}

// Close releases the cache.
func (c *Catalog) Close() { c.cache.Close() }

// Invalidate drops the cached snapshot.
func (c *Catalog) Invalidate() {
	c.cache.Del(eligibleKey)
	c.cache.Wait()
}

// Eligible implements domain.VaultCatalog. A failing source is logged and
// skipped; the call fails only when every source fails.
func (c *Catalog) Eligible(ctx context.Context) ([]domain.Vault, error) {
	if v, ok := c.cache.Get(eligibleKey); ok {
		if vaults, ok := v.([]domain.Vault); ok {
			return append([]domain.Vault(nil), vaults...), nil
		}
	}

	results := make([][]domain.Vault, len(c.sources))
	errs := make([]error, len(c.sources))
	var g errgroup.Group
	for i, src := range c.sources {
		g.Go(func() error {
			vaults, err := src.Vaults(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
				c.logger.WarnContext(ctx, "vault source failed",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = vaults
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	var eligible []domain.Vault
	for i := range c.sources {
		if errs[i] != nil {
			failed++
			continue
		}
		for _, v := range results[i] {
			if c.filter.Keep(v) {
				eligible = append(eligible, v)
			}
		}
	}
	if len(c.sources) > 0 && failed == len(c.sources) {
		return nil, fmt.Errorf("catalog: all sources failed: %w", errors.Join(errs...))
	}

	SortByNetAPY(eligible)

	if c.ttl > 0 && failed == 0 {
		c.cache.SetWithTTL(eligibleKey, eligible, int64(len(eligible))+1, c.ttl)
		c.cache.Wait()
	}
	return append([]domain.Vault(nil), eligible...), nil
}

// SortByNetAPY orders vaults best first. Ties break on address so the best
// vault is deterministic.
func SortByNetAPY(vaults []domain.Vault) {
	sort.SliceStable(vaults, func(i, j int) bool {
		if vaults[i].NetAPY != vaults[j].NetAPY {
			return vaults[i].NetAPY > vaults[j].NetAPY
		}
		return domain.NormalizeAddress(vaults[i].Address) < domain.NormalizeAddress(vaults[j].Address)
	})
}

// Compile-time interface check.
var _ domain.VaultCatalog = (*Catalog)(nil)
