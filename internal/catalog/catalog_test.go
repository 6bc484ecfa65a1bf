package catalog_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/catalog"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type source struct {
	name   string
	vaults []domain.Vault
	err    error
	calls  atomic.Int32
}

func (s *source) Name() string { return s.name }

func (s *source) Vaults(context.Context) ([]domain.Vault, error) {
	s.calls.Add(1)
	return s.vaults, s.err
}

func vault(addr string, apy, tvl float64) domain.Vault {
	return domain.Vault{Address: addr, APY: apy, NetAPY: apy, TotalAssetsUSD: tvl}
}

func TestEligibleFiltersAndSorts(t *testing.T) {
	m := &source{name: "morpho", vaults: []domain.Vault{
		vault("0xa", 0.05, 2e6),
		vault("0xb", 0.09, 5e5),  // too small
		vault("0xc", 0.005, 9e6), // yield too low
	}}
	a := &source{name: "aave", vaults: []domain.Vault{vault("0xd", 0.06, 1e8)}}

	c, err := catalog.New([]catalog.VaultSource{m, a}, catalog.DefaultFilter(), 0, discard)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, err := c.Eligible(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Address != "0xd" || got[1].Address != "0xa" {
		t.Fatalf("eligible = %+v, want 0xd then 0xa", got)
	}
}

func TestEligibleToleratesOneFailingSource(t *testing.T) {
	ok := &source{name: "ok", vaults: []domain.Vault{vault("0xa", 0.05, 2e6)}}
	bad := &source{name: "bad", err: errors.New("timeout")}
	c, _ := catalog.New([]catalog.VaultSource{ok, bad}, catalog.DefaultFilter(), 0, discard)
	defer c.Close()

	got, err := c.Eligible(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("Eligible = %v, %v", got, err)
	}

	c2, _ := catalog.New([]catalog.VaultSource{bad}, catalog.DefaultFilter(), 0, discard)
	defer c2.Close()
	if _, err := c2.Eligible(context.Background()); err == nil {
		t.Fatal("expected error when every source fails")
	}
}

func TestEligibleCaches(t *testing.T) {
	src := &source{name: "m", vaults: []domain.Vault{vault("0xa", 0.05, 2e6)}}
	c, _ := catalog.New([]catalog.VaultSource{src}, catalog.DefaultFilter(), time.Minute, discard)
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Eligible(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
	c.Invalidate()
	if _, err := c.Eligible(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("source called %d times after invalidate, want 2", n)
	}
}

func TestSortByNetAPYTieBreak(t *testing.T) {
	vs := []domain.Vault{vault("0xB", 0.05, 0), vault("0xa", 0.05, 0), vault("0xc", 0.07, 0)}
	catalog.SortByNetAPY(vs)
	if vs[0].Address != "0xc" || vs[1].Address != "0xa" || vs[2].Address != "0xB" {
		t.Errorf("order = %v", vs)
	}
}

type posSource struct {
	name string
	ps   []domain.Position
	err  error
}

func (p posSource) Name() string { return p.name }

func (p posSource) Positions(context.Context, domain.Account) ([]domain.Position, error) {
	return p.ps, p.err
}

func TestPositionsMergesAndDropsDust(t *testing.T) {
	agg := catalog.NewPositions([]catalog.PositionSource{
		posSource{name: "morpho", ps: []domain.Position{{VaultAddress: "0x1", AmountUSD: 500}, {VaultAddress: "0x2", AmountUSD: 0.001}}},
		posSource{name: "aave", ps: []domain.Position{{VaultAddress: "0x3", AmountUSD: 20}}},
	}, discard)

	got, err := agg.Positions(context.Background(), domain.Account{Address: "0xabc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("positions = %+v, want 2", got)
	}

	failing := catalog.NewPositions([]catalog.PositionSource{posSource{name: "x", err: errors.New("down")}}, discard)
	if _, err := failing.Positions(context.Background(), domain.Account{}); err == nil {
		t.Fatal("expected error")
	}
}
