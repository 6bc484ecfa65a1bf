package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// minPositionUSD drops dust left behind by earlier withdrawals.
const minPositionUSD = 0.01

// PositionSource reports an account's positions in one protocol.
type PositionSource interface {
	Name() string
	Positions(ctx context.Context, acct domain.Account) ([]domain.Position, error)
}

// Positions implements domain.PositionProvider across every source.
type Positions struct {
	sources []PositionSource
	logger  *slog.Logger
}

// NewPositions creates a Positions aggregator.
func NewPositions(sources []PositionSource, logger *slog.Logger) *Positions {
	return &Positions{sources: sources, logger: logger.With(slog.String("component", "positions"))}
}

// Positions queries all sources concurrently. A source error fails the
// call, since acting on a partial view could miss the account's largest
// position.
func (p *Positions) Positions(ctx context.Context, acct domain.Account) ([]domain.Position, error) {
	results := make([][]domain.Position, len(p.sources))
	errs := make([]error, len(p.sources))

	var g errgroup.Group
	for i, src := range p.sources {
		g.Go(func() error {
			ps, err := src.Positions(ctx, acct)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
				p.logger.WarnContext(ctx, "position source failed",
					slog.String("source", src.Name()),
					slog.String("account", acct.Address),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = ps
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("catalog: positions %s: %w", acct.Address, err)
	}

	var out []domain.Position
	for _, ps := range results {
		for _, pos := range ps {
			if pos.AmountUSD > minPositionUSD {
				out = append(out, pos)
			}
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PositionProvider = (*Positions)(nil)
