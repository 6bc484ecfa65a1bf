package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the token precision of the rebalanced asset.
const USDCDecimals int32 = 6

// RawAmount is a non-negative integer token amount in base units, kept as a
// decimal string so it survives JSON and Redis round trips unchanged.
type RawAmount string

// BigInt parses the amount. It fails on empty, malformed or negative values.
func (a RawAmount) BigInt() (*big.Int, error) {
	n, ok := new(big.Int).SetString(string(a), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, string(a))
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative %q", ErrInvalidAmount, string(a))
	}
	return n, nil
}

// IsPositive reports whether the amount parses and is greater than zero.
func (a RawAmount) IsPositive() bool {
	n, err := a.BigInt()
	return err == nil && n.Sign() > 0
}

// ToUnits converts base units into whole-token units, e.g. 1500000 -> 1.5
// for a 6-decimal token.
func (a RawAmount) ToUnits(decimals int32) (float64, error) {
	n, err := a.BigInt()
	if err != nil {
		return 0, err
	}
	return decimal.NewFromBigInt(n, -decimals).InexactFloat64(), nil
}

// RawFromUnits converts a whole-token amount to base units, truncating any
// precision beyond the token's decimals.
func RawFromUnits(units float64, decimals int32) RawAmount {
	if units <= 0 {
		return "0"
	}
	d := decimal.NewFromFloat(units).Shift(decimals).Truncate(0)
	return RawAmount(d.BigInt().String())
}

// RawFromBig wraps a big.Int as a RawAmount.
func RawFromBig(n *big.Int) RawAmount {
	if n == nil {
		return "0"
	}
	return RawAmount(n.String())
}
