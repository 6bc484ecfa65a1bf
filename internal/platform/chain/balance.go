// Package chain reads token balances straight from a JSON-RPC node.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

const balanceOfABI = `[{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`

var erc20 = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return a
}()

// Caller is satisfied by *ethclient.Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BalanceReader implements domain.BalanceProvider with ERC-20 balanceOf.
// The token is a dollar stablecoin, so its unit value is taken as USD.
type BalanceReader struct {
	caller   Caller
	token    common.Address
	decimals int32
}

// NewBalanceReader reads balances of token, which has decimals places.
func NewBalanceReader(caller Caller, token string, decimals int32) *BalanceReader {
	return &BalanceReader{caller: caller, token: common.HexToAddress(token), decimals: decimals}
}

// SpendableBalance implements domain.BalanceProvider.
func (b *BalanceReader) SpendableBalance(ctx context.Context, acct domain.Account) (domain.Balance, error) {
	if !common.IsHexAddress(acct.Address) {
		return domain.Balance{}, fmt.Errorf("chain: balance %q: %w", acct.Address, domain.ErrInvalidAddress)
	}
	data, err := erc20.Pack("balanceOf", common.HexToAddress(acct.Address))
	if err != nil {
		return domain.Balance{}, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	out, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &b.token, Data: data}, nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("chain: balanceOf %s: %w", acct.Address, err)
	}
	vals, err := erc20.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return domain.Balance{}, fmt.Errorf("chain: unpack balanceOf: %v", err)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return domain.Balance{}, fmt.Errorf("chain: unpack balanceOf: unexpected %T", vals[0])
	}

	raw := domain.RawFromBig(n)
	usd, err := raw.ToUnits(b.decimals)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{AmountRaw: raw, AmountUSD: usd}, nil
}

// Compile-time interface check.
var _ domain.BalanceProvider = (*BalanceReader)(nil)
