package chain_test

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/chain"
)

const usdc = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

type fakeCaller struct {
	msg ethereum.CallMsg
	out *big.Int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.msg = msg
	return common.LeftPadBytes(f.out.Bytes(), 32), nil
}

func TestSpendableBalance(t *testing.T) {
	fc := &fakeCaller{out: big.NewInt(42_750_000)}
	r := chain.NewBalanceReader(fc, usdc, domain.USDCDecimals)

	bal, err := r.SpendableBalance(context.Background(), domain.Account{Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatal(err)
	}
	if bal.AmountRaw != "42750000" || bal.AmountUSD != 42.75 {
		t.Errorf("balance = %+v", bal)
	}
	if *fc.msg.To != common.HexToAddress(usdc) {
		t.Errorf("called %s, want token", fc.msg.To.Hex())
	}
	if got := hex.EncodeToString(fc.msg.Data[:4]); got != "70a08231" {
		t.Errorf("selector = %s, want balanceOf", got)
	}
}

func TestSpendableBalanceRejectsBadAddress(t *testing.T) {
	r := chain.NewBalanceReader(&fakeCaller{out: big.NewInt(0)}, usdc, 6)
	if _, err := r.SpendableBalance(context.Background(), domain.Account{Address: "nope"}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
}
