// Package custody implements domain.Custody: the calldata for each step and
// two backends that submit it, a remote server-wallet API and a local signer
// broadcasting over JSON-RPC.
package custody

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

const erc20ABI = `[
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const erc4626ABI = `[
 {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
 {"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]}
]`

const aavePoolABI = `[
 {"type":"function","name":"supply","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	erc20    = mustABI(erc20ABI)
	erc4626  = mustABI(erc4626ABI)
	aavePool = mustABI(aavePoolABI)

	// maxUint256 asks an Aave pool to withdraw the whole aToken balance.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("custody: parse abi: %v", err))
	}
	return a
}

// Call is a contract call ready to be sent as a transaction.
type Call struct {
	To   common.Address
	Data []byte
}

// Calls builds step calldata for one underlying asset.
type Calls struct {
	Asset common.Address
}

// NewCalls returns a builder for the asset at assetAddress.
func NewCalls(assetAddress string) Calls {
	return Calls{Asset: common.HexToAddress(assetAddress)}
}

func target(ref domain.VaultRef) (common.Address, error) {
	if !common.IsHexAddress(ref.Address) {
		return common.Address{}, fmt.Errorf("custody: vault %q: %w", ref.Address, domain.ErrInvalidAddress)
	}
	return common.HexToAddress(ref.Address), nil
}

// Approve lets spender pull amount of the asset from the owner.
func (c Calls) Approve(spender domain.VaultRef, amount *big.Int) (Call, error) {
	to, err := target(spender)
	if err != nil {
		return Call{}, err
	}
	data, err := erc20.Pack("approve", to, amount)
	if err != nil {
		return Call{}, fmt.Errorf("custody: pack approve: %w", err)
	}
	return Call{To: c.Asset, Data: data}, nil
}

// Withdraw pulls the owner's funds out of source back to the owner. ERC-4626
// vaults redeem shares when known, otherwise withdraw assets. Aave pools
// always withdraw the full balance.
func (c Calls) Withdraw(owner common.Address, source domain.VaultRef, amount domain.WithdrawAmount) (Call, error) {
	to, err := target(source)
	if err != nil {
		return Call{}, err
	}
	var data []byte
	switch source.Protocol {
	case domain.ProtocolMorpho:
		if amount.Shares != nil && amount.Shares.Sign() > 0 {
			data, err = erc4626.Pack("redeem", amount.Shares, owner, owner)
		} else {
			data, err = erc4626.Pack("withdraw", amount.Assets, owner, owner)
		}
	case domain.ProtocolAaveV3:
		data, err = aavePool.Pack("withdraw", c.Asset, maxUint256, owner)
	default:
		return Call{}, fmt.Errorf("custody: withdraw from %q: %w", source.Protocol, domain.ErrUnsupportedProtocol)
	}
	if err != nil {
		return Call{}, fmt.Errorf("custody: pack withdraw: %w", err)
	}
	return Call{To: to, Data: data}, nil
}

// Deposit puts amount of the asset into dest on behalf of owner.
func (c Calls) Deposit(owner common.Address, dest domain.VaultRef, amount *big.Int) (Call, error) {
	to, err := target(dest)
	if err != nil {
		return Call{}, err
	}
	var data []byte
	switch dest.Protocol {
	case domain.ProtocolMorpho:
		data, err = erc4626.Pack("deposit", amount, owner)
	case domain.ProtocolAaveV3:
		data, err = aavePool.Pack("supply", c.Asset, amount, owner, uint16(0))
	default:
		return Call{}, fmt.Errorf("custody: deposit into %q: %w", dest.Protocol, domain.ErrUnsupportedProtocol)
	}
	if err != nil {
		return Call{}, fmt.Errorf("custody: pack deposit: %w", err)
	}
	return Call{To: to, Data: data}, nil
}

// build turns a custody request into a Call. It is shared by both backends.
func (c Calls) build(step domain.Step, owner common.Address, ref domain.VaultRef, amount *big.Int, wa domain.WithdrawAmount) (Call, error) {
	switch step {
	case domain.StepApprove:
		return c.Approve(ref, amount)
	case domain.StepWithdraw:
		return c.Withdraw(owner, ref, wa)
	case domain.StepDeposit:
		return c.Deposit(owner, ref, amount)
	}
	return Call{}, fmt.Errorf("custody: unknown step %q", step)
}
