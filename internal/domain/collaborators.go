package domain

import (
	"context"
	"math/big"
)

// AccountRegistry is the set of accounts enrolled for automated rebalancing.
type AccountRegistry interface {
	List(ctx context.Context) ([]Account, error)
	Get(ctx context.Context, address string) (Account, error)
	Register(ctx context.Context, acct Account) error
	Unregister(ctx context.Context, address string) error
}

// VaultCatalog returns eligible vaults, pre-filtered and sorted by
// descending net yield. The first element is the best vault.
type VaultCatalog interface {
	Eligible(ctx context.Context) ([]Vault, error)
}

// PositionProvider returns an account's current vault deposits.
type PositionProvider interface {
	Positions(ctx context.Context, acct Account) ([]Position, error)
}

// BalanceProvider returns an account's idle asset balance.
type BalanceProvider interface {
	SpendableBalance(ctx context.Context, acct Account) (Balance, error)
}

// VaultRef addresses the contract a custody call targets.
type VaultRef struct {
	Protocol string
	Address  string
}

// Custody submits fund-moving transactions on behalf of an account and
// blocks until the service returns a reference or an error. Errors are not
// classified by the engine: any failure halts the current execution.
type Custody interface {
	SubmitApprove(ctx context.Context, acct Account, spender VaultRef, amount *big.Int) (TxRef, error)
	SubmitWithdraw(ctx context.Context, acct Account, source VaultRef, amount WithdrawAmount) (TxRef, error)
	SubmitDeposit(ctx context.Context, acct Account, dest VaultRef, amount *big.Int) (TxRef, error)
}

// WithdrawAmount describes how much to pull out of a source vault. Shares is
// preferred by share-based vaults when known.
type WithdrawAmount struct {
	Assets *big.Int
	Shares *big.Int
}

// Confirmer optionally replaces the fixed confirmation delay between
// dependent steps with real on-chain confirmation.
type Confirmer interface {
	WaitConfirmed(ctx context.Context, ref TxRef) error
}
