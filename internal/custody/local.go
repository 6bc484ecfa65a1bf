package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/yieldrebalancer/internal/crypto"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// Backend is the subset of *ethclient.Client used by Local and
// ReceiptConfirmer.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// KeySource resolves an account's private key by key ID.
type KeySource interface {
	Key(keyID string) (string, error)
}

// LocalConfig configures the local signing backend.
type LocalConfig struct {
	ChainID      int64
	AssetAddress string
	// GasMultiplier pads the node's gas estimate, e.g. 1.2.
	GasMultiplier float64
}

// Local signs EIP-1559 transactions with keys held by this process and
// broadcasts them over JSON-RPC.
type Local struct {
	cfg     LocalConfig
	calls   Calls
	backend Backend
	keys    KeySource
	chainID *big.Int
	logger  *slog.Logger

	mu      sync.Mutex
	signers map[string]*crypto.TxSigner
	// sendMu serialises nonce assignment per sender.
	sendMu map[common.Address]*sync.Mutex
}

// NewLocal creates a Local backend.
func NewLocal(cfg LocalConfig, backend Backend, keys KeySource, logger *slog.Logger) *Local {
	if cfg.GasMultiplier < 1 {
		cfg.GasMultiplier = 1.2
	}
	return &Local{
		cfg:     cfg,
		calls:   NewCalls(cfg.AssetAddress),
		backend: backend,
		keys:    keys,
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.With(slog.String("component", "custody_local")),
		signers: make(map[string]*crypto.TxSigner),
		sendMu:  make(map[common.Address]*sync.Mutex),
	}
}

// SubmitApprove implements domain.Custody.
func (l *Local) SubmitApprove(ctx context.Context, acct domain.Account, spender domain.VaultRef, amount *big.Int) (domain.TxRef, error) {
	return l.submit(ctx, domain.StepApprove, acct, spender, amount, domain.WithdrawAmount{})
}

// SubmitWithdraw implements domain.Custody.
func (l *Local) SubmitWithdraw(ctx context.Context, acct domain.Account, source domain.VaultRef, amount domain.WithdrawAmount) (domain.TxRef, error) {
	return l.submit(ctx, domain.StepWithdraw, acct, source, nil, amount)
}

// SubmitDeposit implements domain.Custody.
func (l *Local) SubmitDeposit(ctx context.Context, acct domain.Account, dest domain.VaultRef, amount *big.Int) (domain.TxRef, error) {
	return l.submit(ctx, domain.StepDeposit, acct, dest, amount, domain.WithdrawAmount{})
}

func (l *Local) signer(acct domain.Account) (*crypto.TxSigner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.signers[acct.KeyID]; ok {
		return s, nil
	}
	keyHex, err := l.keys.Key(acct.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCustodyRejected, err.Error())
	}
	s, err := crypto.NewTxSigner(keyHex, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCustodyRejected, err.Error())
	}
	l.signers[acct.KeyID] = s
	return s, nil
}

func (l *Local) senderLock(addr common.Address) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.sendMu[addr]
	if !ok {
		m = &sync.Mutex{}
		l.sendMu[addr] = m
	}
	return m
}

func (l *Local) submit(ctx context.Context, step domain.Step, acct domain.Account, ref domain.VaultRef, amount *big.Int, wa domain.WithdrawAmount) (domain.TxRef, error) {
	s, err := l.signer(acct)
	if err != nil {
		return "", fmt.Errorf("custody/local: %s: %w", step, err)
	}
	if !domain.SameAddress(s.Address().Hex(), acct.Address) {
		return "", fmt.Errorf("custody/local: key %s controls %s, not %s: %w",
			acct.KeyID, s.Address().Hex(), acct.Address, domain.ErrCustodyRejected)
	}
	call, err := l.calls.build(step, s.Address(), ref, amount, wa)
	if err != nil {
		return "", err
	}

	m := l.senderLock(s.Address())
	m.Lock()
	defer m.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, s.Address())
	if err != nil {
		return "", fmt.Errorf("custody/local: %s: nonce: %w", step, unavailable(err))
	}
	tip, err := l.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("custody/local: %s: tip cap: %w", step, unavailable(err))
	}
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("custody/local: %s: head: %w", step, unavailable(err))
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee(head), big.NewInt(2)))

	to := call.To
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.Address(),
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      call.Data,
	})
	if err != nil {
		// Estimation fails when the call would revert.
		return "", fmt.Errorf("custody/local: %s: estimate gas: %w: %s", step, domain.ErrCustodyRejected, err.Error())
	}
	gas = uint64(float64(gas) * l.cfg.GasMultiplier)

	signed, err := s.SignTx(s.NewDynamicFeeTx(nonce, call.To, call.Data, gas, tip, feeCap))
	if err != nil {
		return "", fmt.Errorf("custody/local: %s: %w", step, err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("custody/local: %s: send: %w", step, unavailable(err))
	}

	l.logger.InfoContext(ctx, "transaction sent",
		slog.String("step", string(step)),
		slog.String("from", s.Address().Hex()),
		slog.String("to", call.To.Hex()),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return domain.TxRef(signed.Hash().Hex()), nil
}

func baseFee(h *types.Header) *big.Int {
	if h == nil || h.BaseFee == nil {
		return big.NewInt(0)
	}
	return h.BaseFee
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrCustodyUnavailable, err.Error())
}

// ReceiptConfirmer implements domain.Confirmer by polling for the
// transaction receipt.
type ReceiptConfirmer struct {
	backend  Backend
	interval time.Duration
}

// NewReceiptConfirmer polls backend every interval.
func NewReceiptConfirmer(backend Backend, interval time.Duration) *ReceiptConfirmer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ReceiptConfirmer{backend: backend, interval: interval}
}

// WaitConfirmed blocks until ref is mined. A reverted transaction is an
// error.
func (c *ReceiptConfirmer) WaitConfirmed(ctx context.Context, ref domain.TxRef) error {
	hash := common.HexToHash(string(ref))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("custody: tx %s reverted in block %s", ref, receipt.BlockNumber)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			return fmt.Errorf("custody: receipt %s: %w", ref, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Compile-time interface checks.
var (
	_ domain.Custody   = (*Local)(nil)
	_ domain.Confirmer = (*ReceiptConfirmer)(nil)
)
