package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/yieldrebalancer/internal/crypto"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// RemoteConfig configures the server-wallet API backend.
type RemoteConfig struct {
	// BaseURL is the API root, e.g. "https://api.privy.io".
	BaseURL   string
	AppID     string
	AppSecret string
	// SigningSecret, when set, adds HMAC request-signature headers.
	SigningSecret string
	ChainID       int64
	// Sponsor asks the service to pay gas.
	Sponsor bool
	// AssetAddress is the token being rebalanced.
	AssetAddress string
	// BalanceAsset and BalanceChain select the balance endpoint's asset.
	BalanceAsset string
	BalanceChain string
	Timeout      time.Duration
}

// Remote submits transactions through a custodial server-wallet API. The
// account's KeyID is the service's wallet ID.
type Remote struct {
	cfg        RemoteConfig
	calls      Calls
	signer     *crypto.RequestSigner
	httpClient *http.Client
}

// NewRemote creates a Remote backend.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BalanceAsset == "" {
		cfg.BalanceAsset = "usdc"
	}
	if cfg.BalanceChain == "" {
		cfg.BalanceChain = "base"
	}
	r := &Remote{
		cfg:        cfg,
		calls:      NewCalls(cfg.AssetAddress),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.SigningSecret != "" {
		r.signer = &crypto.RequestSigner{Secret: cfg.SigningSecret}
	}
	return r
}

// SubmitApprove implements domain.Custody.
func (r *Remote) SubmitApprove(ctx context.Context, acct domain.Account, spender domain.VaultRef, amount *big.Int) (domain.TxRef, error) {
	return r.submit(ctx, domain.StepApprove, acct, spender, amount, domain.WithdrawAmount{})
}

// SubmitWithdraw implements domain.Custody.
func (r *Remote) SubmitWithdraw(ctx context.Context, acct domain.Account, source domain.VaultRef, amount domain.WithdrawAmount) (domain.TxRef, error) {
	return r.submit(ctx, domain.StepWithdraw, acct, source, nil, amount)
}

// SubmitDeposit implements domain.Custody.
func (r *Remote) SubmitDeposit(ctx context.Context, acct domain.Account, dest domain.VaultRef, amount *big.Int) (domain.TxRef, error) {
	return r.submit(ctx, domain.StepDeposit, acct, dest, amount, domain.WithdrawAmount{})
}

type rpcTransaction struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	ChainID int64  `json:"chain_id"`
}

type rpcRequest struct {
	Method  string `json:"method"`
	CAIP2   string `json:"caip2"`
	Sponsor bool   `json:"sponsor,omitempty"`
	Params  struct {
		Transaction rpcTransaction `json:"transaction"`
	} `json:"params"`
}

type rpcResponse struct {
	Method string `json:"method"`
	Data   struct {
		Hash string `json:"hash"`
	} `json:"data"`
}

func (r *Remote) submit(ctx context.Context, step domain.Step, acct domain.Account, ref domain.VaultRef, amount *big.Int, wa domain.WithdrawAmount) (domain.TxRef, error) {
	if acct.KeyID == "" {
		return "", fmt.Errorf("custody/remote: account %s has no wallet id: %w", acct.Address, domain.ErrCustodyRejected)
	}
	call, err := r.calls.build(step, common.HexToAddress(acct.Address), ref, amount, wa)
	if err != nil {
		return "", err
	}

	var req rpcRequest
	req.Method = "eth_sendTransaction"
	req.CAIP2 = fmt.Sprintf("eip155:%d", r.cfg.ChainID)
	req.Sponsor = r.cfg.Sponsor
	req.Params.Transaction = rpcTransaction{
		To:      call.To.Hex(),
		Data:    hexutil.Encode(call.Data),
		ChainID: r.cfg.ChainID,
	}

	body, err := r.do(ctx, http.MethodPost, "/v1/wallets/"+url.PathEscape(acct.KeyID)+"/rpc", req)
	if err != nil {
		return "", fmt.Errorf("custody/remote: %s: %w", step, err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("custody/remote: %s: decode response: %w", step, err)
	}
	if resp.Data.Hash == "" {
		return "", fmt.Errorf("custody/remote: %s: empty transaction hash: %w", step, domain.ErrCustodyRejected)
	}
	return domain.TxRef(resp.Data.Hash), nil
}

type balanceResponse struct {
	Balances []struct {
		Chain            string `json:"chain"`
		Asset            string `json:"asset"`
		RawValue         string `json:"raw_value"`
		RawValueDecimals int32  `json:"raw_value_decimals"`
	} `json:"balances"`
}

// SpendableBalance implements domain.BalanceProvider using the wallet
// balance endpoint. The asset is a dollar stablecoin, so units equal USD.
func (r *Remote) SpendableBalance(ctx context.Context, acct domain.Account) (domain.Balance, error) {
	q := url.Values{}
	q.Set("asset", r.cfg.BalanceAsset)
	q.Set("chain", r.cfg.BalanceChain)
	body, err := r.do(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(acct.KeyID)+"/balance?"+q.Encode(), nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("custody/remote: balance: %w", err)
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("custody/remote: balance: decode: %w", err)
	}
	for _, b := range resp.Balances {
		if !strings.EqualFold(b.Asset, r.cfg.BalanceAsset) {
			continue
		}
		decimals := b.RawValueDecimals
		if decimals == 0 {
			decimals = domain.USDCDecimals
		}
		raw := domain.RawAmount(b.RawValue)
		units, err := raw.ToUnits(decimals)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("custody/remote: balance: %w", err)
		}
		return domain.Balance{AmountRaw: raw, AmountUSD: units}, nil
	}
	return domain.Balance{AmountRaw: "0"}, nil
}

// do sends an authenticated request and maps failures onto the custody
// sentinels: 4xx rejects, everything else is unavailability.
func (r *Remote) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(r.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(r.cfg.AppID, r.cfg.AppSecret)
	req.Header.Set("privy-app-id", r.cfg.AppID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.signer != nil {
		for k, v := range r.signer.Headers(method, path, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrCustodyUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, checkStatus(resp.StatusCode, respBody)
}

func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Join(domain.ErrUnauthorized, fmt.Errorf("%w: HTTP %d: %s", domain.ErrCustodyRejected, code, msg))
	case code == http.StatusTooManyRequests:
		return errors.Join(domain.ErrRateLimited, fmt.Errorf("%w: HTTP %d: %s", domain.ErrCustodyUnavailable, code, msg))
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrCustodyRejected, code, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrCustodyUnavailable, code, msg)
	}
}

// Compile-time interface checks.
var (
	_ domain.Custody         = (*Remote)(nil)
	_ domain.BalanceProvider = (*Remote)(nil)
)
