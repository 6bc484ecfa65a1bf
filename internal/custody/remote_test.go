package custody_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/yieldrebalancer/internal/crypto"
	"github.com/alanyoungcy/yieldrebalancer/internal/custody"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

const (
	usdc        = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	morphoVault = "0xbeeF010f9cb27031ad51e3333f9aF9C6B1228183"
)

func newRemote(url string) *custody.Remote {
	return custody.NewRemote(custody.RemoteConfig{
		BaseURL:       url,
		AppID:         "app-1",
		AppSecret:     "secret-1",
		SigningSecret: "sign-1",
		ChainID:       8453,
		Sponsor:       true,
		AssetAddress:  usdc,
	})
}

func TestRemoteSubmitDeposit(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/wallets/wallet-9/rpc" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "app-1" || pass != "secret-1" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		if r.Header.Get("privy-app-id") != "app-1" {
			t.Errorf("app id header missing")
		}
		body, _ := io.ReadAll(r.Body)
		rs := &crypto.RequestSigner{Secret: "sign-1"}
		if !rs.Verify(r.Method, r.URL.Path, string(body), r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)) {
			t.Errorf("request signature does not verify")
		}
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"method":"eth_sendTransaction","data":{"hash":"0xabc","caip2":"eip155:8453"}}`)
	}))
	defer srv.Close()

	acct := domain.Account{Address: "0x1111111111111111111111111111111111111111", KeyID: "wallet-9"}
	ref, err := newRemote(srv.URL).SubmitDeposit(context.Background(), acct,
		domain.VaultRef{Protocol: domain.ProtocolMorpho, Address: morphoVault}, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("SubmitDeposit: %v", err)
	}
	if ref != "0xabc" {
		t.Errorf("ref = %q", ref)
	}
	if got["method"] != "eth_sendTransaction" || got["caip2"] != "eip155:8453" || got["sponsor"] != true {
		t.Errorf("request envelope = %v", got)
	}
	tx := got["params"].(map[string]any)["transaction"].(map[string]any)
	if !strings.EqualFold(tx["to"].(string), morphoVault) {
		t.Errorf("to = %v", tx["to"])
	}
	if !strings.HasPrefix(tx["data"].(string), "0x6e553f65") {
		t.Errorf("data = %v, want deposit selector", tx["data"])
	}
}

func TestRemoteErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, domain.ErrCustodyRejected},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, domain.ErrCustodyUnavailable},
		{"server error", http.StatusBadGateway, domain.ErrCustodyUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()
			_, err := newRemote(srv.URL).SubmitApprove(context.Background(),
				domain.Account{Address: "0x1111111111111111111111111111111111111111", KeyID: "w"},
				domain.VaultRef{Protocol: domain.ProtocolMorpho, Address: morphoVault}, big.NewInt(1))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRemoteRequiresWalletID(t *testing.T) {
	_, err := newRemote("http://unused").SubmitApprove(context.Background(),
		domain.Account{Address: "0x1111111111111111111111111111111111111111"},
		domain.VaultRef{Protocol: domain.ProtocolMorpho, Address: morphoVault}, big.NewInt(1))
	if !errors.Is(err, domain.ErrCustodyRejected) {
		t.Fatalf("err = %v, want ErrCustodyRejected", err)
	}
}

func TestRemoteSpendableBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/wallets/w1/balance" || r.URL.Query().Get("asset") != "usdc" || r.URL.Query().Get("chain") != "base" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = io.WriteString(w, `{"balances":[{"chain":"base","asset":"usdc","raw_value":"12500000","raw_value_decimals":6}]}`)
	}))
	defer srv.Close()

	bal, err := newRemote(srv.URL).SpendableBalance(context.Background(), domain.Account{KeyID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if bal.AmountRaw != "12500000" || bal.AmountUSD != 12.5 {
		t.Errorf("balance = %+v", bal)
	}
}
