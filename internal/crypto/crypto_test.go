package crypto_test

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldrebalancer/internal/crypto"
)

// Well-known test key (hardhat account #0).
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := crypto.EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if !strings.Contains(string(blob), testAddress) {
		t.Errorf("key file does not carry address %s", testAddress)
	}
	got, err := crypto.DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("round trip = %s, want %s", got, testKeyHex)
	}
	if _, err := crypto.DecryptKey(blob, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	tests := []struct {
		name, key, password string
	}{
		{"empty password", testKeyHex, ""},
		{"not hex", "zz", "pw"},
		{"short key", "abcd", "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := crypto.EncryptKey(tt.key, tt.password); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestKeyRing(t *testing.T) {
	dir := t.TempDir()
	blob, err := crypto.EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "alice.json"), blob, 0o600); err != nil {
		t.Fatal(err)
	}

	ring := crypto.NewKeyRing(dir, "pw", map[string]string{"bob": "0x" + testKeyHex})
	for _, id := range []string{"alice", "bob"} {
		k, err := ring.Key(id)
		if err != nil {
			t.Fatalf("Key(%s): %v", id, err)
		}
		if k != testKeyHex {
			t.Errorf("Key(%s) = %s", id, k)
		}
	}
	if _, err := ring.Key("carol"); !errors.Is(err, crypto.ErrKeyNotFound) {
		t.Errorf("Key(carol) err = %v, want ErrKeyNotFound", err)
	}
	if _, err := ring.Key("../alice"); err == nil {
		t.Error("path traversal accepted")
	}
}

func TestTxSignerSignsForChain(t *testing.T) {
	s, err := crypto.NewTxSigner(testKeyHex, big.NewInt(8453))
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != common.HexToAddress(testAddress) {
		t.Fatalf("address = %s", s.Address().Hex())
	}
	tx := s.NewDynamicFeeTx(0, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), []byte{0x09, 0x5e, 0xa7, 0xb3}, 60000, big.NewInt(1), big.NewInt(2))
	signed, err := s.SignTx(tx)
	if err != nil {
		t.Fatal(err)
	}
	if signed.ChainId().Int64() != 8453 {
		t.Errorf("chain id = %s", signed.ChainId())
	}
	v, r, _ := signed.RawSignatureValues()
	if r.Sign() == 0 || v == nil {
		t.Error("transaction not signed")
	}
}

func TestRequestSigner(t *testing.T) {
	rs := &crypto.RequestSigner{Secret: "s3cret"}
	h := rs.HeadersAt("POST", "/v1/wallets/w1/rpc", `{"a":1}`, 1700000000)
	if h[crypto.HeaderTimestamp] != "1700000000" {
		t.Errorf("timestamp header = %q", h[crypto.HeaderTimestamp])
	}
	if !rs.Verify("POST", "/v1/wallets/w1/rpc", `{"a":1}`, "1700000000", h[crypto.HeaderSignature]) {
		t.Error("signature does not verify")
	}
	if rs.Verify("POST", "/v1/wallets/w2/rpc", `{"a":1}`, "1700000000", h[crypto.HeaderSignature]) {
		t.Error("signature verified for a different path")
	}
	if strings.Contains(rs.String(), "s3cret") {
		t.Error("String leaks secret")
	}
}
