package aave_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/aave"
)

const (
	usdc = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	pool = "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"
)

const marketsBody = `{"data":{"markets":[
 {"name":"AaveV3Base","address":"` + pool + `","totalMarketSize":"150000000",
  "reserves":[
   {"underlyingToken":{"address":"0x4200000000000000000000000000000000000006"},"supplyInfo":{"apy":{"value":"0.02"}},"usdExchangeRate":"3000"},
   {"underlyingToken":{"address":"` + usdc + `"},"supplyInfo":{"apy":{"value":"0.047"}},"usdExchangeRate":"1.0"}
  ],
  "userState":{"totalCollateralBase":"2500.5"}},
 {"name":"NoUSDC","address":"0xother","totalMarketSize":"1","reserves":[],"userState":{"totalCollateralBase":"10"}}
]}}`

func newServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, marketsBody)
	}))
}

func TestVaults(t *testing.T) {
	srv := newServer()
	defer srv.Close()

	vaults, err := aave.NewClient(srv.URL, 8453, usdc, time.Second).Vaults(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(vaults) != 1 {
		t.Fatalf("vaults = %+v", vaults)
	}
	v := vaults[0]
	if v.Protocol != domain.ProtocolAaveV3 || v.Address != pool || v.NetAPY != 0.047 || v.APY != v.NetAPY {
		t.Errorf("vault = %+v", v)
	}
	if v.TotalAssetsUSD != 150_000_000 {
		t.Errorf("tvl = %v", v.TotalAssetsUSD)
	}
}

func TestPositions(t *testing.T) {
	srv := newServer()
	defer srv.Close()

	ps, err := aave.NewClient(srv.URL, 8453, usdc, time.Second).Positions(context.Background(), domain.Account{Address: "0x1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 {
		t.Fatalf("positions = %+v", ps)
	}
	p := ps[0]
	if p.VaultAddress != pool || p.AmountRaw != "2500500000" || p.AmountUSD != 2500.5 || p.CurrentAPY != 0.047 {
		t.Errorf("position = %+v", p)
	}
}
