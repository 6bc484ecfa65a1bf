package morpho_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/morpho"
)

const usdc = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

func server(t *testing.T, respond func(query string, vars map[string]any) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, respond(req.Query, req.Variables))
	}))
}

func TestVaults(t *testing.T) {
	srv := server(t, func(q string, vars map[string]any) string {
		if !strings.Contains(q, "vaults(") || vars["assetAddress"] != usdc {
			t.Errorf("unexpected query vars %v", vars)
		}
		return `{"data":{"vaults":{"items":[
			{"address":"0xv1","name":"Steakhouse USDC","asset":{"address":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"},
			 "state":{"apy":0.061,"netApy":0.055,"totalAssetsUsd":25000000}},
			{"address":"0xv2","name":"Other asset","asset":{"address":"0xdead"},
			 "state":{"apy":0.2,"netApy":0.2,"totalAssetsUsd":9e9}},
			{"address":"0xv3","name":"No state","asset":{"address":"` + usdc + `"},"state":null}
		]}}}`
	})
	defer srv.Close()

	vaults, err := morpho.NewClient(srv.URL, 8453, usdc, time.Second).Vaults(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(vaults) != 1 {
		t.Fatalf("vaults = %+v, want one", vaults)
	}
	v := vaults[0]
	if v.Protocol != domain.ProtocolMorpho || v.Address != "0xv1" || v.NetAPY != 0.055 || v.TotalAssetsUSD != 25e6 {
		t.Errorf("vault = %+v", v)
	}
}

func TestPositions(t *testing.T) {
	srv := server(t, func(q string, vars map[string]any) string {
		if vars["address"] != "0xabcdef" {
			t.Errorf("address not normalised: %v", vars["address"])
		}
		return `{"data":{"userByAddress":{"vaultPositions":[
			{"vault":{"address":"0xv1","name":"Steakhouse USDC","asset":{"address":"` + usdc + `"},"state":{"apy":0.06,"netApy":0.05}},
			 "shares":"980000000000000000000","assets":1000000000,"assetsUsd":1000.02}
		]}}}`
	})
	defer srv.Close()

	ps, err := morpho.NewClient(srv.URL, 8453, usdc, time.Second).Positions(context.Background(), domain.Account{Address: "0xABCDEF"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 {
		t.Fatalf("positions = %+v", ps)
	}
	p := ps[0]
	if p.AmountRaw != "1000000000" || p.SharesRaw != "980000000000000000000" || p.CurrentAPY != 0.05 || p.AmountUSD != 1000.02 {
		t.Errorf("position = %+v", p)
	}
}

func TestPositionsUnknownUser(t *testing.T) {
	srv := server(t, func(string, map[string]any) string { return `{"data":{"userByAddress":null}}` })
	defer srv.Close()
	ps, err := morpho.NewClient(srv.URL, 8453, usdc, time.Second).Positions(context.Background(), domain.Account{Address: "0x1"})
	if err != nil || len(ps) != 0 {
		t.Fatalf("Positions = %v, %v", ps, err)
	}
}
