// Package aave reads Aave v3 market yields and user supply positions from
// the Aave GraphQL API.
package aave

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/graphql"
)

// DefaultURL is the public Aave v3 API endpoint.
const DefaultURL = "https://api.v3.aave.com/graphql"

const marketsQuery = `
query Markets($chainId: Int!) {
  markets(request: { chainIds: [$chainId] }) {
    name
    address
    totalMarketSize
    reserves {
      underlyingToken { address }
      supplyInfo { apy { value } }
      usdExchangeRate
    }
  }
}`

const userMarketsQuery = `
query UserMarkets($chainId: Int!, $address: String!) {
  markets(request: { chainIds: [$chainId], user: $address }) {
    name
    address
    reserves {
      underlyingToken { address }
      supplyInfo { apy { value } }
      usdExchangeRate
    }
    userState { totalCollateralBase }
  }
}`

// Client queries Aave markets on one chain for one reserve asset.
type Client struct {
	gql          *graphql.Client
	chainID      int64
	assetAddress string
}

// NewClient creates an Aave client. url defaults to DefaultURL.
func NewClient(url string, chainID int64, assetAddress string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		gql:          graphql.NewClient(url, "", timeout),
		chainID:      chainID,
		assetAddress: assetAddress,
	}
}

// Name identifies the source in logs.
func (c *Client) Name() string { return domain.ProtocolAaveV3 }

type reserve struct {
	UnderlyingToken struct {
		Address string `json:"address"`
	} `json:"underlyingToken"`
	SupplyInfo struct {
		APY struct {
			Value graphql.Number `json:"value"`
		} `json:"apy"`
	} `json:"supplyInfo"`
	USDExchangeRate graphql.Number `json:"usdExchangeRate"`
}

type market struct {
	Name            string         `json:"name"`
	Address         string         `json:"address"`
	TotalMarketSize graphql.Number `json:"totalMarketSize"`
	Reserves        []reserve      `json:"reserves"`
	UserState       *struct {
		TotalCollateralBase graphql.Number `json:"totalCollateralBase"`
	} `json:"userState"`
}

func (c *Client) assetReserve(m market) (reserve, bool) {
	for _, r := range m.Reserves {
		if domain.SameAddress(r.UnderlyingToken.Address, c.assetAddress) {
			return r, true
		}
	}
	return reserve{}, false
}

// Vaults returns one entry per market holding the asset reserve. The vault
// address is the market's pool, which is both the approve spender and the
// supply target. Aave reports no fee-adjusted yield, so NetAPY equals APY.
func (c *Client) Vaults(ctx context.Context) ([]domain.Vault, error) {
	var out struct {
		Markets []market `json:"markets"`
	}
	if err := c.gql.Query(ctx, marketsQuery, map[string]any{"chainId": c.chainID}, &out); err != nil {
		return nil, fmt.Errorf("aave: markets: %w", err)
	}

	var vaults []domain.Vault
	for _, m := range out.Markets {
		r, ok := c.assetReserve(m)
		if !ok {
			continue
		}
		apy := r.SupplyInfo.APY.Value.Float()
		vaults = append(vaults, domain.Vault{
			Protocol:       domain.ProtocolAaveV3,
			Address:        m.Address,
			Name:           m.Name + " - USDC",
			AssetAddress:   c.assetAddress,
			APY:            apy,
			NetAPY:         apy,
			TotalAssetsUSD: m.TotalMarketSize.Float() * r.USDExchangeRate.Float(),
		})
	}
	return vaults, nil
}

// Positions returns acct's supplied balance per market.
func (c *Client) Positions(ctx context.Context, acct domain.Account) ([]domain.Position, error) {
	var out struct {
		Markets []market `json:"markets"`
	}
	vars := map[string]any{"chainId": c.chainID, "address": domain.NormalizeAddress(acct.Address)}
	if err := c.gql.Query(ctx, userMarketsQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("aave: positions %s: %w", acct.Address, err)
	}

	var positions []domain.Position
	for _, m := range out.Markets {
		if m.UserState == nil || m.UserState.TotalCollateralBase.Float() == 0 {
			continue
		}
		r, ok := c.assetReserve(m)
		if !ok {
			continue
		}
		collateral := m.UserState.TotalCollateralBase.Float()
		positions = append(positions, domain.Position{
			Protocol:     domain.ProtocolAaveV3,
			VaultAddress: m.Address,
			VaultName:    m.Name,
			AmountRaw:    domain.RawFromUnits(collateral, domain.USDCDecimals),
			AmountUSD:    collateral * r.USDExchangeRate.Float(),
			CurrentAPY:   r.SupplyInfo.APY.Value.Float(),
		})
	}
	return positions, nil
}
