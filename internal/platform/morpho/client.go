// Package morpho reads Morpho vault yields and user vault positions from the
// Morpho GraphQL API.
package morpho

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/graphql"
)

// DefaultURL is the public Morpho API endpoint.
const DefaultURL = "https://api.morpho.org/graphql"

const vaultsQuery = `
query Vaults($chainId: Int!, $assetAddress: String!, $first: Int!) {
  vaults(
    where: { chainId_in: [$chainId], assetAddress_in: [$assetAddress] }
    orderBy: TotalAssetsUsd
    orderDirection: Desc
    first: $first
  ) {
    items {
      address
      name
      asset { address }
      state { apy netApy totalAssetsUsd }
    }
  }
}`

const positionsQuery = `
query Positions($chainId: Int!, $address: String!) {
  userByAddress(chainId: $chainId, address: $address) {
    vaultPositions {
      vault {
        address
        name
        asset { address }
        state { apy netApy }
      }
      shares
      assets
      assetsUsd
    }
  }
}`

// Client queries vaults and positions for one chain and asset.
type Client struct {
	gql          *graphql.Client
	chainID      int64
	assetAddress string
	first        int
}

// NewClient creates a Morpho client. url defaults to DefaultURL.
func NewClient(url string, chainID int64, assetAddress string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		gql:          graphql.NewClient(url, "", timeout),
		chainID:      chainID,
		assetAddress: assetAddress,
		first:        50,
	}
}

// Name identifies the source in logs.
func (c *Client) Name() string { return domain.ProtocolMorpho }

type vaultItem struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Asset   struct {
		Address string `json:"address"`
	} `json:"asset"`
	State *struct {
		APY            graphql.Number `json:"apy"`
		NetAPY         graphql.Number `json:"netApy"`
		TotalAssetsUSD graphql.Number `json:"totalAssetsUsd"`
	} `json:"state"`
}

// Vaults returns every vault for the configured asset. Filtering on yield
// and size is left to the catalog.
func (c *Client) Vaults(ctx context.Context) ([]domain.Vault, error) {
	var out struct {
		Vaults struct {
			Items []vaultItem `json:"items"`
		} `json:"vaults"`
	}
	vars := map[string]any{"chainId": c.chainID, "assetAddress": c.assetAddress, "first": c.first}
	if err := c.gql.Query(ctx, vaultsQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("morpho: vaults: %w", err)
	}

	vaults := make([]domain.Vault, 0, len(out.Vaults.Items))
	for _, it := range out.Vaults.Items {
		if it.State == nil || !domain.SameAddress(it.Asset.Address, c.assetAddress) {
			continue
		}
		vaults = append(vaults, domain.Vault{
			Protocol:       domain.ProtocolMorpho,
			Address:        it.Address,
			Name:           it.Name,
			AssetAddress:   it.Asset.Address,
			APY:            it.State.APY.Float(),
			NetAPY:         it.State.NetAPY.Float(),
			TotalAssetsUSD: it.State.TotalAssetsUSD.Float(),
		})
	}
	return vaults, nil
}

// Positions returns acct's Morpho vault positions in the configured asset.
func (c *Client) Positions(ctx context.Context, acct domain.Account) ([]domain.Position, error) {
	var out struct {
		User *struct {
			VaultPositions []struct {
				Vault     vaultItem      `json:"vault"`
				Shares    graphql.Number `json:"shares"`
				Assets    graphql.Number `json:"assets"`
				AssetsUSD graphql.Number `json:"assetsUsd"`
			} `json:"vaultPositions"`
		} `json:"userByAddress"`
	}
	vars := map[string]any{"chainId": c.chainID, "address": domain.NormalizeAddress(acct.Address)}
	if err := c.gql.Query(ctx, positionsQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("morpho: positions %s: %w", acct.Address, err)
	}
	if out.User == nil {
		return nil, nil
	}

	var positions []domain.Position
	for _, p := range out.User.VaultPositions {
		if !domain.SameAddress(p.Vault.Asset.Address, c.assetAddress) {
			continue
		}
		var netAPY float64
		if p.Vault.State != nil {
			netAPY = p.Vault.State.NetAPY.Float()
		}
		positions = append(positions, domain.Position{
			Protocol:     domain.ProtocolMorpho,
			VaultAddress: p.Vault.Address,
			VaultName:    p.Vault.Name,
			AmountRaw:    p.Assets.Raw(),
			SharesRaw:    p.Shares.Raw(),
			AmountUSD:    p.AssetsUSD.Float(),
			CurrentAPY:   netAPY,
		})
	}
	return positions, nil
}
