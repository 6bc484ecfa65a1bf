package domain

// Protocol identifiers understood by the custody calldata builder.
const (
	ProtocolMorpho = "morpho"
	ProtocolAaveV3 = "aave-v3"
	// ProtocolWallet is the source sentinel for idle wallet balance.
	ProtocolWallet = "wallet"
)

// Vault is a destination candidate reported by the vault catalog. Address is
// the contract funds are deposited into (ERC-4626 vault or lending pool).
type Vault struct {
	Protocol       string  `json:"protocol"`
	Address        string  `json:"address"`
	Name           string  `json:"name"`
	AssetAddress   string  `json:"asset_address"`
	APY            float64 `json:"apy"`
	NetAPY         float64 `json:"net_apy"`
	TotalAssetsUSD float64 `json:"total_assets_usd"`
}

// Position is an account's current stake in one vault.
type Position struct {
	Protocol     string    `json:"protocol"`
	VaultAddress string    `json:"vault_address"`
	VaultName    string    `json:"vault_name"`
	AmountRaw    RawAmount `json:"amount_raw"`
	SharesRaw    RawAmount `json:"shares_raw,omitempty"`
	AmountUSD    float64   `json:"amount_usd"`
	CurrentAPY   float64   `json:"current_apy"`
}

// InVault reports whether the position already sits in v.
func (p Position) InVault(v Vault) bool {
	return SameAddress(p.VaultAddress, v.Address)
}

// Balance is an account's spendable (uninvested) asset balance.
type Balance struct {
	AmountRaw RawAmount `json:"amount_raw"`
	AmountUSD float64   `json:"amount_usd"`
}
