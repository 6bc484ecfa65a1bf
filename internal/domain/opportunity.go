package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// OpportunityKind distinguishes a vault-to-vault move from deploying idle
// wallet balance.
type OpportunityKind string

const (
	KindRebalance  OpportunityKind = "rebalance"
	KindUninvested OpportunityKind = "uninvested"
)

// Opportunity is a candidate fund move. Priority is derived from the other
// fields by the evaluator's scoring function and is never set on its own.
type Opportunity struct {
	ID                 string          `json:"id"`
	Kind               OpportunityKind `json:"kind"`
	Account            string          `json:"account"`
	KeyID              string          `json:"key_id"`
	FromProtocol       string          `json:"from_protocol"`
	FromVault          string          `json:"from_vault"`
	FromVaultName      string          `json:"from_vault_name,omitempty"`
	ToProtocol         string          `json:"to_protocol"`
	ToVault            string          `json:"to_vault"`
	ToVaultName        string          `json:"to_vault_name,omitempty"`
	AmountRaw          RawAmount       `json:"amount_raw"`
	SharesRaw          RawAmount       `json:"shares_raw,omitempty"`
	AmountUSD          float64         `json:"amount_usd"`
	CurrentAPY         float64         `json:"current_apy"`
	TargetAPY          float64         `json:"target_apy"`
	APYDiff            float64         `json:"apy_diff"`
	ExpectedGain       float64         `json:"expected_gain"`
	ExpectedYearlyGain float64         `json:"expected_yearly_gain"`
	Priority           float64         `json:"priority"`
	CreatedAt          time.Time       `json:"created_at"`
}

// OpportunityID derives the stable identifier assigned at creation time.
func OpportunityID(account, fromVault, toVault string, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(NormalizeAddress(account)))
	h.Write([]byte{'|'})
	h.Write([]byte(NormalizeAddress(fromVault)))
	h.Write([]byte{'|'})
	h.Write([]byte(NormalizeAddress(toVault)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(createdAt.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Slot identifies the move independent of when it was discovered. Two
// opportunities with the same slot describe the same fund move.
func (o Opportunity) Slot() string {
	return strings.Join([]string{
		NormalizeAddress(o.Account),
		NormalizeAddress(o.FromVault),
		NormalizeAddress(o.ToVault),
	}, "|")
}

// IsUninvested reports whether the move deploys idle wallet balance.
func (o Opportunity) IsUninvested() bool {
	return o.Kind == KindUninvested
}

// Age returns how long the opportunity has been pending.
func (o Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}
