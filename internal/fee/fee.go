// Package fee computes the protocol fee retained on withdrawals.
package fee

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/units"
)

// Tier is the user's governance tier as stored alongside the ledger account.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierVIP      Tier = "vip"
)

var defaultRates = map[Tier]decimal.Decimal{
	TierFree:     decimal.RequireFromString("0.02"),
	TierStandard: decimal.RequireFromString("0.0175"),
	TierVIP:      decimal.RequireFromString("0.015"),
}

// ComputeNet returns gross*(1-rate) rounded half away from zero to the coin's
// fixed-point precision. Applying it to an already-rounded value is a no-op.
func ComputeNet(gross, rate decimal.Decimal) decimal.Decimal {
	return gross.Mul(decimal.NewFromInt(1).Sub(rate)).Round(units.Decimals)
}

// Policy resolves the fee rate for a withdrawal. It holds no mutable state.
type Policy struct {
	rates map[Tier]decimal.Decimal
	fixed *decimal.Decimal
}

// NewPolicy returns the tiered policy. A non-nil fixed rate overrides tiers.
func NewPolicy(fixed *decimal.Decimal) Policy {
	return Policy{rates: defaultRates, fixed: fixed}
}

// RateFor returns the fee rate for the tier. Unknown or empty tiers pay the
// default (free tier) rate.
func (p Policy) RateFor(tier Tier) decimal.Decimal {
	if p.fixed != nil {
		return *p.fixed
	}
	if rate, ok := p.rates[Tier(strings.ToLower(string(tier)))]; ok {
		return rate
	}
	return defaultRates[TierFree]
}

// Quote describes a fee computation for one withdrawal.
type Quote struct {
	Gross decimal.Decimal
	Rate  decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// Quote computes the fee and net payout for gross at the tier's rate.
func (p Policy) Quote(gross decimal.Decimal, tier Tier) Quote {
	rate := p.RateFor(tier)
	net := ComputeNet(gross, rate)
	return Quote{Gross: gross, Rate: rate, Fee: gross.Sub(net), Net: net}
}
