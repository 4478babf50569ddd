// Package units converts native-coin amounts between their decimal display
// form (BNB) and the chain's integer base unit (wei).
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the native coin.
const Decimals = 18

var weiPerCoin = decimal.New(1, Decimals)

// Normalize truncates an amount to the coin's fixed-point precision.
// Truncation (never rounding up) guarantees the treasury never sends more than
// was computed.
func Normalize(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(Decimals)
}

// ToWei converts a decimal coin amount to wei after normalizing it.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	return Normalize(amount).Mul(weiPerCoin).BigInt(), nil
}

// FromWei converts a wei amount to its decimal coin representation.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -Decimals)
}
