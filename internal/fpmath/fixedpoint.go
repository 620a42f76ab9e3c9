package fpmath

import (
	"errors"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs for the on-chain and exchange value domains
	UsdConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // USD deposits, premium collected
	StrikeConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // strikes, premium per unit
	ShareConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // pool share, percent
	QtyConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // exchange contract quantity
	PriceConfig  = DecimalConfig{DecimalPrecision: 2, Scale: 100}         // exchange option price, USD
)

// Chain-side scale factors that exceed int64 range. Underlying quantities
// are 1e18-scaled and straddle cost is 1e26-scaled (strike scale times
// underlying scale), so both stay *big.Int until converted into one of the
// int64 configs above.
var (
	UnderlyingScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	CostScale       = new(big.Int).Exp(big.NewInt(10), big.NewInt(26), nil)

	// required = underlying * 2 * share / (100% * ShareScale), then 1e18 -> 1e6
	hedgeQtyDivisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)
	// premiumCollected = cost * share / (100% * ShareScale), then 1e26 -> 1e6
	premiumDivisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(28), nil)
)

// ErrZeroDeposits is returned when an epoch reports zero total deposits.
// Pool share is undefined in that case; callers treat it as a fatal
// startup precondition.
var ErrZeroDeposits = errors.New("epoch has zero usd deposits")

// Pooled big.Int for intermediate calculations
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

// MulDiv performs a * mul / div in arbitrary precision and truncates to
// int64. Multiply-before-divide ordering avoids truncation of large
// scaled integers.
func MulDiv(a *big.Int, mul int64, div *big.Int) int64 {
	tmp := getInt()
	tmp.Mul(a, big.NewInt(mul))
	tmp.Quo(tmp, div)
	result := tmp.Int64()
	putInt(tmp)
	return result
}

// PoolShare computes the writer's share of the epoch pool in percent at
// ShareConfig scale: writerDeposits / epochDeposits * 100.
// Both inputs are UsdConfig-scaled on-chain integers.
func PoolShare(writerDeposits, epochDeposits *big.Int) (int64, error) {
	if epochDeposits.Sign() == 0 {
		return 0, ErrZeroDeposits
	}
	// writer * 100 * ShareScale / epoch
	return MulDiv(writerDeposits, 100*ShareConfig.Scale, epochDeposits), nil
}

// HedgeQuantity computes the writer's hedgeable put quantity for one
// purchase at QtyConfig scale: underlying * 2 * share / 100.
// The factor 2 reflects one call-equivalent and one put-equivalent unit
// per straddle. underlying is UnderlyingScale-scaled; share is a
// ShareConfig-scaled percent.
func HedgeQuantity(underlying *big.Int, share int64) int64 {
	return MulDiv(underlying, 2*share, hedgeQtyDivisor)
}

// PremiumShare computes the writer's slice of a purchase's premium at
// UsdConfig scale: cost * share / 100. cost is CostScale-scaled.
func PremiumShare(cost *big.Int, share int64) int64 {
	return MulDiv(cost, share, premiumDivisor)
}

// PremiumPerUnit derives the per-put premium embedded in a straddle
// purchase at StrikeConfig scale: cost / (underlying * 2).
// CostScale / UnderlyingScale == StrikeConfig.Scale, so no further
// rescaling is needed. This is the single canonical representation used
// for both strike selection and ceiling derivation.
func PremiumPerUnit(cost, underlying *big.Int) int64 {
	denom := getInt()
	denom.Mul(underlying, big.NewInt(2))
	tmp := getInt()
	tmp.Quo(cost, denom)
	result := tmp.Int64()
	putInt(denom)
	putInt(tmp)
	return result
}

// CeilingPrice derives the break-even put price at PriceConfig scale:
// premiumCollected / required. Above this price, hedging costs more than
// the premium the writer collected for the exposure.
func CeilingPrice(premiumCollected, required int64) int64 {
	if required == 0 {
		return 0
	}
	num := getInt()
	num.Mul(big.NewInt(premiumCollected), big.NewInt(PriceConfig.Scale))
	num.Quo(num, big.NewInt(required))
	result := num.Int64()
	putInt(num)
	return result
}

// QtyToFloat converts a QtyConfig-scaled quantity to float64 for the
// exchange boundary. Conversion to floating point happens only here and
// in PriceToFloat, at the final compare/presentation step.
func QtyToFloat(qty int64) float64 {
	return float64(qty) / float64(QtyConfig.Scale)
}

// PriceToFloat converts a PriceConfig-scaled price to float64.
func PriceToFloat(price int64) float64 {
	return float64(price) / float64(PriceConfig.Scale)
}

// ShareToFloat converts a ShareConfig-scaled percent to float64 for
// display.
func ShareToFloat(share int64) float64 {
	return float64(share) / float64(ShareConfig.Scale)
}
