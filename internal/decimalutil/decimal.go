// Package decimalutil centralizes decimal conversion and quantization so
// that monetary arithmetic never touches float64 on the path to wei.
package decimalutil

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/clobtypes"
)

// WeiScale is the number of fractional digits both USDC collateral and CTF
// outcome tokens use on-chain (6 decimals).
const WeiScale = 6

var weiMultiplier = decimal.New(1, WeiScale)

// ToDecimal converts a heterogeneous value (string, int, int64, float64, or
// decimal.Decimal) to a decimal.Decimal. Strings are parsed directly;
// floats are first formatted to string to avoid binary-precision artefacts
// — NewFromFloat must never be used here. If conversion fails and def is
// non-nil, def is returned instead of an error.
func ToDecimal(v any, def *decimal.Decimal) (decimal.Decimal, error) {
	d, err := toDecimal(v)
	if err != nil {
		if def != nil {
			return *def, nil
		}
		return decimal.Zero, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("cannot convert %v to decimal", v), nil)
	}
	return d, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(t)
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case uint64:
		return decimal.NewFromUint64(t), nil
	case float64:
		return decimal.NewFromString(strconv.FormatFloat(t, 'f', -1, 64))
	case float32:
		return decimal.NewFromString(strconv.FormatFloat(float64(t), 'f', -1, 32))
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", v)
	}
}

// QuantizePrice rounds a price to the given number of decimal places
// (derived from the market's tick size), half-up. places defaults to 2 when
// zero, matching the default 0.01 tick size.
func QuantizePrice(d decimal.Decimal, places int32) decimal.Decimal {
	if places == 0 {
		places = 2
	}
	return roundHalfUp(d, places)
}

// QuantizeSize rounds a size to 2 decimal places, half-up.
func QuantizeSize(d decimal.Decimal) decimal.Decimal {
	return roundHalfUp(d, 2)
}

// QuantizeSpread rounds a spread value to 4 decimal places, half-up.
func QuantizeSpread(d decimal.Decimal) decimal.Decimal {
	return roundHalfUp(d, 4)
}

func roundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundHalfUp(places)
}

// ToWei converts a decimal amount to its integer wei representation (6
// fractional digits of scale), rounding half-up. The multiplication and
// rounding happen entirely in decimal space — never via float64.
func ToWei(d decimal.Decimal) decimal.Decimal {
	return d.Mul(weiMultiplier).RoundHalfUp(0)
}

// FromWei converts an integer wei amount back to its decimal representation.
func FromWei(wei decimal.Decimal) decimal.Decimal {
	return wei.DivRound(weiMultiplier, WeiScale)
}

// ToWeiInt returns the wei amount as a big-integer string, suitable for the
// exchange's JSON wire format which expects amounts as decimal-integer
// strings.
func ToWeiString(d decimal.Decimal) string {
	return ToWei(d).StringFixed(0)
}
