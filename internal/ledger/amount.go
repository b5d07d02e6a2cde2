package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// UnitsPerCoin is the fixed-point scale of on-chain amounts (MIST per SUI).
const UnitsPerCoin = 1_000_000_000

const displayDecimals = 4

var unitsPerCoin = big.NewRat(UnitsPerCoin, 1)

// FormatUnits renders an amount in smallest units as whole coins with four
// decimals ("1500000000" -> "1.5000"). Missing or unparsable input renders
// as "0.0000".
func FormatUnits(v any) string {
	r, ok := toRat(v)
	if !ok {
		return zeroAmount()
	}
	return new(big.Rat).Quo(r, unitsPerCoin).FloatString(displayDecimals)
}

func zeroAmount() string {
	return "0." + strings.Repeat("0", displayDecimals)
}

func toRat(v any) (*big.Rat, bool) {
	var s string
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		r := new(big.Rat).SetFloat64(x)
		return r, r != nil
	case int:
		return new(big.Rat).SetInt64(int64(x)), true
	case int64:
		return new(big.Rat).SetInt64(x), true
	case uint64:
		return new(big.Rat).SetInt(new(big.Int).SetUint64(x)), true
	default:
		s = fmt.Sprint(x)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, false
	}
	return r, true
}
