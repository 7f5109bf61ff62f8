package types

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseTokenAmount converts a decimal token string ("12.5") into smallest
// units for a token with the given number of decimals. Fractional digits
// beyond the token's precision are rejected rather than rounded.
func ParseTokenAmount(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && len(frac) > decimals {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return v, nil
}

// FormatTokenAmount renders smallest units as a decimal token string with
// trailing fractional zeros removed.
func FormatTokenAmount(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals <= 0 {
		return v.String()
	}

	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// TokenUnit returns 10^decimals, the number of smallest units in one token.
func TokenUnit(decimals int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
