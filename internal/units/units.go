package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/holiman/uint256"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

// MaxDecimals bounds the decimals count accepted from any source.
const MaxDecimals = 255

var decimalPattern = regexp.MustCompile(`^[0-9]*\.?[0-9]*([eE][+-]?[0-9]+)?$`)

var maxUnits = new(uint256.Int).SetAllOne().ToBig()

// MaxUnits returns 2^256 - 1, the sentinel encoded for "max" and "all" amounts.
func MaxUnits() *big.Int {
	return new(big.Int).Set(maxUnits)
}

// IsMax reports whether v equals the MaxUnits sentinel.
func IsMax(v *big.Int) bool {
	return v != nil && v.Cmp(maxUnits) == 0
}

// ToBaseUnits converts a human decimal amount into base units, truncating any
// precision beyond decimals toward zero.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimals must be between 0 and %d, got %d", MaxDecimals, decimals))
	}
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, clierr.New(clierr.CodeUsage, "amount must be non-negative")
	}
	amount = strings.TrimPrefix(amount, "+")
	if !decimalPattern.MatchString(amount) || !strings.ContainsAny(amount, "0123456789") {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be a decimal number like 1.25", amount))
	}
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be a decimal number like 1.25", amount))
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Mul(value, new(big.Rat).SetInt(scale))
	// Quo truncates toward zero.
	return new(big.Int).Quo(value.Num(), value.Denom()), nil
}

// FromBaseUnits renders base units as a decimal string with trailing zeros
// removed.
func FromBaseUnits(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	if decimals <= 0 {
		return baseUnits.String()
	}
	negative := baseUnits.Sign() < 0
	s := new(big.Int).Abs(baseUnits).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if negative {
		out = "-" + out
	}
	return out
}
