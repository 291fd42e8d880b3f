package payment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/moltbunker/tierstake/pkg/types"
)

var decimalsFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(types.TokenDecimals), nil)

// FormatTokenAmount renders base units as a decimal token amount with four
// fractional digits, truncating the rest.
func FormatTokenAmount(amount *big.Int) string {
	if amount == nil {
		return "0.0000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	whole, frac := new(big.Int).QuoRem(abs, decimalsFactor, new(big.Int))
	// keep four of the eighteen fractional digits
	frac.Quo(frac, new(big.Int).Exp(big.NewInt(10), big.NewInt(types.TokenDecimals-4), nil))

	s := fmt.Sprintf("%s.%04d", whole.String(), frac.Int64())
	if neg {
		return "-" + s
	}
	return s
}

// ParseTokenAmount converts a decimal token amount such as "12.5" into base
// units. Negative amounts and more than 18 fractional digits are rejected.
func ParseTokenAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if !isDigits(whole) || !isDigits(frac) || whole+frac == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > types.TokenDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, types.TokenDecimals)
	}

	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	result := new(big.Int).Mul(w, decimalsFactor)

	if frac != "" {
		f, ok := new(big.Int).SetString(frac+strings.Repeat("0", types.TokenDecimals-len(frac)), 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		result.Add(result, f)
	}
	return result, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
