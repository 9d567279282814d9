package erc20

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "AgentTx-ERC20/internal/errors"
)

// DefaultDecimals is used for every token unless overridden with WithDecimals.
const DefaultDecimals uint8 = 6

// ToBaseUnits converts a human readable amount such as "1.5" into the token's
// smallest unit. Fractions finer than decimals are rejected, not rounded.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	if _, ok := parseAmount(amount); !ok {
		return nil, xerrors.New(CodeInvalidAmount, "")
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > int(decimals) {
		return nil, xerrors.New(CodeAmountConversionFailed,
			fmt.Sprintf("amount %s has more than %d decimal places", amount, decimals))
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, xerrors.New(CodeAmountConversionFailed, "")
	}
	return units, nil
}

// FormatBaseUnits renders units with the given decimals, trimming trailing
// zeros of the fraction.
func FormatBaseUnits(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(units, scale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fs := frac.String()
	fs = strings.Repeat("0", int(decimals)-len(fs)) + fs
	return whole.String() + "." + strings.TrimRight(fs, "0")
}
