package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a decimal amount such as "1.5" to an integer string
// scaled by 10^decimals. Amounts with more precision than decimals are
// rejected rather than rounded.
func ToBaseUnits(s string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("negative amount %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return "", fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return scaled.StringFixed(0), nil
}

// FromBaseUnits formats an integer amount string in whole units
func FromBaseUnits(s string, decimals int32) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.Shift(-decimals).String()
}
