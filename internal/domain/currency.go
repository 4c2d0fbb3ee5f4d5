package domain

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the quote currency of a fresh ledger.
const DefaultCurrency = "usd"

// supportedCurrencies are the quote currencies offered by the currency selector.
var supportedCurrencies = []string{"usd", "eur", "gbp", "inr", "jpy", "krw"}

// SupportedCurrencies returns the selectable quote currency codes.
func SupportedCurrencies() []string {
	out := make([]string, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

// NormalizeCurrency lower-cases code and checks it against the supported set.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	for _, s := range supportedCurrencies {
		if s == c {
			return c, nil
		}
	}
	return "", ErrUnsupportedCurrency
}

// FormatMoney renders amount with the currency's grapheme and separators.
// Prices below one unit keep more digits, as crypto quotes need them.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		return amount.String()
	}
	fraction := cur.Fraction
	if p := subUnitPrecision(amount.Abs()); p > fraction {
		fraction = p
	}
	f := money.NewFormatter(fraction, cur.Decimal, cur.Thousand, cur.Grapheme, cur.Template)
	return f.Format(amount.Shift(int32(fraction)).Round(0).IntPart())
}

// subUnitPrecision determines decimal places for values below one unit
func subUnitPrecision(price decimal.Decimal) int {
	switch {
	case price.IsZero(), price.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return 0
	case price.GreaterThanOrEqual(decimal.NewFromFloat(0.1)):
		return 4
	default:
		return 8
	}
}
