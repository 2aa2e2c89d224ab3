// Package money holds the fixed-point helpers used for every monetary amount.
// Amounts carry two fractional digits and round half away from zero.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const Scale int32 = 2

var hundred = decimal.NewFromInt(100)

var (
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidAmount   = errors.New("invalid_amount")
)

type Currency string

const (
	CurrencyVND Currency = "VND"
	CurrencyUSD Currency = "USD"
)

func ParseCurrency(raw string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(raw))) {
	case CurrencyVND:
		return CurrencyVND, nil
	case CurrencyUSD:
		return CurrencyUSD, nil
	default:
		return "", ErrInvalidCurrency
	}
}

// Round2 rounds to two decimals, half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns amount * pct / 100 rounded to two decimals.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(hundred))
}

// ParseAmount parses a positive amount with at most two fractional digits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.Equal(Round2(amount)) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// String renders an amount with exactly two fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
