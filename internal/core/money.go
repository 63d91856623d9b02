// Package core provides money parsing and handling utilities.
//
// This file contains functions for converting decimal amount strings into
// integer minor units and back, per ISO 4217 currency exponent.
package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact amount in the currency's minor unit (cents for EUR/USD,
// whole yen for JPY). Negative values only occur on refunds.
type Money struct {
	Minor    int64
	Currency string
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true,
	"JPY": true, "KMF": true, "KRW": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// threeDecimal lists ISO 4217 currencies with three minor digits.
var threeDecimal = map[string]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true, "LYD": true,
	"OMR": true, "TND": true,
}

// MinorExponent returns how many decimal digits the currency's minor unit has.
func MinorExponent(currency string) int32 {
	c := strings.ToUpper(currency)
	switch {
	case zeroDecimal[c]:
		return 0
	case threeDecimal[c]:
		return 3
	default:
		return 2
	}
}

// ParseMinor converts a canonical decimal string (dot separator, optional
// leading minus) to minor units of currency.
//
// Digits beyond the currency exponent are rounded half away from zero.
// Returns ErrInvalidAmount for malformed input or values that do not fit
// in int64.
//
// Examples:
//
//	ParseMinor("12.34", "EUR")  -> 1234, nil
//	ParseMinor("12.345", "EUR") -> 1235, nil
//	ParseMinor("1500", "JPY")   -> 1500, nil
//	ParseMinor("-3.5", "USD")   -> -350, nil
func ParseMinor(s, currency string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	shifted := d.Shift(MinorExponent(currency)).Round(0)
	if shifted.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return shifted.IntPart(), nil
}

// NewMoney builds Money from a decimal string.
func NewMoney(amount, currency string) (Money, error) {
	minor, err := ParseMinor(amount, currency)
	if err != nil {
		return Money{}, err
	}
	m := Money{Minor: minor, Currency: strings.ToUpper(currency)}
	return m, m.ValidateCurrency()
}

// ValidateCurrency checks that the currency looks like an ISO 4217 code.
func (m Money) ValidateCurrency() error {
	if len(m.Currency) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, m.Currency)
	}
	for _, r := range m.Currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, m.Currency)
		}
	}
	return nil
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -MinorExponent(m.Currency))
}

// Amount formats the major-unit value with the currency's fixed number of
// decimals and no grouping, e.g. "1234.50".
func (m Money) Amount() string {
	return m.Decimal().StringFixed(MinorExponent(m.Currency))
}

// String formats money for display, e.g. "EUR 1,234.50".
func (m Money) String() string {
	return m.Currency + " " + groupThousands(m.Amount())
}

func (m Money) IsZero() bool {
	return m.Minor == 0
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		return "-" + out
	}
	return out
}
