package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency identifies the ISO 4217 code an amount is expressed in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyVND Currency = "VND"
)

var supportedCurrencies = map[Currency]currency.Unit{
	CurrencyUSD: currency.USD,
	CurrencyEUR: currency.EUR,
	CurrencyVND: currency.MustParseISO("VND"),
}

var (
	// ErrUnsupportedCurrency is returned for well formed codes the storefront does not sell in.
	ErrUnsupportedCurrency = errors.New("domain: unsupported currency")
	// ErrNegativeAmount is returned when a price or discount is below zero.
	ErrNegativeAmount = errors.New("domain: amount must not be negative")
)

// ParseCurrency validates an ISO code and restricts it to the supported set.
func ParseCurrency(code string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", fmt.Errorf("%w: currency is required", ErrUnsupportedCurrency)
	}
	unit, err := currency.ParseISO(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	cur := Currency(unit.String())
	if _, ok := supportedCurrencies[cur]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return cur, nil
}

// Scale returns the number of minor-unit digits used when presenting amounts.
func (c Currency) Scale() int32 {
	unit, ok := supportedCurrencies[c]
	if !ok {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Money is an exact decimal amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// NewMoney parses a decimal string amount. Negative amounts are rejected.
func NewMoney(amount string, code string) (Money, error) {
	cur, err := ParseCurrency(code)
	if err != nil {
		return Money{}, err
	}
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("domain: invalid amount %q: %w", amount, err)
	}
	if value.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{Amount: value, Currency: cur}, nil
}

// MustMoney is NewMoney for literals known to be valid.
func MustMoney(amount string, code Currency) Money {
	m, err := NewMoney(amount, string(code))
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(cur Currency) Money {
	return Money{Amount: decimal.Zero, Currency: cur}
}

// Mul multiplies the amount by an integer quantity.
func (m Money) Mul(qty int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(qty))), Currency: m.Currency}
}

// String renders the amount with the currency's minor unit scale, e.g. "12.50 USD".
func (m Money) String() string {
	return m.Amount.StringFixed(m.Currency.Scale()) + " " + string(m.Currency)
}

// Display renders the amount without the currency code.
func (m Money) Display() string {
	return m.Amount.StringFixed(m.Currency.Scale())
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}
