// Package types provides common value types used across redeem.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money represents a monetary value in the smallest currency unit.
// All arithmetic is integer-only, no floating point.
//
// Examples:
//   - BRL(1000) = R$10.00 (1000 centavos)
//   - Money{Amount: 4900, Currency: "usd"} = $49.00
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (centavos, cents, ...)
	Currency string `json:"currency"` // ISO 4217 lowercase: "brl", "usd", "eur"
}

// BRL creates a Money value in Brazilian Reais (centavos).
func BRL(centavos int64) Money { return Money{Amount: centavos, Currency: "brl"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal returns true if both Money values are equal (same amount and currency).
// Two zero values are equal regardless of currency, so a cleared balance
// compares equal to a freshly zeroed one.
func (m Money) Equal(other Money) bool {
	if m.Amount == 0 && other.Amount == 0 {
		return true
	}
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// Covers reports whether m is enough to pay for price. A balance in a
// different currency never covers a price.
func (m Money) Covers(price Money) bool {
	if !price.IsPositive() {
		return true
	}
	return m.Currency == price.Currency && m.Amount >= price.Amount
}

// FormatMajor returns the major unit string without currency symbol,
// e.g. "10.00" for BRL(1000).
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return fmt.Sprintf("%d", m.Amount)
	}

	divisor := int64(1)
	for i := 0; i < decimals; i++ {
		divisor *= 10
	}

	isNegative := m.Amount < 0
	absAmount := m.Amount
	if isNegative {
		absAmount = -absAmount
	}

	format := fmt.Sprintf("%%d.%%0%dd", decimals)
	result := fmt.Sprintf(format, absAmount/divisor, absAmount%divisor)

	if isNegative {
		return "-" + result
	}
	return result
}

// String returns a human-readable string with currency symbol.
// Examples: "R$10.00", "$49.00", "€199.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = strings.ToLower(raw.Currency)
	return nil
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"brl": "R$",
		"usd": "$",
		"eur": "€",
		"gbp": "£",
		"jpy": "¥",
	}
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "clp", "pyg":
		return 0
	default:
		return 2
	}
}
