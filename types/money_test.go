package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"BRL", BRL(1000), 1000, "brl", "R$10.00"},
		{"USD", Money{Amount: 4900, Currency: "usd"}, 4900, "usd", "$49.00"},
		{"EUR", Money{Amount: 19900, Currency: "eur"}, 19900, "eur", "€199.00"},
		{"Zero BRL", Zero("BRL"), 0, "brl", "R$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyCovers(t *testing.T) {
	tests := []struct {
		name    string
		balance Money
		price   Money
		want    bool
	}{
		{"exact", BRL(1000), BRL(1000), true},
		{"more", BRL(1000), BRL(800), true},
		{"less", BRL(700), BRL(800), false},
		{"zero balance", Zero("brl"), BRL(1), false},
		{"free product", Zero("brl"), Zero("brl"), true},
		{"other currency", Money{Amount: 5000, Currency: "usd"}, BRL(800), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.balance.Covers(tt.price); got != tt.want {
				t.Errorf("Covers: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoneyEqualZero(t *testing.T) {
	if !Zero("brl").Equal(Money{}) {
		t.Error("zero values should compare equal regardless of currency")
	}
	if BRL(1).Equal(Money{Amount: 1, Currency: "usd"}) {
		t.Error("different currencies should not be equal")
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money Money
		want  string
	}{
		{BRL(1000), "10.00"},
		{BRL(5), "0.05"},
		{BRL(-250), "-2.50"},
		{Money{Amount: 100, Currency: "jpy"}, "100"},
	}

	for _, tt := range tests {
		if got := tt.money.FormatMajor(); got != tt.want {
			t.Errorf("FormatMajor(%d %s): got %q, want %q", tt.money.Amount, tt.money.Currency, got, tt.want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(BRL(1000))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["display"] != "R$10.00" {
		t.Errorf("display: got %v", raw["display"])
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(BRL(1000)) {
		t.Errorf("round trip: got %v", back)
	}
}
