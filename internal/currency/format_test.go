package currency

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		amount float64
		code   string
		want   string
	}{
		{1234.5, "USD", "$1,235"},
		{1234.4, "USD", "$1,234"},
		{0, "EUR", "€0"},
		{85000, "gbp", "£85,000"},
		{12000000, "JPY", "¥12,000,000"},
		{999.99, "INR", "₹1,000"},
		{150000, "CAD", "CA$150,000"},
		{5000, "ZAR", "ZAR 5,000"},
		{-2500.6, "USD", "-$2,501"},
		{72000, "CHF", "CHF 72,000"},
		{1e20, "USD", "$100,000,000,000,000,000,000"},
		{-1e20, "USD", "-$100,000,000,000,000,000,000"},
		{-0.4, "USD", "$0"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Format(tt.amount, tt.code); got != tt.want {
				t.Errorf("Format(%v, %q) = %q, want %q", tt.amount, tt.code, got, tt.want)
			}
		})
	}
}

func TestIsValidCode(t *testing.T) {
	valid := []string{"USD", "EUR", "ZZZ"}
	invalid := []string{"", "usd", "US", "USDT", "U5D", "¥"}

	for _, c := range valid {
		if !IsValidCode(c) {
			t.Errorf("IsValidCode(%q) = false, want true", c)
		}
	}
	for _, c := range invalid {
		if IsValidCode(c) {
			t.Errorf("IsValidCode(%q) = true, want false", c)
		}
	}
	if got := NormalizeCode(" usd "); got != "USD" {
		t.Errorf("NormalizeCode = %q, want USD", got)
	}
}
