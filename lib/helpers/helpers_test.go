package helpers

import "testing"

func TestEscapeMarkdownV2(t *testing.T) {
	got := EscapeMarkdownV2("price-change (24h): 5.2%!")
	want := "price\\-change \\(24h\\): 5\\.2%\\!"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestFormatPriceUS(t *testing.T) {
	tests := []struct {
		price float64
		want  string
	}{
		{50000, "50,000"},
		{1234.5, "1,234"},
		{42.123, "42.12"},
		{0.5, "0.500000"},
		{0.0000042, "0.00000420"},
	}

	for _, tt := range tests {
		if got := FormatPriceUS(tt.price, false); got != tt.want {
			t.Errorf("FormatPriceUS(%f) = %q, want %q", tt.price, got, tt.want)
		}
	}
}

func TestFormatPercentage(t *testing.T) {
	if got := FormatPercentage(0.05); got != "5.0" {
		t.Errorf("expected 5.0, got %q", got)
	}
	if got := FormatPercentage(0.025); got != "2.5" {
		t.Errorf("expected 2.5, got %q", got)
	}
}

func TestSupportedCurrencies(t *testing.T) {
	codes := SupportedCurrencies()
	if len(codes) == 0 {
		t.Fatal("expected a non-empty currency list")
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Errorf("currency list not sorted at %q, %q", codes[i-1], codes[i])
		}
	}
	if !IsSupportedCurrency("EUR") {
		t.Error("expected EUR to be supported regardless of case")
	}
	if IsSupportedCurrency("bitcoin") {
		t.Error("coin ids must not pass as currencies")
	}
}

func TestCurrencySymbol(t *testing.T) {
	if got := CurrencySymbol("USD"); got != "$" {
		t.Errorf("expected $, got %q", got)
	}
	if got := CurrencySymbol("nok"); got != "NOK " {
		t.Errorf("expected fallback to upper-cased code, got %q", got)
	}
}
