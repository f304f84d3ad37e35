package validation

import (
	"testing"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

func TestCurrencySupported(t *testing.T) {
	tests := []struct {
		name     string
		method   model.PaymentMethod
		currency model.Currency
		want     bool
	}{
		{"stripe usd", model.PaymentMethodStripe, model.CurrencyUSD, true},
		{"stripe eur", model.PaymentMethodStripe, model.CurrencyEUR, true},
		{"stripe gbp", model.PaymentMethodStripe, model.CurrencyGBP, true},
		{"stripe inr rejected", model.PaymentMethodStripe, model.CurrencyINR, false},
		{"razorpay inr", model.PaymentMethodRazorpay, model.CurrencyINR, true},
		{"razorpay usd rejected", model.PaymentMethodRazorpay, model.CurrencyUSD, false},
		{"unknown method", model.PaymentMethodOther, model.CurrencyUSD, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrencySupported(tt.method, tt.currency); got != tt.want {
				t.Errorf("CurrencySupported(%s, %s) = %v, want %v", tt.method, tt.currency, got, tt.want)
			}
		})
	}
}

func TestParseProvider(t *testing.T) {
	if m, ok := ParseProvider("stripe"); !ok || m != model.PaymentMethodStripe {
		t.Fatalf("ParseProvider(stripe) = %v, %v", m, ok)
	}
	if m, ok := ParseProvider("razorpay"); !ok || m != model.PaymentMethodRazorpay {
		t.Fatalf("ParseProvider(razorpay) = %v, %v", m, ok)
	}
	if _, ok := ParseProvider("paypal"); ok {
		t.Fatalf("ParseProvider(paypal) must fail")
	}
	if _, ok := ParseProvider("other"); ok {
		t.Fatalf("ParseProvider(other) must fail: no gateway behind it")
	}
}

func TestParseCurrency(t *testing.T) {
	if c, ok := ParseCurrency("usd"); !ok || c != model.CurrencyUSD {
		t.Fatalf("ParseCurrency(usd) = %v, %v", c, ok)
	}
	if _, ok := ParseCurrency("RUB"); ok {
		t.Fatalf("ParseCurrency(RUB) must fail")
	}
}

func TestValidateDonor(t *testing.T) {
	tests := []struct {
		name     string
		donor    model.Donor
		wantErrs int
	}{
		{"valid", model.Donor{FirstName: "Jane", LastName: "Doe", Email: "jane@example.org"}, 0},
		{"missing first name", model.Donor{LastName: "Doe", Email: "jane@example.org"}, 1},
		{"missing last name", model.Donor{FirstName: "Jane", Email: "jane@example.org"}, 1},
		{"bad email", model.Donor{FirstName: "Jane", LastName: "Doe", Email: "not-an-email"}, 1},
		{"whitespace names", model.Donor{FirstName: "  ", LastName: "\t", Email: ""}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateDonor(tt.donor); len(got) != tt.wantErrs {
				t.Errorf("ValidateDonor() = %v, want %d errors", got, tt.wantErrs)
			}
		})
	}
}
