package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

func TestCreateOrder_OK(t *testing.T) {
	var gotAmount int64
	var gotCurrency string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/orders" {
			t.Fatalf("path = %s, want /orders", r.URL.Path)
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != "key-id" || pass != "key-secret" {
			t.Fatalf("basic auth = %q:%q (%v), want key-id:key-secret", user, pass, ok)
		}

		var body struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotAmount = body.Amount
		gotCurrency = body.Currency

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(razorpayOrderResponse{
			ID:       "order_123",
			Amount:   body.Amount,
			Currency: body.Currency,
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	g := NewRazorpayGateway(ts.URL, "key-id", "key-secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	order, err := g.CreateOrder(ctx, 5000.00, model.CurrencyINR, "donor@example.org", nil)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if order.OrderID != "order_123" {
		t.Fatalf("order id = %q, want order_123", order.OrderID)
	}
	if gotAmount != 500000 {
		t.Fatalf("provider received amount %d, want 500000", gotAmount)
	}
	if gotCurrency != "INR" {
		t.Fatalf("provider received currency %q, want INR", gotCurrency)
	}
}

func TestCreateOrder_UnsupportedCurrency(t *testing.T) {
	g := NewRazorpayGateway("http://razorpay.invalid", "key-id", "key-secret")

	_, err := g.CreateOrder(context.Background(), 10, model.CurrencyUSD, "donor@example.org", nil)
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("err = %v, want ErrUnsupportedCurrency", err)
	}
}

func TestCreateOrder_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	g := NewRazorpayGateway(ts.URL, "key-id", "key-secret")
	g.httpClient.RetryMax = 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := g.CreateOrder(ctx, 100, model.CurrencyINR, "donor@example.org", nil)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func signTestPayment(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	g := NewRazorpayGateway("http://razorpay.invalid", "key-id", "key-secret")

	valid := signTestPayment("key-secret", "order_1", "pay_1")

	if err := g.VerifySignature("order_1", "pay_1", valid); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	if err := g.VerifySignature("order_1", "pay_1", valid+"00"); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v, want ErrSignatureMismatch", err)
	}

	otherOrder := signTestPayment("key-secret", "order_2", "pay_1")
	if err := g.VerifySignature("order_1", "pay_1", otherOrder); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("err = %v, want ErrSignatureMismatch", err)
	}
}

func TestMinorUnits_RoundTrip(t *testing.T) {
	tests := []struct {
		amount float64
		minor  int64
	}{
		{25.50, 2550},
		{5000.00, 500000},
		{0.01, 1},
		{19.99, 1999},
		{1234.56, 123456},
	}

	for _, tt := range tests {
		if got := MinorUnits(tt.amount); got != tt.minor {
			t.Fatalf("MinorUnits(%v) = %d, want %d", tt.amount, got, tt.minor)
		}
		if got := MajorUnits(tt.minor); got != tt.amount {
			t.Fatalf("MajorUnits(%d) = %v, want %v", tt.minor, got, tt.amount)
		}
	}
}
