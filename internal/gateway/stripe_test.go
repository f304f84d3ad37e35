package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v82"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

type stubStripeAPI struct {
	createParams *stripe.PaymentIntentCreateParams
	createResp   *stripe.PaymentIntent
	createErr    error

	retrieveID   string
	retrieveResp *stripe.PaymentIntent
	retrieveErr  error
}

func (s *stubStripeAPI) CreateIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	s.createParams = params
	return s.createResp, s.createErr
}

func (s *stubStripeAPI) RetrieveIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	s.retrieveID = id
	return s.retrieveResp, s.retrieveErr
}

func newTestStripeGateway(api stripeAPI) *StripeGateway {
	g := NewStripeGateway("sk_test")
	g.api = api
	return g
}

func TestStripeCreateIntent_ConvertsToMinorUnits(t *testing.T) {
	api := &stubStripeAPI{
		createResp: &stripe.PaymentIntent{
			ID:           "pi_123",
			ClientSecret: "pi_123_secret",
		},
	}
	g := newTestStripeGateway(api)

	intent, err := g.CreateIntent(context.Background(), 25.50, model.CurrencyUSD, "donor@example.org", nil)
	if err != nil {
		t.Fatalf("CreateIntent error: %v", err)
	}

	if api.createParams.Amount == nil || *api.createParams.Amount != 2550 {
		t.Fatalf("provider received amount %v, want 2550", api.createParams.Amount)
	}
	if api.createParams.Currency == nil || *api.createParams.Currency != "usd" {
		t.Fatalf("provider received currency %v, want usd", api.createParams.Currency)
	}
	if intent.ProviderOrderID != "pi_123" || intent.ClientToken != "pi_123_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestStripeCreateIntent_UnsupportedCurrency(t *testing.T) {
	g := newTestStripeGateway(&stubStripeAPI{})

	_, err := g.CreateIntent(context.Background(), 100, model.CurrencyINR, "donor@example.org", nil)
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("err = %v, want ErrUnsupportedCurrency", err)
	}
}

func TestStripeCreateIntent_GatewayError(t *testing.T) {
	g := newTestStripeGateway(&stubStripeAPI{
		createErr: errors.New("connection timed out"),
	})

	_, err := g.CreateIntent(context.Background(), 100, model.CurrencyEUR, "donor@example.org", nil)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestStripeVerifyPayment_Succeeded(t *testing.T) {
	api := &stubStripeAPI{
		retrieveResp: &stripe.PaymentIntent{
			ID:           "pi_123",
			Status:       stripe.PaymentIntentStatusSucceeded,
			Amount:       2550,
			Currency:     "usd",
			LatestCharge: &stripe.Charge{ID: "ch_456"},
		},
	}
	g := newTestStripeGateway(api)

	vp, err := g.VerifyPayment(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("VerifyPayment error: %v", err)
	}

	if api.retrieveID != "pi_123" {
		t.Fatalf("retrieved id = %q, want pi_123", api.retrieveID)
	}
	if vp.Amount != 25.50 {
		t.Fatalf("amount = %v, want 25.50", vp.Amount)
	}
	if vp.Currency != model.CurrencyUSD {
		t.Fatalf("currency = %s, want USD", vp.Currency)
	}
	if vp.TransactionID != "ch_456" {
		t.Fatalf("transaction id = %q, want ch_456", vp.TransactionID)
	}
	if vp.Method != model.PaymentMethodStripe {
		t.Fatalf("method = %s, want stripe", vp.Method)
	}
}

func TestStripeVerifyPayment_NotSucceeded(t *testing.T) {
	g := newTestStripeGateway(&stubStripeAPI{
		retrieveResp: &stripe.PaymentIntent{
			ID:     "pi_123",
			Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
		},
	})

	_, err := g.VerifyPayment(context.Background(), "pi_123")
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("err = %v, want ErrPaymentNotCompleted", err)
	}
}

func TestStripeVerifyPayment_GatewayError(t *testing.T) {
	g := newTestStripeGateway(&stubStripeAPI{
		retrieveErr: errors.New("stripe: 502"),
	})

	_, err := g.VerifyPayment(context.Background(), "pi_123")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}
