package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

// stripeAPI описывает используемую часть Stripe API. Выделен в интерфейс,
// чтобы в тестах подменять реальный клиент.
type stripeAPI interface {
	CreateIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type stripeClient struct {
	sc *stripe.Client
}

func (c *stripeClient) CreateIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Create(ctx, params)
}

func (c *stripeClient) RetrieveIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Retrieve(ctx, id, nil)
}

// StripeGateway создаёт платёжные намерения Stripe и проверяет их состояние.
// Конфигурация передаётся явно при создании, глобального состояния нет.
type StripeGateway struct {
	api        stripeAPI
	currencies map[model.Currency]struct{}
}

// NewStripeGateway создаёт шлюз Stripe с указанным секретным ключом.
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{
		api: &stripeClient{sc: stripe.NewClient(secretKey)},
		currencies: map[model.Currency]struct{}{
			model.CurrencyUSD: {},
			model.CurrencyEUR: {},
			model.CurrencyGBP: {},
		},
	}
}

// CreateIntent создаёт платёжное намерение на сумму amount в основных
// единицах валюты. Локально ничего не записывается: запись в реестре
// появляется только после проверенного подтверждения.
func (g *StripeGateway) CreateIntent(ctx context.Context, amount float64, currency model.Currency, donorEmail string, projectID *int64) (*Intent, error) {
	if _, ok := g.currencies[currency]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	projectRef := ""
	if projectID != nil {
		projectRef = strconv.FormatInt(*projectID, 10)
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(MinorUnits(amount)),
		Currency: stripe.String(strings.ToLower(string(currency))),
		Metadata: map[string]string{
			"donorEmail": donorEmail,
			"projectId":  projectRef,
		},
	}

	pi, err := g.api.CreateIntent(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: create payment intent: %v", ErrGatewayUnavailable, err)
	}

	return &Intent{
		ClientToken:     pi.ClientSecret,
		ProviderOrderID: pi.ID,
	}, nil
}

// VerifyPayment перечитывает платёж у Stripe и возвращает сумму и валюту
// из объекта провайдера. Значения из запроса подтверждения при этом
// игнорируются: финансовая запись строится только на данных провайдера.
func (g *StripeGateway) VerifyPayment(ctx context.Context, intentID string) (*model.VerifiedPayment, error) {
	pi, err := g.api.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve payment intent: %v", ErrGatewayUnavailable, err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: intent status %s", ErrPaymentNotCompleted, pi.Status)
	}

	transactionID := ""
	if pi.LatestCharge != nil {
		transactionID = pi.LatestCharge.ID
	}

	return &model.VerifiedPayment{
		Method:        model.PaymentMethodStripe,
		PaymentID:     pi.ID,
		TransactionID: transactionID,
		Amount:        MajorUnits(pi.Amount),
		Currency:      model.Currency(strings.ToUpper(string(pi.Currency))),
	}, nil
}
