package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

// RazorpayBaseURL — адрес Orders API по умолчанию.
const RazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayGateway инкапсулирует HTTP-взаимодействие с Razorpay Orders API
// и проверку подписи подтверждения платежа.
type RazorpayGateway struct {
	baseURL    string
	keyID      string
	keySecret  []byte
	httpClient *retryablehttp.Client
}

// Order описывает созданный заказ Razorpay. Сумма — в минимальных единицах,
// как её передаёт провайдер.
type Order struct {
	OrderID  string
	Amount   int64
	Currency model.Currency
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewRazorpayGateway создаёт клиент Razorpay для указанного адреса API
// и пары ключей.
func NewRazorpayGateway(baseURL, keyID, keySecret string) *RazorpayGateway {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = 5 * time.Second

	return &RazorpayGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  []byte(keySecret),
		httpClient: httpClient,
	}
}

// CreateOrder создаёт заказ Razorpay на сумму amount в основных единицах.
// Razorpay принимает только INR.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount float64, currency model.Currency, donorEmail string, projectID *int64) (*Order, error) {
	if currency != model.CurrencyINR {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	notes := map[string]string{"donorEmail": donorEmail}
	if projectID != nil {
		notes["projectId"] = fmt.Sprintf("%d", *projectID)
	}

	payload, err := json.Marshal(map[string]any{
		"amount":   MinorUnits(amount),
		"currency": string(currency),
		"receipt":  fmt.Sprintf("donation_%d", time.Now().UnixMilli()),
		"notes":    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, string(g.keySecret))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var result razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}

	return &Order{
		OrderID:  result.ID,
		Amount:   result.Amount,
		Currency: model.Currency(result.Currency),
	}, nil
}

// VerifySignature сверяет подпись подтверждения с
// HMAC-SHA256(secret, orderID + "|" + paymentID). Сравнение выполняется
// за постоянное время; при несовпадении никакая запись не создаётся.
// Подпись покрывает только идентификаторы — сумма из запроса подписью
// не защищена.
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) error {
	mac := hmac.New(sha256.New, g.keySecret)
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}

	return nil
}
