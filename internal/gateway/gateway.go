// Package gateway содержит клиенты платёжных шлюзов Stripe и Razorpay.
package gateway

import (
	"errors"
	"math"
)

// ErrUnsupportedCurrency возвращается, если валюта не поддерживается шлюзом.
var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrGatewayUnavailable возвращается при сетевой или серверной ошибке провайдера.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSignatureMismatch возвращается при несовпадении подписи подтверждения.
	ErrSignatureMismatch = errors.New("invalid payment signature")
	// ErrPaymentNotCompleted возвращается, если провайдер сообщает о незавершённом платеже.
	ErrPaymentNotCompleted = errors.New("payment not completed")
)

// Intent — результат создания платёжного намерения или заказа у провайдера.
// ClientToken передаётся клиенту для прохождения оплаты и сам по себе
// ничего не авторизует.
type Intent struct {
	ClientToken     string
	ProviderOrderID string
}

// MinorUnits переводит сумму в основных единицах валюты в минимальные
// (центы, пайсы) с округлением до ближайшего целого. Обратное
// преобразование выполняет MajorUnits; пара обязана быть взаимно точной.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// MajorUnits переводит сумму из минимальных единиц валюты в основные.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}
