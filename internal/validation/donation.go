// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

var supportedCurrencies = map[model.PaymentMethod][]model.Currency{
	model.PaymentMethodStripe:   {model.CurrencyUSD, model.CurrencyEUR, model.CurrencyGBP},
	model.PaymentMethodRazorpay: {model.CurrencyINR},
}

// ParseProvider разбирает имя провайдера из пути запроса.
func ParseProvider(s string) (model.PaymentMethod, bool) {
	switch model.PaymentMethod(s) {
	case model.PaymentMethodStripe:
		return model.PaymentMethodStripe, true
	case model.PaymentMethodRazorpay:
		return model.PaymentMethodRazorpay, true
	default:
		return "", false
	}
}

// ParseCurrency разбирает код валюты.
func ParseCurrency(s string) (model.Currency, bool) {
	switch c := model.Currency(strings.ToUpper(s)); c {
	case model.CurrencyUSD, model.CurrencyEUR, model.CurrencyGBP, model.CurrencyINR:
		return c, true
	default:
		return "", false
	}
}

// CurrencySupported сообщает, принимает ли провайдер указанную валюту.
func CurrencySupported(method model.PaymentMethod, currency model.Currency) bool {
	for _, c := range supportedCurrencies[method] {
		if c == currency {
			return true
		}
	}
	return false
}

// IsValidEmail проверяет адрес электронной почты жертвователя.
func IsValidEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// ValidateDonor проверяет обязательные поля жертвователя и возвращает
// список сообщений об ошибках для ответа клиенту.
func ValidateDonor(d model.Donor) []string {
	var errs []string

	if strings.TrimSpace(d.FirstName) == "" {
		errs = append(errs, "First name is required")
	}
	if strings.TrimSpace(d.LastName) == "" {
		errs = append(errs, "Last name is required")
	}
	if !IsValidEmail(d.Email) {
		errs = append(errs, "Valid email is required")
	}

	return errs
}
