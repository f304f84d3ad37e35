// Package model содержит доменные сущности сервиса пожертвований.
package model

import "time"

// Currency — код валюты пожертвования.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyINR Currency = "INR"
)

// PaymentMethod описывает платёжный шлюз, через который прошло пожертвование.
type PaymentMethod string

const (
	PaymentMethodStripe   PaymentMethod = "stripe"
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	PaymentMethodOther    PaymentMethod = "other"
)

// PaymentStatus описывает статус пожертвования в реестре.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Address — почтовый адрес жертвователя.
type Address struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// Donor — данные жертвователя. Флаг анонимности хранится на самом
// пожертвовании и влияет только на отображение, не на хранение.
type Donor struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   Address
}

// RecurringDetails — параметры регулярного пожертвования. Поля сохраняются
// как есть, планировщик их не обрабатывает.
type RecurringDetails struct {
	Frequency      string
	NextChargeDate *time.Time
	EndDate        *time.Time
}

// TaxReceipt — сведения о выданной налоговой квитанции.
type TaxReceipt struct {
	Issued   bool
	Number   string
	IssuedAt *time.Time
}

// Metadata — происхождение пожертвования, на корректность не влияет.
type Metadata struct {
	Source    string
	Campaign  string
	Referrer  string
	UserAgent string
}

// Donation — запись реестра пожертвований. После перехода в терминальный
// статус сумма и платёжные реквизиты неизменяемы; пара
// (PaymentMethod, PaymentID) служит ключом идемпотентности.
type Donation struct {
	ID            int64
	Donor         Donor
	Amount        float64
	Currency      Currency
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	PaymentID     string
	TransactionID string
	ProjectID     *int64
	ProjectTitle  string
	IsAnonymous   bool
	Message       string
	Recurring     *RecurringDetails
	ReceiptSent   bool
	TaxReceipt    TaxReceipt
	Metadata      Metadata
	CreatedAt     time.Time
}

// VerifiedPayment — результат проверки платежа у провайдера. Для Stripe
// сумма и валюта берутся из объекта платежа самого провайдера, для
// Razorpay — из запроса подтверждения после проверки подписи.
type VerifiedPayment struct {
	Method        PaymentMethod
	PaymentID     string
	TransactionID string
	Amount        float64
	Currency      Currency
}

// Project — проект фонда в объёме, необходимом подсистеме пожертвований:
// валюта и накопленная сумма сборов.
type Project struct {
	ID           int64
	Title        string
	Currency     Currency
	BudgetTarget float64
	BudgetRaised float64
}

// MonthlyStat — агрегат пожертвований за календарный месяц.
type MonthlyStat struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// DonationStats — сводная статистика по завершённым пожертвованиям.
// Считается по записям реестра, а не по кэшированным агрегатам проектов.
type DonationStats struct {
	TotalDonations int64         `json:"totalDonations"`
	TotalAmount    float64       `json:"totalAmount"`
	MonthlyStats   []MonthlyStat `json:"monthlyStats"`
}
