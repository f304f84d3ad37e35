// Package handler содержит HTTP-обработчики API сервиса пожертвований.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/ecofund-system/internal/gateway"
	"github.com/mmeshcher/ecofund-system/internal/middleware"
	"github.com/mmeshcher/ecofund-system/internal/model"
	"github.com/mmeshcher/ecofund-system/internal/repository"
	"github.com/mmeshcher/ecofund-system/internal/service"
	"github.com/mmeshcher/ecofund-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateIntent(ctx context.Context, method model.PaymentMethod, amount float64, currency model.Currency, donor model.Donor, projectID *int64) (*gateway.Intent, error)
	ConfirmStripe(ctx context.Context, req service.ConfirmStripeRequest) (*service.ConfirmResult, error)
	ConfirmRazorpay(ctx context.Context, req service.ConfirmRazorpayRequest) (*service.ConfirmResult, error)
	Refund(ctx context.Context, donationID int64) error
	IssueTaxReceipt(ctx context.Context, donationID int64, number string) error
	ListDonations(ctx context.Context, f repository.ListFilter) ([]model.Donation, int64, error)
	GetDonationStats(ctx context.Context) (*model.DonationStats, error)
}

// AdminCredentials — учётные данные для входа в закрытую часть API.
type AdminCredentials struct {
	Login    string
	Password string
}

// Handler реализует HTTP-обработчики API сервиса пожертвований.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	admin          AdminCredentials
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, admin AdminCredentials) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		admin:          admin,
	}
}

type errorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Message: message})
}

// handleServiceError переводит ошибки бизнес-логики в HTTP-статусы.
// Детали подписи клиенту не возвращаются; внутренние ошибки логируются.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, gateway.ErrUnsupportedCurrency):
		h.writeError(w, http.StatusBadRequest, "Unsupported currency")
	case errors.Is(err, gateway.ErrSignatureMismatch):
		h.writeError(w, http.StatusBadRequest, "Invalid payment signature")
	case errors.Is(err, gateway.ErrPaymentNotCompleted):
		h.writeError(w, http.StatusBadRequest, "Payment not completed")
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		h.writeError(w, http.StatusBadGateway, "Payment processing error")
	case errors.Is(err, repository.ErrDonationNotFound):
		h.writeError(w, http.StatusNotFound, "Donation not found")
	case errors.Is(err, repository.ErrProjectNotFound):
		h.writeError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, repository.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "Invalid donation state transition")
	case errors.Is(err, service.ErrUnknownProvider):
		h.writeError(w, http.StatusNotFound, "Unknown payment provider")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Server error")
	}
}

type addressPayload struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

type donorPayload struct {
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone,omitempty"`
	Address   *addressPayload `json:"address,omitempty"`
}

func (p donorPayload) toModel() model.Donor {
	d := model.Donor{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
	}
	if p.Address != nil {
		d.Address = model.Address{
			Street:  p.Address.Street,
			City:    p.Address.City,
			State:   p.Address.State,
			ZipCode: p.Address.ZipCode,
			Country: p.Address.Country,
		}
	}
	return d
}

type recurringPayload struct {
	Frequency      string     `json:"frequency"`
	NextChargeDate *time.Time `json:"nextChargeDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
}

func (p *recurringPayload) toModel() *model.RecurringDetails {
	if p == nil {
		return nil
	}
	return &model.RecurringDetails{
		Frequency:      p.Frequency,
		NextChargeDate: p.NextChargeDate,
		EndDate:        p.EndDate,
	}
}

type intentRequest struct {
	Amount    float64      `json:"amount"`
	Currency  string       `json:"currency"`
	Donor     donorPayload `json:"donor"`
	ProjectID *int64       `json:"projectId,omitempty"`
}

type intentResponse struct {
	ClientToken     string `json:"clientToken"`
	ProviderOrderID string `json:"providerOrderId"`
}

// CreateIntent создаёт платёжное намерение у провайдера из пути запроса.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	method, ok := validation.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "Unknown payment provider")
		return
	}

	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var errs []string
	if req.Amount <= 0 {
		errs = append(errs, "Amount must be a positive number")
	}

	currency, currencyOK := validation.ParseCurrency(req.Currency)
	if !currencyOK {
		errs = append(errs, "Invalid currency")
	} else if !validation.CurrencySupported(method, currency) {
		errs = append(errs, "Currency not supported by provider")
	}

	errs = append(errs, validation.ValidateDonor(req.Donor.toModel())...)

	if len(errs) > 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Validation failed", Errors: errs})
		return
	}

	intent, err := h.service.CreateIntent(r.Context(), method, req.Amount, currency, req.Donor.toModel(), req.ProjectID)
	if err != nil {
		h.handleServiceError(w, err, "create intent")
		return
	}

	h.writeJSON(w, http.StatusOK, intentResponse{
		ClientToken:     intent.ClientToken,
		ProviderOrderID: intent.ProviderOrderID,
	})
}

type stripeConfirmRequest struct {
	ProviderOrderID string            `json:"providerOrderId"`
	Donor           donorPayload      `json:"donor"`
	Amount          float64           `json:"amount"`
	Currency        string            `json:"currency"`
	ProjectID       *int64            `json:"projectId,omitempty"`
	Message         string            `json:"message,omitempty"`
	IsAnonymous     bool              `json:"isAnonymous,omitempty"`
	Recurring       *recurringPayload `json:"recurring,omitempty"`
}

type razorpayConfirmRequest struct {
	ProviderOrderID   string       `json:"providerOrderId"`
	ProviderPaymentID string       `json:"providerPaymentId"`
	Signature         string       `json:"signature"`
	Donor             donorPayload `json:"donor"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	ProjectID         *int64       `json:"projectId,omitempty"`
	Message           string       `json:"message,omitempty"`
	IsAnonymous       bool         `json:"isAnonymous,omitempty"`
}

type confirmResponse struct {
	DonationID int64 `json:"donationId"`
	Recorded   bool  `json:"recorded"`
}

// ConfirmPayment подтверждает платёж у провайдера из пути запроса.
// Повторный вызов с той же ссылкой провайдера возвращает исходный результат.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	method, ok := validation.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "Unknown payment provider")
		return
	}

	switch method {
	case model.PaymentMethodStripe:
		h.confirmStripe(w, r)
	default:
		h.confirmRazorpay(w, r)
	}
}

func (h *Handler) confirmStripe(w http.ResponseWriter, r *http.Request) {
	var req stripeConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var errs []string
	if req.ProviderOrderID == "" {
		errs = append(errs, "Payment intent ID is required")
	}
	errs = append(errs, validation.ValidateDonor(req.Donor.toModel())...)

	if len(errs) > 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Validation failed", Errors: errs})
		return
	}

	res, err := h.service.ConfirmStripe(r.Context(), service.ConfirmStripeRequest{
		PaymentIntentID: req.ProviderOrderID,
		Donor:           req.Donor.toModel(),
		ProjectID:       req.ProjectID,
		Message:         req.Message,
		IsAnonymous:     req.IsAnonymous,
		Recurring:       req.Recurring.toModel(),
		Metadata: model.Metadata{
			Source:    "website",
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		h.handleServiceError(w, err, "confirm stripe payment")
		return
	}

	h.writeJSON(w, http.StatusOK, confirmResponse{DonationID: res.DonationID, Recorded: true})
}

func (h *Handler) confirmRazorpay(w http.ResponseWriter, r *http.Request) {
	var req razorpayConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var errs []string
	if req.ProviderOrderID == "" {
		errs = append(errs, "Order ID is required")
	}
	if req.ProviderPaymentID == "" {
		errs = append(errs, "Payment ID is required")
	}
	if req.Signature == "" {
		errs = append(errs, "Signature is required")
	}
	if req.Amount <= 0 {
		errs = append(errs, "Amount must be a positive number")
	}

	currency, currencyOK := validation.ParseCurrency(req.Currency)
	if !currencyOK {
		errs = append(errs, "Invalid currency")
	} else if !validation.CurrencySupported(model.PaymentMethodRazorpay, currency) {
		errs = append(errs, "Currency not supported by provider")
	}

	errs = append(errs, validation.ValidateDonor(req.Donor.toModel())...)

	if len(errs) > 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Validation failed", Errors: errs})
		return
	}

	res, err := h.service.ConfirmRazorpay(r.Context(), service.ConfirmRazorpayRequest{
		OrderID:     req.ProviderOrderID,
		PaymentID:   req.ProviderPaymentID,
		Signature:   req.Signature,
		AmountMinor: req.Amount,
		Currency:    currency,
		Donor:       req.Donor.toModel(),
		ProjectID:   req.ProjectID,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
		Metadata: model.Metadata{
			Source:    "website",
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		h.handleServiceError(w, err, "confirm razorpay payment")
		return
	}

	h.writeJSON(w, http.StatusOK, confirmResponse{DonationID: res.DonationID, Recorded: true})
}

type donationResponse struct {
	ID            int64        `json:"id"`
	Donor         donorPayload `json:"donor"`
	Amount        float64      `json:"amount"`
	Currency      string       `json:"currency"`
	PaymentMethod string       `json:"paymentMethod"`
	PaymentStatus string       `json:"paymentStatus"`
	PaymentID     string       `json:"paymentId"`
	TransactionID string       `json:"transactionId,omitempty"`
	ProjectID     *int64       `json:"projectId,omitempty"`
	ProjectTitle  string       `json:"projectTitle,omitempty"`
	IsAnonymous   bool         `json:"isAnonymous"`
	Message       string       `json:"message,omitempty"`
	TaxReceipt    *taxReceipt  `json:"taxReceipt,omitempty"`
	CreatedAt     string       `json:"createdAt"`
}

type taxReceipt struct {
	Number   string     `json:"number"`
	IssuedAt *time.Time `json:"issuedAt,omitempty"`
}

type listResponse struct {
	Donations   []donationResponse `json:"donations"`
	Total       int64              `json:"total"`
	TotalPages  int64              `json:"totalPages"`
	CurrentPage int                `json:"currentPage"`
}

// ListDonations возвращает страницу пожертвований для администратора.
func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := repository.ListFilter{Page: 1, Limit: 10}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			h.writeError(w, http.StatusBadRequest, "Invalid page")
			return
		}
		f.Page = page
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		f.Limit = limit
	}
	if v := q.Get("status"); v != "" {
		switch s := model.PaymentStatus(v); s {
		case model.PaymentStatusPending, model.PaymentStatusCompleted,
			model.PaymentStatusFailed, model.PaymentStatusRefunded:
			f.Status = s
		default:
			h.writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
	}
	if v := q.Get("projectId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid projectId")
			return
		}
		f.ProjectID = &id
	}

	donations, total, err := h.service.ListDonations(r.Context(), f)
	if err != nil {
		h.handleServiceError(w, err, "list donations")
		return
	}

	resp := listResponse{
		Donations:   make([]donationResponse, 0, len(donations)),
		Total:       total,
		TotalPages:  (total + int64(f.Limit) - 1) / int64(f.Limit),
		CurrentPage: f.Page,
	}

	for _, d := range donations {
		item := donationResponse{
			ID: d.ID,
			Donor: donorPayload{
				FirstName: d.Donor.FirstName,
				LastName:  d.Donor.LastName,
				Email:     d.Donor.Email,
				Phone:     d.Donor.Phone,
			},
			Amount:        d.Amount,
			Currency:      string(d.Currency),
			PaymentMethod: string(d.PaymentMethod),
			PaymentStatus: string(d.PaymentStatus),
			PaymentID:     d.PaymentID,
			TransactionID: d.TransactionID,
			ProjectID:     d.ProjectID,
			ProjectTitle:  d.ProjectTitle,
			IsAnonymous:   d.IsAnonymous,
			Message:       d.Message,
			CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		}
		if d.TaxReceipt.Issued {
			item.TaxReceipt = &taxReceipt{
				Number:   d.TaxReceipt.Number,
				IssuedAt: d.TaxReceipt.IssuedAt,
			}
		}
		resp.Donations = append(resp.Donations, item)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetStats возвращает сводную статистику пожертвований.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDonationStats(r.Context())
	if err != nil {
		h.handleServiceError(w, err, "donation stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// Refund переводит пожертвование в статус refunded.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "donationID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid donation ID")
		return
	}

	if err := h.service.Refund(r.Context(), id); err != nil {
		h.handleServiceError(w, err, "refund donation")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"donationId": id,
		"status":     string(model.PaymentStatusRefunded),
	})
}

type taxReceiptRequest struct {
	Number string `json:"number"`
}

// IssueTaxReceipt проставляет номер налоговой квитанции пожертвования.
func (h *Handler) IssueTaxReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "donationID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid donation ID")
		return
	}

	var req taxReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number == "" {
		h.writeError(w, http.StatusBadRequest, "Receipt number is required")
		return
	}

	if err := h.service.IssueTaxReceipt(r.Context(), id, req.Number); err != nil {
		h.handleServiceError(w, err, "issue tax receipt")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"donationId": id,
		"number":     req.Number,
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// AdminLogin проверяет учётные данные администратора и устанавливает
// подписанный cookie сессии.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if h.admin.Login == "" || h.admin.Password == "" {
		h.writeError(w, http.StatusUnauthorized, "Admin access is not configured")
		return
	}

	loginOK := subtle.ConstantTimeCompare([]byte(req.Login), []byte(h.admin.Login)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.admin.Password)) == 1
	if !loginOK || !passwordOK {
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.authMiddleware.SetAuthCookie(w, 1)
	w.WriteHeader(http.StatusOK)
}
