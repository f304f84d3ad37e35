// Package service реализует бизнес-логику сервиса пожертвований.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/ecofund-system/internal/gateway"
	"github.com/mmeshcher/ecofund-system/internal/model"
	"github.com/mmeshcher/ecofund-system/internal/repository"
)

// ErrUnknownProvider возвращается при обращении к неизвестному платёжному провайдеру.
var ErrUnknownProvider = errors.New("unknown payment provider")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateDonation(ctx context.Context, d *model.Donation) (int64, bool, error)
	GetDonationByPaymentRef(ctx context.Context, method model.PaymentMethod, paymentID string) (*model.Donation, error)
	ListDonations(ctx context.Context, f repository.ListFilter) ([]model.Donation, int64, error)
	GetDonationStats(ctx context.Context) (*model.DonationStats, error)
	RefundDonation(ctx context.Context, id int64) (float64, *int64, error)
	IssueTaxReceipt(ctx context.Context, id int64, number string) error
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ApplyBudgetDelta(ctx context.Context, projectID int64, delta float64) error
	GetDriftedProjects(ctx context.Context) ([]repository.ProjectDrift, error)
	RepairProjectRaised(ctx context.Context, projectID int64) error
}

// StripeGateway описывает используемые операции шлюза Stripe.
type StripeGateway interface {
	CreateIntent(ctx context.Context, amount float64, currency model.Currency, donorEmail string, projectID *int64) (*gateway.Intent, error)
	VerifyPayment(ctx context.Context, intentID string) (*model.VerifiedPayment, error)
}

// RazorpayGateway описывает используемые операции шлюза Razorpay.
type RazorpayGateway interface {
	CreateOrder(ctx context.Context, amount float64, currency model.Currency, donorEmail string, projectID *int64) (*gateway.Order, error)
	VerifySignature(orderID, paymentID, signature string) error
}

// Service содержит бизнес-логику сервиса пожертвований.
type Service struct {
	repo              Repository
	stripe            StripeGateway
	razorpay          RazorpayGateway
	logger            *zap.Logger
	reconcileInterval time.Duration
}

// NewService создаёт сервис с указанным репозиторием и клиентами платёжных шлюзов.
func NewService(repo Repository, stripe StripeGateway, razorpay RazorpayGateway, logger *zap.Logger, reconcileInterval time.Duration) *Service {
	return &Service{
		repo:              repo,
		stripe:            stripe,
		razorpay:          razorpay,
		logger:            logger,
		reconcileInterval: reconcileInterval,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateIntent создаёт платёжное намерение у выбранного провайдера.
// Локальная запись не создаётся: пожертвование появляется в реестре
// только после проверенного подтверждения.
func (s *Service) CreateIntent(ctx context.Context, method model.PaymentMethod, amount float64, currency model.Currency, donor model.Donor, projectID *int64) (*gateway.Intent, error) {
	if err := s.checkProject(ctx, projectID); err != nil {
		return nil, err
	}

	switch method {
	case model.PaymentMethodStripe:
		return s.stripe.CreateIntent(ctx, amount, currency, donor.Email, projectID)
	case model.PaymentMethodRazorpay:
		order, err := s.razorpay.CreateOrder(ctx, amount, currency, donor.Email, projectID)
		if err != nil {
			return nil, err
		}
		return &gateway.Intent{
			ClientToken:     order.OrderID,
			ProviderOrderID: order.OrderID,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, method)
	}
}

// ConfirmStripeRequest — данные запроса подтверждения платежа Stripe.
// Сумма и валюта из запроса не используются для записи: их источник —
// объект платежа, перечитанный у провайдера.
type ConfirmStripeRequest struct {
	PaymentIntentID string
	Donor           model.Donor
	ProjectID       *int64
	Message         string
	IsAnonymous     bool
	Recurring       *model.RecurringDetails
	Metadata        model.Metadata
}

// ConfirmRazorpayRequest — данные запроса подтверждения платежа Razorpay.
// AmountMinor — сумма в минимальных единицах, как её передаёт провайдер.
type ConfirmRazorpayRequest struct {
	OrderID     string
	PaymentID   string
	Signature   string
	AmountMinor int64
	Currency    model.Currency
	Donor       model.Donor
	ProjectID   *int64
	Message     string
	IsAnonymous bool
	Recurring   *model.RecurringDetails
	Metadata    model.Metadata
}

// ConfirmResult — итог подтверждения: идентификатор записи реестра и
// признак того, что запись создана этим вызовом, а не найдена по ключу
// идемпотентности.
type ConfirmResult struct {
	DonationID int64
	Created    bool
}

// ConfirmStripe проверяет платёж у Stripe и идемпотентно записывает
// пожертвование в реестр.
func (s *Service) ConfirmStripe(ctx context.Context, req ConfirmStripeRequest) (*ConfirmResult, error) {
	if res, ok, err := s.findExisting(ctx, model.PaymentMethodStripe, req.PaymentIntentID); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	if err := s.checkProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	vp, err := s.stripe.VerifyPayment(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	return s.record(ctx, vp, &model.Donation{
		Donor:       req.Donor,
		ProjectID:   req.ProjectID,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
		Recurring:   req.Recurring,
		Metadata:    req.Metadata,
	})
}

// ConfirmRazorpay проверяет подпись подтверждения Razorpay и идемпотентно
// записывает пожертвование в реестр. Подпись покрывает только пару
// идентификаторов заказа и платежа, поэтому записываемая сумма остаётся
// заявленной клиентом.
func (s *Service) ConfirmRazorpay(ctx context.Context, req ConfirmRazorpayRequest) (*ConfirmResult, error) {
	if res, ok, err := s.findExisting(ctx, model.PaymentMethodRazorpay, req.PaymentID); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	if err := s.checkProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	if err := s.razorpay.VerifySignature(req.OrderID, req.PaymentID, req.Signature); err != nil {
		return nil, err
	}

	vp := &model.VerifiedPayment{
		Method:        model.PaymentMethodRazorpay,
		PaymentID:     req.PaymentID,
		TransactionID: req.OrderID,
		Amount:        gateway.MajorUnits(req.AmountMinor),
		Currency:      req.Currency,
	}

	return s.record(ctx, vp, &model.Donation{
		Donor:       req.Donor,
		ProjectID:   req.ProjectID,
		Message:     req.Message,
		IsAnonymous: req.IsAnonymous,
		Recurring:   req.Recurring,
		Metadata:    req.Metadata,
	})
}

// checkProject проверяет, что указанный проект существует. Ссылка на проект —
// внешний ключ, поэтому неизвестный проект должен быть отклонён до обращения
// к провайдеру и до записи в реестр, а не падать на вставке.
func (s *Service) checkProject(ctx context.Context, projectID *int64) error {
	if projectID == nil {
		return nil
	}
	if _, err := s.repo.GetProject(ctx, *projectID); err != nil {
		return err
	}
	return nil
}

// findExisting — ранняя идемпотентная проверка: при повторной доставке
// подтверждения возвращается исходный результат без обращения к провайдеру.
func (s *Service) findExisting(ctx context.Context, method model.PaymentMethod, paymentID string) (*ConfirmResult, bool, error) {
	existing, err := s.repo.GetDonationByPaymentRef(ctx, method, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrDonationNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &ConfirmResult{DonationID: existing.ID}, true, nil
}

func (s *Service) record(ctx context.Context, vp *model.VerifiedPayment, d *model.Donation) (*ConfirmResult, error) {
	d.Amount = vp.Amount
	d.Currency = vp.Currency
	d.PaymentMethod = vp.Method
	d.PaymentID = vp.PaymentID
	d.TransactionID = vp.TransactionID
	d.PaymentStatus = model.PaymentStatusCompleted

	id, created, err := s.repo.CreateDonation(ctx, d)
	if err != nil {
		return nil, err
	}

	if created && d.ProjectID != nil {
		// Запись реестра уже зафиксирована. Если инкремент агрегата не
		// прошёл, повторять его здесь нельзя — расхождение закрывает
		// фоновая сверка.
		if err := s.repo.ApplyBudgetDelta(ctx, *d.ProjectID, d.Amount); err != nil {
			s.logger.Warn("budget increment not applied",
				zap.Int64("donationID", id),
				zap.Int64("projectID", *d.ProjectID),
				zap.Error(err))
		}
	}

	return &ConfirmResult{DonationID: id, Created: created}, nil
}

// Refund переводит пожертвование в статус refunded и применяет
// компенсирующее уменьшение агрегата проекта.
func (s *Service) Refund(ctx context.Context, donationID int64) error {
	amount, projectID, err := s.repo.RefundDonation(ctx, donationID)
	if err != nil {
		return err
	}

	if projectID != nil {
		if err := s.repo.ApplyBudgetDelta(ctx, *projectID, -amount); err != nil {
			s.logger.Warn("budget decrement not applied",
				zap.Int64("donationID", donationID),
				zap.Int64("projectID", *projectID),
				zap.Error(err))
		}
	}

	return nil
}

// IssueTaxReceipt проставляет сведения о налоговой квитанции пожертвования.
func (s *Service) IssueTaxReceipt(ctx context.Context, donationID int64, number string) error {
	return s.repo.IssueTaxReceipt(ctx, donationID, number)
}

// ListDonations возвращает страницу пожертвований по фильтру.
func (s *Service) ListDonations(ctx context.Context, f repository.ListFilter) ([]model.Donation, int64, error) {
	return s.repo.ListDonations(ctx, f)
}

// GetDonationStats возвращает сводную статистику по реестру.
func (s *Service) GetDonationStats(ctx context.Context) (*model.DonationStats, error) {
	return s.repo.GetDonationStats(ctx)
}
