// Package payments manages fiat gateway orders: deposits, payouts, bill
// payments and voucher purchases. Debit-funded orders reserve the balance
// before the order opens; a failed or cancelled order is refunded before
// its local status changes so a crash between the two replays the refund
// as a locked no-op instead of losing it.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-exchange/exchange_service/internal/adapters/fiatgateway"
	"github.com/meridian-exchange/exchange_service/internal/adapters/voucher"
	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/ledger"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

// PaymentStore is the payment persistence the service needs.
type PaymentStore interface {
	Create(ctx context.Context, payment *entities.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entities.PaymentStatus) error
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]entities.Payment, error)
}

// LedgerEngine is the balance engine surface the service needs.
type LedgerEngine interface {
	Credit(ctx context.Context, req ledger.CreditRequest) (*entities.LedgerTransaction, error)
	Debit(ctx context.Context, req ledger.DebitRequest) (*entities.LedgerTransaction, error)
	RefundPayment(ctx context.Context, req ledger.RefundRequest) (*entities.LedgerTransaction, error)
}

// Service orchestrates fiat gateway orders.
type Service struct {
	payments PaymentStore
	ledger   LedgerEngine
	gateway  fiatgateway.Gateway
	vouchers voucher.Provider
	logger   *logger.Logger
}

func NewService(payments PaymentStore, le LedgerEngine, gateway fiatgateway.Gateway, vouchers voucher.Provider, log *logger.Logger) *Service {
	return &Service{payments: payments, ledger: le, gateway: gateway, vouchers: vouchers, logger: log}
}

// CreateRequest describes an order to open.
type CreateRequest struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Kind      entities.PaymentKind
	Amount    decimal.Decimal
	Currency  string
}

// CreateDeposit opens a fiat deposit order. The account is credited only
// when the gateway reports success.
func (s *Service) CreateDeposit(ctx context.Context, req CreateRequest) (*entities.Payment, error) {
	req.Kind = entities.PaymentKindDeposit
	return s.openOrder(ctx, req)
}

// CreatePayout opens a payout or bill payment order. The amount is
// debited first; the gateway order only opens against reserved funds.
func (s *Service) CreatePayout(ctx context.Context, req CreateRequest) (*entities.Payment, error) {
	if req.Kind != entities.PaymentKindPayout && req.Kind != entities.PaymentKindBillPayment {
		return nil, domainerrors.Validation("INVALID_KIND", fmt.Sprintf("kind %s is not a payout", req.Kind))
	}

	payment, err := s.openOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Debit(ctx, ledger.DebitRequest{
		AccountID: req.AccountID,
		UserID:    req.UserID,
		Kind:      entities.TransactionKindBillPayment,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: "payment:" + payment.ProviderRef,
	}); err != nil {
		// Funds never left; mark the order failed locally.
		if updateErr := s.payments.UpdateStatus(ctx, payment.ID, entities.PaymentStatusFailed); updateErr != nil {
			s.logger.Error("Failed to fail unfunded payout", "payment_id", payment.ID, "error", updateErr)
		}
		return nil, err
	}

	return payment, nil
}

// VoucherRequest describes a voucher purchase funded from a ledger
// balance.
type VoucherRequest struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	ProductID string
	Amount    decimal.Decimal
	Currency  string
	Recipient string
}

// PurchaseVoucher debits the account, orders the voucher and refunds the
// debit when fulfillment fails.
func (s *Service) PurchaseVoucher(ctx context.Context, req VoucherRequest) (*voucher.Voucher, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, domainerrors.Validation("INVALID_AMOUNT", "voucher amount must be positive")
	}

	reference := uuid.New().String()
	payment := &entities.Payment{
		ID:          uuid.New(),
		UserID:      req.UserID,
		AccountID:   req.AccountID,
		Kind:        entities.PaymentKindVoucher,
		ProviderRef: reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      entities.PaymentStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	if _, err := s.ledger.Debit(ctx, ledger.DebitRequest{
		AccountID: req.AccountID,
		UserID:    req.UserID,
		Kind:      entities.TransactionKindBillPayment,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: "payment:" + reference,
	}); err != nil {
		if updateErr := s.payments.UpdateStatus(ctx, payment.ID, entities.PaymentStatusFailed); updateErr != nil {
			s.logger.Error("Failed to fail unfunded voucher order", "payment_id", payment.ID, "error", updateErr)
		}
		return nil, err
	}

	issued, err := s.vouchers.Purchase(ctx, voucher.PurchaseRequest{
		Reference: reference,
		ProductID: req.ProductID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Recipient: req.Recipient,
	})
	if err != nil {
		if _, refundErr := s.ledger.RefundPayment(ctx, ledger.RefundRequest{
			PaymentID: payment.ID,
			Reason:    "voucher fulfillment failed",
		}); refundErr != nil && !domainerrors.IsConsistency(refundErr) {
			s.logger.Error("Voucher refund failed", "payment_id", payment.ID, "error", refundErr)
		}
		if updateErr := s.payments.UpdateStatus(ctx, payment.ID, entities.PaymentStatusFailed); updateErr != nil {
			s.logger.Error("Failed to fail voucher order", "payment_id", payment.ID, "error", updateErr)
		}
		return nil, domainerrors.Transient("purchase voucher", err)
	}

	if err := s.payments.UpdateStatus(ctx, payment.ID, entities.PaymentStatusCompleted); err != nil {
		s.logger.Error("Failed to complete voucher order", "payment_id", payment.ID, "error", err)
	}

	s.logger.Info("Voucher purchased", "payment_id", payment.ID, "product_id", req.ProductID)
	return issued, nil
}

func (s *Service) openOrder(ctx context.Context, req CreateRequest) (*entities.Payment, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, domainerrors.Validation("INVALID_AMOUNT", "order amount must be positive")
	}

	order, err := s.gateway.CreateOrder(ctx, fiatgateway.CreateOrderRequest{
		Reference: uuid.New().String(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Kind:      string(req.Kind),
	})
	if err != nil {
		return nil, domainerrors.Transient("create order", err)
	}

	payment := &entities.Payment{
		ID:          uuid.New(),
		UserID:      req.UserID,
		AccountID:   req.AccountID,
		Kind:        req.Kind,
		ProviderRef: order.ProviderRef,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      entities.PaymentStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Info("Payment order opened",
		"payment_id", payment.ID, "kind", payment.Kind, "provider_ref", payment.ProviderRef)
	return payment, nil
}

// JobPaymentStatusPoll is the queue job name for the pending-status
// sweep. The scheduler enqueues it as a singleton so a slow sweep never
// overlaps the next one.
const JobPaymentStatusPoll = "payment-status-poll"

// HandleStatusPoll is the queue handler for the sweep.
func (s *Service) HandleStatusPoll(ctx context.Context, payload []byte) error {
	return s.PollPending(ctx, DefaultPollerConfig())
}

// PollerConfig controls the pending-status sweep.
type PollerConfig struct {
	MinAge    time.Duration
	BatchSize int
}

// DefaultPollerConfig returns the sweep defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{MinAge: 2 * time.Minute, BatchSize: 50}
}

// PollPending reconciles pending orders against the gateway. Webhook
// delivery is the primary path; the sweep covers deliveries that never
// arrived. Terminal and unchanged orders are skipped.
func (s *Service) PollPending(ctx context.Context, cfg PollerConfig) error {
	pending, err := s.payments.ListPending(ctx, cfg.MinAge, cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, payment := range pending {
		if err := s.reconcile(ctx, payment); err != nil {
			s.logger.Warn("Payment reconciliation failed",
				"payment_id", payment.ID, "provider_ref", payment.ProviderRef, "error", err)
		}
	}
	return nil
}

func (s *Service) reconcile(ctx context.Context, payment entities.Payment) error {
	status, err := s.gateway.QueryStatus(ctx, payment.ProviderRef)
	if err != nil {
		return domainerrors.Transient("query status", err)
	}

	mapped, err := entities.StatusFromProviderCode(status.Status)
	if err != nil {
		return domainerrors.Validation("UNKNOWN_STATUS", err.Error())
	}
	if mapped == payment.Status {
		return nil
	}

	switch mapped {
	case entities.PaymentStatusCompleted:
		if payment.Kind == entities.PaymentKindDeposit {
			if _, err := s.ledger.Credit(ctx, ledger.CreditRequest{
				AccountID: payment.AccountID,
				UserID:    payment.UserID,
				Kind:      entities.TransactionKindDeposit,
				Amount:    payment.Amount,
				Currency:  payment.Currency,
				Reference: "payment:" + payment.ProviderRef,
			}); err != nil && !domainerrors.IsConsistency(err) {
				return err
			}
		}

	case entities.PaymentStatusFailed, entities.PaymentStatusCancelled:
		// Refund before the status write.
		if payment.Kind != entities.PaymentKindDeposit {
			if _, err := s.ledger.RefundPayment(ctx, ledger.RefundRequest{
				PaymentID: payment.ID,
				Reason:    "provider reported " + string(mapped),
			}); err != nil && !domainerrors.IsConsistency(err) {
				return err
			}
		}
	}

	if err := s.payments.UpdateStatus(ctx, payment.ID, mapped); err != nil {
		return err
	}

	s.logger.Info("Payment reconciled",
		"payment_id", payment.ID, "provider_ref", payment.ProviderRef, "status", mapped)
	return nil
}
