// Package payment records payment attempts and processor notifications.
// A payment is created once per idempotency key and an order carries at
// most one COMPLETED payment; both rules are enforced by the store.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/metrics"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/repository"
)

var (
	// ErrInvalidSignature rejects a notification outright.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrDuplicateCompletion means the order was already completed by a
	// different processor payment.
	ErrDuplicateCompletion = errors.New("order already has a different completed payment")
)

// Processor status codes carried by notifications.
const (
	StatusSuccess    = 2
	StatusPending    = 0
	StatusCancelled  = -1
	StatusFailed     = -2
	StatusChargeback = -3
)

// Store is the payment persistence.  repository.PaymentRepo satisfies it.
type Store interface {
	GetByIdempotencyKey(ctx context.Context, key string) (model.Payment, error)
	GetCompletedForOrder(ctx context.Context, orderID uuid.UUID) (model.Payment, error)
	CreatePending(ctx context.Context, p model.Payment) (model.Payment, bool, error)
	Complete(ctx context.Context, c repository.Completion) (model.Payment, bool, error)
	MarkFailed(ctx context.Context, orderID uuid.UUID, externalID string, at time.Time) (model.Payment, bool, error)
	StatusOf(ctx context.Context, orderID uuid.UUID) (model.PaymentStatus, error)
}

// OrderConfirmer advances an order once its payment completes.
type OrderConfirmer interface {
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (model.Order, error)
}

// Notification is a processor webhook delivery.
type Notification struct {
	MerchantID      string
	OrderID         string
	PaymentID       string
	Amount          string
	Currency        string
	StatusCode      int
	Signature       string
	Method          string
	CardLast4       string
}

// Outcome classifies how a notification was handled.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// WebhookResult is returned for every accepted notification.  Payment is
// the row the notification resolved to, zero for OutcomeIgnored.
type WebhookResult struct {
	Outcome Outcome
	Payment model.Payment
}

// Config holds the merchant credentials.
type Config struct {
	MerchantID     string
	MerchantSecret string
	Currency       string
}

// Ledger is the payment ledger.
type Ledger struct {
	store  Store
	orders OrderConfirmer
	cfg    Config
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewLedger wires a Ledger.  orders may be nil, in which case completed
// payments do not advance orders.
func NewLedger(store Store, orders OrderConfirmer, cfg Config, log *zap.SugaredLogger) *Ledger {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{store: store, orders: orders, cfg: cfg, log: log, now: time.Now}
}

// Initiate creates a PENDING payment for the order under key.  If a payment
// already exists for key it is returned unchanged with replayed=true.  A
// key already used by another user is refused.
func (l *Ledger) Initiate(ctx context.Context, userID, orderID uuid.UUID, key string) (model.Payment, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 128 {
		return model.Payment{}, false, apperr.Validation("idempotency key must be 1-128 characters")
	}

	existing, err := l.store.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return model.Payment{}, false, repository.ErrIdempotencyKeyExists
		}
		metrics.PaymentInitiations.WithLabelValues("true").Inc()
		return existing, true, nil
	case !errors.Is(err, repository.ErrPaymentNotFound):
		return model.Payment{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	p, replayed, err := l.store.CreatePending(ctx, model.Payment{
		OrderID:        orderID,
		UserID:         userID,
		IdempotencyKey: key,
		Currency:       l.cfg.Currency,
	})
	if err != nil {
		return model.Payment{}, false, err
	}
	if replayed && p.UserID != userID {
		return model.Payment{}, false, repository.ErrIdempotencyKeyExists
	}
	metrics.PaymentInitiations.WithLabelValues(strconv.FormatBool(replayed)).Inc()
	if !replayed {
		l.log.Infow("payment initiated", "payment_id", p.ID, "order_id", orderID, "amount", p.Amount.StringFixed(2))
	}
	return p, replayed, nil
}

// StatusOf returns the ledger's aggregate payment status for an order.
func (l *Ledger) StatusOf(ctx context.Context, orderID uuid.UUID) (model.PaymentStatus, error) {
	return l.store.StatusOf(ctx, orderID)
}

// RecordWebhookResult verifies and records a processor notification.  The
// signature is checked before anything is read or written.  Repeated
// deliveries of one notification resolve to the first outcome.
func (l *Ledger) RecordWebhookResult(ctx context.Context, n Notification) (WebhookResult, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(n.Amount))
	if err != nil {
		l.countWebhook("invalid")
		return WebhookResult{}, apperr.Validation("invalid amount %q", n.Amount)
	}
	if n.MerchantID != l.cfg.MerchantID ||
		n.Signature != Signature(n.MerchantID, n.OrderID, amount, n.Currency, n.StatusCode, l.cfg.MerchantSecret) {
		l.countWebhook("invalid_signature")
		l.log.Warnw("webhook signature rejected", "order_id", n.OrderID, "payment_id", n.PaymentID)
		return WebhookResult{}, ErrInvalidSignature
	}
	orderID, err := uuid.Parse(n.OrderID)
	if err != nil {
		l.countWebhook("invalid")
		return WebhookResult{}, apperr.Validation("invalid order id %q", n.OrderID)
	}
	if strings.TrimSpace(n.PaymentID) == "" {
		l.countWebhook("invalid")
		return WebhookResult{}, apperr.Validation("payment id required")
	}

	switch n.StatusCode {
	case StatusSuccess:
		return l.complete(ctx, orderID, amount, n)
	case StatusCancelled, StatusFailed, StatusChargeback:
		p, duplicate, err := l.store.MarkFailed(ctx, orderID, n.PaymentID, l.now())
		if errors.Is(err, repository.ErrPaymentNotFound) {
			l.countWebhook(string(OutcomeIgnored))
			l.log.Infow("failure notice without pending payment", "order_id", orderID, "status_code", n.StatusCode)
			return WebhookResult{Outcome: OutcomeIgnored}, nil
		}
		if err != nil {
			return WebhookResult{}, fmt.Errorf("mark payment failed: %w", err)
		}
		outcome := OutcomeFailed
		if duplicate {
			outcome = OutcomeDuplicate
		}
		l.countWebhook(string(outcome))
		return WebhookResult{Outcome: outcome, Payment: p}, nil
	case StatusPending:
		l.countWebhook(string(OutcomeIgnored))
		return WebhookResult{Outcome: OutcomeIgnored}, nil
	}
	l.countWebhook("invalid")
	return WebhookResult{}, apperr.Validation("unknown status code %d", n.StatusCode)
}

func (l *Ledger) complete(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, n Notification) (WebhookResult, error) {
	method := n.Method
	if method == "" {
		method = "card"
	}
	p, duplicate, err := l.store.Complete(ctx, repository.Completion{
		OrderID:           orderID,
		ExternalPaymentID: n.PaymentID,
		Amount:            amount,
		Currency:          n.Currency,
		Method:            method,
		CardLast4:         n.CardLast4,
		At:                l.now(),
	})
	if errors.Is(err, repository.ErrDuplicateCompletion) {
		prior, gerr := l.store.GetCompletedForOrder(ctx, orderID)
		if gerr != nil {
			return WebhookResult{}, fmt.Errorf("load completed payment: %w", gerr)
		}
		if prior.ExternalPaymentID == nil || *prior.ExternalPaymentID != n.PaymentID {
			l.countWebhook("conflict")
			l.log.Warnw("second completion refused", "order_id", orderID, "payment_id", n.PaymentID, "completed_by", prior.ID)
			return WebhookResult{}, ErrDuplicateCompletion
		}
		p, duplicate, err = prior, true, nil
	}
	if errors.Is(err, repository.ErrAmountMismatch) {
		l.countWebhook("amount_mismatch")
		l.log.Warnw("webhook amount mismatch", "order_id", orderID, "payment_id", n.PaymentID, "amount", n.Amount, "currency", n.Currency)
		return WebhookResult{}, err
	}
	if err != nil {
		return WebhookResult{}, fmt.Errorf("complete payment: %w", err)
	}

	outcome := OutcomeCompleted
	if duplicate {
		outcome = OutcomeDuplicate
	} else {
		l.log.Infow("payment completed", "payment_id", p.ID, "order_id", orderID, "external_id", n.PaymentID)
	}
	l.countWebhook(string(outcome))

	// Redeliveries also retry the order step in case it failed earlier.
	if l.orders != nil && p.Status == model.PaymentCompleted {
		if _, err := l.orders.ConfirmPayment(ctx, orderID); err != nil {
			l.log.Errorw("order confirmation after payment failed", "order_id", orderID, "error", err)
		}
	}
	return WebhookResult{Outcome: outcome, Payment: p}, nil
}

func (l *Ledger) countWebhook(outcome string) {
	metrics.PaymentWebhooks.WithLabelValues(outcome).Inc()
}
