// Package order validates and applies order status transitions.  The
// payment guard reads the ledger, never a client-supplied flag, and every
// accepted transition appends exactly one history row.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/metrics"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/queue"
	"github.com/iliyamo/import-brokerage/internal/repository"
)

var (
	// ErrInvalidTransition means to is not adjacent to the current status.
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrGuardNotSatisfied means a precondition beyond adjacency failed.
	ErrGuardNotSatisfied = errors.New("payment must be completed")
)

// PaymentSystemActor is recorded as changed_by for transitions driven by
// processor notifications.
const PaymentSystemActor = "system:payment-webhook"

// Store is the order persistence the machine needs.  repository.OrderRepo
// satisfies it.
type Store interface {
	Create(ctx context.Context, o *model.Order) error
	Get(ctx context.Context, id uuid.UUID) (model.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus, pay model.PaymentStatus, h model.OrderStatusHistory) error
	History(ctx context.Context, id uuid.UUID) ([]model.OrderStatusHistory, error)
}

// PaymentStatusSource is the ledger's authoritative view of an order.
type PaymentStatusSource interface {
	StatusOf(ctx context.Context, orderID uuid.UUID) (model.PaymentStatus, error)
}

// EventPublisher receives committed transitions.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, ev queue.OrderStatusChangedEvent) error
}

// Machine is the order state machine.
type Machine struct {
	store    Store
	payments PaymentStatusSource
	events   EventPublisher
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewMachine wires a Machine.  events may be nil.
func NewMachine(store Store, payments PaymentStatusSource, events EventPublisher, log *zap.SugaredLogger) *Machine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Machine{store: store, payments: payments, events: events, log: log, now: time.Now}
}

// Create places a new order in CREATED.
func (m *Machine) Create(ctx context.Context, o *model.Order) error {
	o.ShippingAddress = strings.TrimSpace(o.ShippingAddress)
	if o.UserID == uuid.Nil || o.VehicleID == uuid.Nil {
		return apperr.Validation("user and vehicle are required")
	}
	if o.ShippingAddress == "" {
		return apperr.Validation("shipping address is required")
	}
	if err := m.store.Create(ctx, o); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	m.log.Infow("order created", "order_id", o.ID, "user_id", o.UserID, "total", o.TotalCost.StringFixed(2))
	return nil
}

// Get loads one order.
func (m *Machine) Get(ctx context.Context, id uuid.UUID) (model.Order, error) {
	return m.store.Get(ctx, id)
}

// ListByUser lists a customer's orders.
func (m *Machine) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	return m.store.ListByUser(ctx, userID)
}

// History returns an order's audit trail.
func (m *Machine) History(ctx context.Context, id uuid.UUID) ([]model.OrderStatusHistory, error) {
	return m.store.History(ctx, id)
}

// ValidateTransition checks whether o may move to `to`.  For targets gated
// on payment the guard is evaluated first, so an unpaid order asking to
// skip ahead is told what it is missing rather than that the edge is
// absent.  A ledger failure rejects the transition.
func (m *Machine) ValidateTransition(ctx context.Context, o model.Order, to model.OrderStatus) error {
	_, err := m.validate(ctx, o, to)
	return err
}

func (m *Machine) validate(ctx context.Context, o model.Order, to model.OrderStatus) (model.PaymentStatus, error) {
	if !to.Valid() {
		return "", apperr.Validation("unknown status %q", to)
	}
	pay, err := m.payments.StatusOf(ctx, o.ID)
	if err != nil {
		return "", fmt.Errorf("payment status: %w", err)
	}
	if RequiresPayment(to) && !IsTerminal(o.Status) && pay != model.PaymentCompleted {
		return pay, ErrGuardNotSatisfied
	}
	if !IsValidTransition(o.Status, to) {
		return pay, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	return pay, nil
}

// Apply moves o to `to`, appends the history row and publishes the event.
// If another writer moved the order first it returns
// repository.ErrStaleStatus and nothing is written.
func (m *Machine) Apply(ctx context.Context, o model.Order, to model.OrderStatus, changedBy, notes string) (model.Order, error) {
	pay, err := m.validate(ctx, o, to)
	if err != nil {
		return model.Order{}, err
	}
	at := m.now().UTC()
	h := model.OrderStatusHistory{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   to,
		ChangedBy:  changedBy,
		Notes:      strings.TrimSpace(notes),
		At:         at,
	}
	if err := m.store.TransitionStatus(ctx, o.ID, o.Status, to, pay, h); err != nil {
		return model.Order{}, err
	}
	metrics.OrderTransitions.WithLabelValues(string(to)).Inc()
	m.log.Infow("order transition", "order_id", o.ID, "from", o.Status, "to", to, "changed_by", changedBy)

	from := o.Status
	o.Status = to
	o.PaymentStatus = pay
	o.UpdatedAt = at
	m.publish(ctx, o, from, h)
	return o, nil
}

// ConfirmPayment advances a CREATED order to PAYMENT_CONFIRMED once the
// ledger holds a completed payment.  Orders already past CREATED are
// returned unchanged, so repeated notifications are harmless.
func (m *Machine) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (model.Order, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.Status != model.StatusCreated {
		return o, nil
	}
	updated, err := m.Apply(ctx, o, model.StatusPaymentConfirmed, PaymentSystemActor, "payment completed")
	if errors.Is(err, repository.ErrStaleStatus) {
		return m.store.Get(ctx, orderID)
	}
	return updated, err
}

// publish hands the event to the broker.  Failures are logged and never
// undo the committed transition.
func (m *Machine) publish(ctx context.Context, o model.Order, from model.OrderStatus, h model.OrderStatusHistory) {
	if m.events == nil {
		return
	}
	ev := queue.OrderStatusChangedEvent{
		OrderID:      o.ID.String(),
		UserID:       o.UserID.String(),
		FromStatus:   string(from),
		ToStatus:     string(h.ToStatus),
		ChangedBy:    h.ChangedBy,
		Notes:        h.Notes,
		ContactName:  o.Contact.Name,
		ContactEmail: o.Contact.Email,
		ChangedAt:    h.At.Format(time.RFC3339),
	}
	if err := m.events.PublishStatusChanged(ctx, ev); err != nil {
		m.log.Warnw("order event publish failed", "order_id", o.ID, "to", h.ToStatus, "error", err)
	}
}
