package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/repository"
)

// memStore reproduces the payments table constraints under one mutex.  It
// also keeps order rows so an order.Machine can share it with the ledger.
type memStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]decimal.Decimal
	closed   map[uuid.UUID]bool
	payments []model.Payment
	creates  int

	rows    map[uuid.UUID]model.Order
	history []model.OrderStatusHistory
}

func newMemStore() *memStore {
	return &memStore{
		orders: map[uuid.UUID]decimal.Decimal{},
		closed: map[uuid.UUID]bool{},
		rows:   map[uuid.UUID]model.Order{},
	}
}

func (s *memStore) Create(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.Status = model.StatusCreated
	o.PaymentStatus = model.PaymentNone
	s.orders[o.ID] = o.TotalCost
	s.rows[o.ID] = *o
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return model.Order{}, repository.ErrOrderNotFound
	}
	return o, nil
}

func (s *memStore) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.rows {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to model.OrderStatus, pay model.PaymentStatus, h model.OrderStatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.Status != from {
		return repository.ErrStaleStatus
	}
	o.Status, o.PaymentStatus = to, pay
	s.rows[id] = o
	if to == model.StatusCancelled || to == model.StatusDelivered {
		s.closed[id] = true
	}
	h.ID = uint64(len(s.history) + 1)
	s.history = append(s.history, h)
	return nil
}

func (s *memStore) History(_ context.Context, id uuid.UUID) ([]model.OrderStatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderStatusHistory
	for _, h := range s.history {
		if h.OrderID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) addOrder(total string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.orders[id] = decimal.RequireFromString(total)
	return id
}

func (s *memStore) GetByIdempotencyKey(_ context.Context, key string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	return model.Payment{}, repository.ErrPaymentNotFound
}

func (s *memStore) GetCompletedForOrder(_ context.Context, orderID uuid.UUID) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status == model.PaymentCompleted {
			return p, nil
		}
	}
	return model.Payment{}, repository.ErrPaymentNotFound
}

func (s *memStore) CreatePending(_ context.Context, p model.Payment) (model.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.payments {
		if e.IdempotencyKey == p.IdempotencyKey {
			return e, true, nil
		}
	}
	total, ok := s.orders[p.OrderID]
	if !ok {
		return model.Payment{}, false, repository.ErrOrderNotFound
	}
	if s.closed[p.OrderID] {
		return model.Payment{}, false, repository.ErrOrderClosed
	}
	for _, e := range s.payments {
		if e.OrderID != p.OrderID {
			continue
		}
		switch e.Status {
		case model.PaymentCompleted:
			return model.Payment{}, false, repository.ErrAlreadyPaid
		case model.PaymentPending:
			return model.Payment{}, false, repository.ErrPendingPaymentExists
		}
	}
	s.creates++
	p.ID = uuid.New()
	p.Amount = total
	p.Status = model.PaymentPending
	s.payments = append(s.payments, p)
	return p, false, nil
}

func (s *memStore) Complete(_ context.Context, c repository.Completion) (model.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == c.ExternalPaymentID {
			return p, true, nil
		}
	}
	pending := -1
	for i, p := range s.payments {
		if p.OrderID != c.OrderID {
			continue
		}
		if p.Status == model.PaymentCompleted {
			return model.Payment{}, false, repository.ErrDuplicateCompletion
		}
		if p.Status == model.PaymentPending {
			pending = i
		}
	}
	if pending < 0 {
		return model.Payment{}, false, repository.ErrPaymentNotFound
	}
	p := s.payments[pending]
	if !p.Amount.Equal(c.Amount) || p.Currency != c.Currency {
		return model.Payment{}, false, repository.ErrAmountMismatch
	}
	ext := c.ExternalPaymentID
	at := c.At
	p.Status = model.PaymentCompleted
	p.ExternalPaymentID = &ext
	p.PaymentMethod = c.Method
	p.CardLast4 = c.CardLast4
	p.CompletedAt = &at
	s.payments[pending] = p
	return p, false, nil
}

func (s *memStore) MarkFailed(_ context.Context, orderID uuid.UUID, externalID string, _ time.Time) (model.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalPaymentID != nil && *p.ExternalPaymentID == externalID {
			return p, true, nil
		}
	}
	for i, p := range s.payments {
		if p.OrderID == orderID && p.Status == model.PaymentPending {
			ext := externalID
			p.Status = model.PaymentFailed
			p.ExternalPaymentID = &ext
			s.payments[i] = p
			return p, false, nil
		}
	}
	return model.Payment{}, false, repository.ErrPaymentNotFound
}

func (s *memStore) StatusOf(_ context.Context, orderID uuid.UUID) (model.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := model.PaymentNone
	for _, p := range s.payments {
		if p.OrderID != orderID {
			continue
		}
		switch {
		case p.Status == model.PaymentCompleted:
			return model.PaymentCompleted, nil
		case p.Status == model.PaymentPending:
			best = model.PaymentPending
		case best == model.PaymentNone:
			best = p.Status
		}
	}
	return best, nil
}

func (s *memStore) completedCount(orderID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status == model.PaymentCompleted {
			n++
		}
	}
	return n
}

type confirmRecorder struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (c *confirmRecorder) ConfirmPayment(_ context.Context, orderID uuid.UUID) (model.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, orderID)
	return model.Order{ID: orderID, Status: model.StatusPaymentConfirmed}, nil
}
