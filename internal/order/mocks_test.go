package order

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/queue"
	"github.com/iliyamo/import-brokerage/internal/repository"
)

type memStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]model.Order
	history []model.OrderStatusHistory
}

func newMemStore() *memStore { return &memStore{orders: map[uuid.UUID]model.Order{}} }

func (s *memStore) Create(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.Status = model.StatusCreated
	o.PaymentStatus = model.PaymentNone
	s.orders[o.ID] = *o
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, repository.ErrOrderNotFound
	}
	return o, nil
}

func (s *memStore) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to model.OrderStatus, pay model.PaymentStatus, h model.OrderStatusHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.Status != from {
		return repository.ErrStaleStatus
	}
	o.Status, o.PaymentStatus = to, pay
	s.orders[id] = o
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

type fakeLedger struct {
	mu     sync.Mutex
	status map[uuid.UUID]model.PaymentStatus
	err    error
}

func (l *fakeLedger) set(id uuid.UUID, s model.PaymentStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == nil {
		l.status = map[uuid.UUID]model.PaymentStatus{}
	}
	l.status[id] = s
}

func (l *fakeLedger) StatusOf(_ context.Context, id uuid.UUID) (model.PaymentStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if s, ok := l.status[id]; ok {
		return s, nil
	}
	return model.PaymentNone, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderStatusChangedEvent
	fail   bool
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, ev queue.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, ev)
	return nil
}
