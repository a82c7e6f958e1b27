package handler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/import-brokerage/internal/credential"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/payment"
	"github.com/iliyamo/import-brokerage/internal/repository"
	"github.com/iliyamo/import-brokerage/internal/utils"
)

// stubAuth maps bearer tokens to principals.
type stubAuth map[string]credential.Principal

func (s stubAuth) ValidateAccess(_ context.Context, raw string) (credential.Principal, error) {
	p, ok := s[raw]
	if !ok {
		return credential.Principal{}, utils.ErrTokenSignature
	}
	return p, nil
}

type fakeCreds struct {
	mu         sync.Mutex
	pair       credential.TokenPair
	loginErr   error
	refreshErr error
	requested  []string
	loggedOut  []string
	revokedAll map[uuid.UUID]string
	sessions   []credential.SessionView
}

func (f *fakeCreds) RequestOTP(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, email)
	return nil
}

func (f *fakeCreds) Login(_ context.Context, _, _ string, _ credential.ClientMeta) (credential.TokenPair, error) {
	return f.pair, f.loginErr
}

func (f *fakeCreds) Refresh(context.Context, string) (credential.TokenPair, error) {
	return f.pair, f.refreshErr
}

func (f *fakeCreds) Logout(_ context.Context, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, raw)
	return nil
}

func (f *fakeCreds) ListSessions(_ context.Context, _, current uuid.UUID) ([]credential.SessionView, error) {
	out := make([]credential.SessionView, len(f.sessions))
	for i, s := range f.sessions {
		out[i] = credential.SessionView{Session: s.Session, Current: s.ID == current}
	}
	return out, nil
}

func (f *fakeCreds) CurrentSessions(ctx context.Context, userID uuid.UUID) ([]credential.SessionView, error) {
	return f.ListSessions(ctx, userID, uuid.Nil)
}

func (f *fakeCreds) RevokeSession(_ context.Context, _, sessionID uuid.UUID, _ string) error {
	for _, s := range f.sessions {
		if s.ID == sessionID {
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (f *fakeCreds) RevokeAll(_ context.Context, userID uuid.UUID, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokedAll == nil {
		f.revokedAll = make(map[uuid.UUID]string)
	}
	f.revokedAll[userID] = reason
	return int64(len(f.sessions)), nil
}

type memOrders struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]model.Order
	applyErr error
	applied  []string
}

func newMemOrders(list ...model.Order) *memOrders {
	m := &memOrders{orders: make(map[uuid.UUID]model.Order)}
	for _, o := range list {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Create(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(o.ShippingAddress) == "" {
		return repository.ErrVehicleNotFound
	}
	o.ID = uuid.New()
	o.Status = model.StatusCreated
	o.PaymentStatus = model.PaymentNone
	o.TotalCost = decimal.NewFromInt(1500)
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrders) Get(_ context.Context, id uuid.UUID) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, repository.ErrOrderNotFound
	}
	return o, nil
}

func (m *memOrders) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) History(_ context.Context, id uuid.UUID) ([]model.OrderStatusHistory, error) {
	return []model.OrderStatusHistory{}, nil
}

func (m *memOrders) Apply(_ context.Context, o model.Order, to model.OrderStatus, changedBy, _ string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return model.Order{}, m.applyErr
	}
	o.Status = to
	m.orders[o.ID] = o
	m.applied = append(m.applied, changedBy+":"+string(to))
	return o, nil
}

type memUsers map[uuid.UUID]model.User

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	u, ok := m[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

type fakeLedger struct {
	mu          sync.Mutex
	initiateErr error
	initiated   int
	webhookErr  error
	notices     []payment.Notification
	status      model.PaymentStatus
}

func (l *fakeLedger) Initiate(_ context.Context, userID, orderID uuid.UUID, key string) (model.Payment, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initiateErr != nil {
		return model.Payment{}, false, l.initiateErr
	}
	l.initiated++
	return model.Payment{
		ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)),
		OrderID:        orderID,
		UserID:         userID,
		IdempotencyKey: key,
		Amount:         decimal.NewFromInt(1500),
		Currency:       "USD",
		Status:         model.PaymentPending,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}, false, nil
}

func (l *fakeLedger) StatusOf(context.Context, uuid.UUID) (model.PaymentStatus, error) {
	return l.status, nil
}

func (l *fakeLedger) RecordWebhookResult(_ context.Context, n payment.Notification) (payment.WebhookResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
	if l.webhookErr != nil {
		return payment.WebhookResult{}, l.webhookErr
	}
	return payment.WebhookResult{
		Outcome: payment.OutcomeCompleted,
		Payment: model.Payment{ID: uuid.New(), Status: model.PaymentCompleted},
	}, nil
}
