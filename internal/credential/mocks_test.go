package credential

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/repository"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]model.User{}} }

func (m *memUsers) Create(_ context.Context, email string, role model.Role) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return model.User{}, repository.ErrEmailExists
	}
	u := model.User{ID: uuid.New(), Email: email, Role: role, CreatedAt: time.Now()}
	m.users[email] = u
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (m *memUsers) bump(id uuid.UUID, delta int, reset bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, u := range m.users {
		if u.ID == id {
			if reset {
				u.FailedAuthCount = 0
			} else {
				u.FailedAuthCount += delta
			}
			m.users[k] = u
		}
	}
}

func (m *memUsers) RecordAuthFailure(_ context.Context, id uuid.UUID) error {
	m.bump(id, 1, false)
	return nil
}

func (m *memUsers) ResetAuthFailures(_ context.Context, id uuid.UUID) error {
	m.bump(id, 0, true)
	return nil
}

func (m *memUsers) setDeleted(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[email]
	now := time.Now()
	u.DeletedAt = &now
	m.users[email] = u
}

// memSessions mirrors SessionRepo: one mutex stands in for the row locks.
type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.Session
}

func newMemSessions() *memSessions { return &memSessions{sessions: map[uuid.UUID]model.Session{}} }

func (m *memSessions) Create(_ context.Context, s model.Session, max int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []model.Session
	for id, e := range m.sessions {
		if e.UserID != s.UserID || !e.IsActive {
			continue
		}
		if e.Expired(s.CreatedAt) {
			e.IsActive = false
			e.RevokeReason = model.RevokeExpired
			m.sessions[id] = e
			continue
		}
		active = append(active, e)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].LastActiveAt.Before(active[j].LastActiveAt) })
	var evicted []uuid.UUID
	for len(active) >= max {
		v := active[0]
		active = active[1:]
		v.IsActive = false
		v.RevokeReason = model.RevokeEvicted
		m.sessions[v.ID] = v
		evicted = append(evicted, v.ID)
	}
	m.sessions[s.ID] = s
	return evicted, nil
}

func (m *memSessions) Get(_ context.Context, id uuid.UUID) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, repository.ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessions) FindActiveByHash(_ context.Context, userID uuid.UUID, hash string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.RefreshTokenHash == hash {
			return s, nil
		}
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (m *memSessions) CountActive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	l, _ := m.ListActive(ctx, userID, now)
	return len(l), nil
}

func (m *memSessions) ListActive(_ context.Context, userID uuid.UUID, now time.Time) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Session{}
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && !s.Expired(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (m *memSessions) Rotate(_ context.Context, id uuid.UUID, oldHash, newHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive || s.RefreshTokenHash != oldHash || s.Expired(now) {
		return repository.ErrStaleToken
	}
	s.RefreshTokenHash = newHash
	s.LastActiveAt = now
	m.sessions[id] = s
	return nil
}

func (m *memSessions) Revoke(_ context.Context, userID, id uuid.UUID, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID || !s.IsActive {
		return repository.ErrSessionNotFound
	}
	s.IsActive = false
	s.RevokeReason = reason
	s.RevokedAt = &now
	m.sessions[id] = s
	return nil
}

func (m *memSessions) RevokeAll(_ context.Context, userID uuid.UUID, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			s.RevokeReason = reason
			s.RevokedAt = &now
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memSessions) activeCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			n++
		}
	}
	return n
}

// outbox captures passcode emails.
type outbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (o *outbox) Send(_ context.Context, to, _, _, text string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		o.last = map[string]string{}
	}
	o.last[to] = text
	return true
}

type staticGeo map[string]string

func (g staticGeo) Country(_ context.Context, ip string) (string, bool) {
	c, ok := g[ip]
	return c, ok
}
