package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/import-brokerage/internal/model"
)

// SessionRepo persists sessions.  Each row carries the hash of the single
// refresh token currently valid for it; rotation is a compare-and-swap on
// that column.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id,user_id,refresh_token_hash,ip_address,user_agent,is_active,expires_at,last_active_at,revoked_at,revoke_reason,created_at"

// Create inserts s and keeps the user at or below max active sessions by
// revoking the least recently active ones first.  The user row is locked
// for the duration so concurrent logins of one user are serialized.  It
// returns the ids of evicted sessions.
func (r *SessionRepo) Create(ctx context.Context, s model.Session, max int) ([]uuid.UUID, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id=? FOR UPDATE", s.UserID.String()).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.CreatedAt
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET is_active=0, revoked_at=?, revoke_reason=? WHERE user_id=? AND is_active=1 AND expires_at<=?",
		now, model.RevokeExpired, s.UserID.String(), now); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM sessions WHERE user_id=? AND is_active=1 ORDER BY last_active_at ASC, created_at ASC",
		s.UserID.String())
	if err != nil {
		return nil, err
	}
	var active []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		active = append(active, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var evicted []uuid.UUID
	if max > 0 && len(active) >= max {
		victims := active[:len(active)-max+1]
		args := make([]interface{}, 0, len(victims)+2)
		args = append(args, now, model.RevokeEvicted)
		for _, id := range victims {
			args = append(args, id)
			if u, err := uuid.Parse(id); err == nil {
				evicted = append(evicted, u)
			}
		}
		q := "UPDATE sessions SET is_active=0, revoked_at=?, revoke_reason=? WHERE is_active=1 AND id IN (" + placeholders(len(victims)) + ")"
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, refresh_token_hash, ip_address, user_agent, is_active, expires_at, last_active_at, created_at) VALUES (?,?,?,?,?,1,?,?,?)",
		s.ID.String(), s.UserID.String(), s.RefreshTokenHash, s.IPAddress, s.UserAgent, s.ExpiresAt, s.LastActiveAt, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return evicted, nil
}

// Get returns a session by id regardless of state.
func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (model.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id=? LIMIT 1", id.String()))
}

// FindActiveByHash returns the user's active session whose current refresh
// hash equals tokenHash.
func (r *SessionRepo) FindActiveByHash(ctx context.Context, userID uuid.UUID, tokenHash string) (model.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id=? AND refresh_token_hash=? AND is_active=1 LIMIT 1",
		userID.String(), tokenHash))
}

// CountActive counts the user's active, unexpired sessions.
func (r *SessionRepo) CountActive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE user_id=? AND is_active=1 AND expires_at>?",
		userID.String(), now).Scan(&n)
	return n, err
}

// ListActive returns the user's active, unexpired sessions, most recently
// active first.
func (r *SessionRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id=? AND is_active=1 AND expires_at>? ORDER BY last_active_at DESC",
		userID.String(), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Rotate swaps the session's refresh hash from oldHash to newHash.  The
// update only matches while oldHash is still current, so of two concurrent
// rotations presenting the same token exactly one succeeds; the other gets
// ErrStaleToken.
func (r *SessionRepo) Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET refresh_token_hash=?, last_active_at=? WHERE id=? AND refresh_token_hash=? AND is_active=1 AND expires_at>?",
		newHash, now, id.String(), oldHash, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleToken
	}
	return nil
}

// Revoke deactivates one active session of the user.
func (r *SessionRepo) Revoke(ctx context.Context, userID, id uuid.UUID, reason string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0, revoked_at=?, revoke_reason=? WHERE id=? AND user_id=? AND is_active=1",
		now, reason, id.String(), userID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAll deactivates every active session of the user and returns how
// many were affected.
func (r *SessionRepo) RevokeAll(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0, revoked_at=?, revoke_reason=? WHERE user_id=? AND is_active=1",
		now, reason, userID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var (
		s         model.Session
		id, uid   string
		revokedAt sql.NullTime
	)
	err := row.Scan(&id, &uid, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent, &s.IsActive,
		&s.ExpiresAt, &s.LastActiveAt, &revokedAt, &s.RevokeReason, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return model.Session{}, err
	}
	if s.UserID, err = uuid.Parse(uid); err != nil {
		return model.Session{}, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
