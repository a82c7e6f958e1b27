package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/import-brokerage/internal/database"
	"github.com/iliyamo/import-brokerage/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,full_name,phone,role,failed_auth_count,deleted_at,created_at,updated_at"

// Create inserts a user with the given role and returns the stored row.
func (r *UserRepo) Create(ctx context.Context, email string, role model.Role) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	id := uuid.New()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, role) VALUES (?,?,?)",
		id.String(), email, string(role))
	if err != nil {
		if _, dup := database.IsDuplicateKey(err); dup {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// GetByEmail fetches a user by normalized email, including soft-deleted ones.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id.String()))
}

// RecordAuthFailure bumps the failed-auth counter.
func (r *UserRepo) RecordAuthFailure(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET failed_auth_count = failed_auth_count + 1 WHERE id=?", id.String())
	return err
}

// ResetAuthFailures clears the failed-auth counter after a successful login.
func (r *UserRepo) ResetAuthFailures(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET failed_auth_count = 0 WHERE id=? AND failed_auth_count <> 0", id.String())
	return err
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var (
		u         model.User
		id        string
		role      string
		deletedAt sql.NullTime
	)
	err := row.Scan(&id, &u.Email, &u.FullName, &u.Phone, &role, &u.FailedAuthCount, &deletedAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}
