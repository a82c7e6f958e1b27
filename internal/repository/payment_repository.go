package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/import-brokerage/internal/database"
	"github.com/iliyamo/import-brokerage/internal/model"
)

// PaymentRepo persists payments.  The unique keys declared in schema.sql
// (idempotency key, external id, one COMPLETED and one PENDING per order)
// are the final word on the ledger's invariants; the order row lock taken
// by the write paths below only makes the common race cheap to detect.
type PaymentRepo struct{ DB *sql.DB }

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{DB: db} }

const paymentColumns = `id, order_id, user_id, idempotency_key, external_payment_id, amount, currency, status,
	payment_method, card_last4, completed_at, created_at, updated_at`

// Completion is a verified processor notification ready to be recorded.
type Completion struct {
	OrderID           uuid.UUID
	ExternalPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Method            string
	CardLast4         string
	At                time.Time
}

// GetByIdempotencyKey returns the payment created under key.
func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (model.Payment, error) {
	return scanPayment(r.DB.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE idempotency_key=? LIMIT 1", key))
}

// GetByExternalID returns the payment bound to a processor payment id.
func (r *PaymentRepo) GetByExternalID(ctx context.Context, externalID string) (model.Payment, error) {
	return scanPayment(r.DB.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE external_payment_id=? LIMIT 1", externalID))
}

// GetCompletedForOrder returns the order's COMPLETED payment.
func (r *PaymentRepo) GetCompletedForOrder(ctx context.Context, orderID uuid.UUID) (model.Payment, error) {
	return scanPayment(r.DB.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id=? AND status='COMPLETED' LIMIT 1", orderID.String()))
}

// StatusOf aggregates the order's payment rows: COMPLETED wins, then
// PENDING, then FAILED; UNPAID when there are none.
func (r *PaymentRepo) StatusOf(ctx context.Context, orderID uuid.UUID) (model.PaymentStatus, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT DISTINCT status FROM payments WHERE order_id=?", orderID.String())
	if err != nil {
		return "", err
	}
	defer rows.Close()
	seen := map[model.PaymentStatus]bool{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", err
		}
		seen[model.PaymentStatus(s)] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch {
	case seen[model.PaymentCompleted]:
		return model.PaymentCompleted, nil
	case seen[model.PaymentPending]:
		return model.PaymentPending, nil
	case seen[model.PaymentFailed]:
		return model.PaymentFailed, nil
	}
	return model.PaymentNone, nil
}

// CreatePending inserts a PENDING payment for the order, priced from the
// order's total.  If another request already created a payment under the
// same idempotency key, that row is returned with replayed=true.
func (r *PaymentRepo) CreatePending(ctx context.Context, p model.Payment) (model.Payment, bool, error) {
	created, err := r.createPending(ctx, p)
	if err == nil {
		return created, false, nil
	}
	if errors.Is(err, ErrIdempotencyKeyExists) {
		existing, gerr := r.GetByIdempotencyKey(ctx, p.IdempotencyKey)
		if gerr != nil {
			return model.Payment{}, false, gerr
		}
		return existing, true, nil
	}
	return model.Payment{}, false, err
}

func (r *PaymentRepo) createPending(ctx context.Context, p model.Payment) (model.Payment, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Payment{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		status string
		total  decimal.Decimal
	)
	err = tx.QueryRowContext(ctx, "SELECT status, total_cost FROM orders WHERE id=? FOR UPDATE", p.OrderID.String()).Scan(&status, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	if s := model.OrderStatus(status); s == model.StatusCancelled || s == model.StatusDelivered {
		return model.Payment{}, ErrOrderClosed
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT status FROM payments WHERE order_id=? AND status IN ('PENDING','COMPLETED')", p.OrderID.String())
	if err != nil {
		return model.Payment{}, err
	}
	var hasPending, hasCompleted bool
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return model.Payment{}, err
		}
		hasPending = hasPending || s == string(model.PaymentPending)
		hasCompleted = hasCompleted || s == string(model.PaymentCompleted)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return model.Payment{}, err
	}
	rows.Close()
	if hasCompleted {
		return model.Payment{}, ErrAlreadyPaid
	}
	if hasPending {
		return model.Payment{}, ErrPendingPaymentExists
	}

	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Amount = total
	p.Status = model.PaymentPending
	p.CreatedAt, p.UpdatedAt = now, now
	_, err = tx.ExecContext(ctx,
		"INSERT INTO payments (id, order_id, user_id, idempotency_key, amount, currency, status, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)",
		p.ID.String(), p.OrderID.String(), p.UserID.String(), p.IdempotencyKey, p.Amount, p.Currency, string(p.Status), now, now)
	if err != nil {
		if key, dup := database.IsDuplicateKey(err); dup {
			switch key {
			case "uq_payments_one_pending":
				return model.Payment{}, ErrPendingPaymentExists
			default:
				return model.Payment{}, ErrIdempotencyKeyExists
			}
		}
		return model.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Payment{}, err
	}
	committed = true
	return p, nil
}

// Complete marks the order's PENDING payment COMPLETED.  Outcomes:
//   - a payment already carries c.ExternalPaymentID: that row is returned
//     with duplicate=true and nothing is written;
//   - the order already has a COMPLETED payment: ErrDuplicateCompletion;
//   - no PENDING payment: ErrPaymentNotFound;
//   - amount or currency differ from the pending row: ErrAmountMismatch.
func (r *PaymentRepo) Complete(ctx context.Context, c Completion) (model.Payment, bool, error) {
	if prior, err := r.GetByExternalID(ctx, c.ExternalPaymentID); err == nil {
		return prior, true, nil
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return model.Payment{}, false, err
	}

	p, err := r.complete(ctx, c)
	if err == nil {
		return p, false, nil
	}
	// A concurrent delivery of the same notification won the race.
	if key, dup := database.IsDuplicateKey(err); dup {
		if key == "uq_payments_external" {
			if prior, gerr := r.GetByExternalID(ctx, c.ExternalPaymentID); gerr == nil {
				return prior, true, nil
			}
		}
		return model.Payment{}, false, ErrDuplicateCompletion
	}
	return model.Payment{}, false, err
}

func (r *PaymentRepo) complete(ctx context.Context, c Completion) (model.Payment, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Payment{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM orders WHERE id=? FOR UPDATE", c.OrderID.String()).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}

	var completedID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM payments WHERE order_id=? AND status='COMPLETED' LIMIT 1", c.OrderID.String()).Scan(&completedID)
	if err == nil {
		return model.Payment{}, ErrDuplicateCompletion
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, err
	}

	p, err := scanPayment(tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id=? AND status='PENDING' LIMIT 1 FOR UPDATE", c.OrderID.String()))
	if err != nil {
		return model.Payment{}, err
	}
	if !p.Amount.Equal(c.Amount) || !strings.EqualFold(p.Currency, c.Currency) {
		return model.Payment{}, ErrAmountMismatch
	}

	ext := c.ExternalPaymentID
	at := c.At.UTC()
	if _, err := tx.ExecContext(ctx,
		"UPDATE payments SET status='COMPLETED', external_payment_id=?, payment_method=?, card_last4=?, completed_at=?, updated_at=? WHERE id=? AND status='PENDING'",
		ext, c.Method, c.CardLast4, at, at, p.ID.String()); err != nil {
		return model.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Payment{}, err
	}
	committed = true
	p.Status = model.PaymentCompleted
	p.ExternalPaymentID = &ext
	p.PaymentMethod = c.Method
	p.CardLast4 = c.CardLast4
	p.CompletedAt = &at
	p.UpdatedAt = at
	return p, nil
}

// MarkFailed moves the order's PENDING payment to FAILED and binds the
// processor id.  A redelivery of the same notice returns the bound row with
// duplicate=true.
func (r *PaymentRepo) MarkFailed(ctx context.Context, orderID uuid.UUID, externalID string, at time.Time) (model.Payment, bool, error) {
	if prior, err := r.GetByExternalID(ctx, externalID); err == nil {
		return prior, true, nil
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE payments SET status='FAILED', external_payment_id=?, updated_at=? WHERE order_id=? AND status='PENDING'",
		externalID, at.UTC(), orderID.String())
	if err != nil {
		if _, dup := database.IsDuplicateKey(err); dup {
			p, gerr := r.GetByExternalID(ctx, externalID)
			return p, true, gerr
		}
		return model.Payment{}, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Payment{}, false, err
	} else if n == 0 {
		return model.Payment{}, false, ErrPaymentNotFound
	}
	p, err := r.GetByExternalID(ctx, externalID)
	return p, false, err
}

func scanPayment(row rowScanner) (model.Payment, error) {
	var (
		p                model.Payment
		id, oid, uid     string
		ext              sql.NullString
		status           string
		completedAt      sql.NullTime
	)
	err := row.Scan(&id, &oid, &uid, &p.IdempotencyKey, &ext, &p.Amount, &p.Currency, &status,
		&p.PaymentMethod, &p.CardLast4, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return model.Payment{}, err
	}
	if p.OrderID, err = uuid.Parse(oid); err != nil {
		return model.Payment{}, err
	}
	if p.UserID, err = uuid.Parse(uid); err != nil {
		return model.Payment{}, err
	}
	if ext.Valid {
		e := ext.String
		p.ExternalPaymentID = &e
	}
	p.Status = model.PaymentStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return p, nil
}
