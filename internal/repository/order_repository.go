package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/import-brokerage/internal/model"
)

// AddressSealer encrypts shipping addresses at rest.  utils.Sealer
// satisfies it.
type AddressSealer interface {
	Seal(plain, additional string) (string, error)
	Open(sealed, additional string) (string, error)
}

// OrderRepo provides persistence for orders and their append-only status
// history.  Status writes are compare-and-swap on the current status so two
// concurrent transitions of one order cannot both land.
type OrderRepo struct {
	db     *sql.DB
	sealer AddressSealer
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB, sealer AddressSealer) *OrderRepo {
	return &OrderRepo{db: db, sealer: sealer}
}

const orderColumns = `id, user_id, vehicle_id, status, payment_status, total_cost, shipping_address, phone,
	contact_name, contact_email, contact_phone, created_at, updated_at`

// Create prices the order from the vehicle catalogue and inserts it with
// status CREATED.  o.ID, o.TotalCost, o.Status and timestamps are filled in.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	var price decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		"SELECT price FROM vehicles WHERE id=? AND deleted_at IS NULL", o.VehicleID.String()).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrVehicleNotFound
	}
	if err != nil {
		return err
	}
	sealed, err := r.sealer.Seal(o.ShippingAddress, o.ID.String())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	o.TotalCost = price
	o.Status = model.StatusCreated
	o.PaymentStatus = model.PaymentNone
	o.CreatedAt, o.UpdatedAt = now, now

	const q = `INSERT INTO orders (id, user_id, vehicle_id, status, payment_status, total_cost, shipping_address, phone,
		contact_name, contact_email, contact_phone, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = r.db.ExecContext(ctx, q,
		o.ID.String(), o.UserID.String(), o.VehicleID.String(), string(o.Status), string(o.PaymentStatus),
		o.TotalCost, sealed, o.Phone, o.Contact.Name, o.Contact.Email, o.Contact.Phone, now, now)
	return err
}

// Get loads one order and opens its shipping address.
func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (model.Order, error) {
	o, err := r.scanOrder(r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id=?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrOrderNotFound
	}
	return o, err
}

// ListByUser returns a customer's orders, newest first.
func (r *OrderRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id=? ORDER BY created_at DESC", userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Order, 0)
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TransitionStatus moves the order from `from` to `to`, snapshots the
// ledger's payment status and appends the history row, all in one
// transaction.  If the order is no longer in `from` it returns
// ErrStaleStatus and writes nothing.
func (r *OrderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus, pay model.PaymentStatus, h model.OrderStatusHistory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status=?, payment_status=?, updated_at=? WHERE id=? AND status=?",
		string(to), string(pay), h.At, id.String(), string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM orders WHERE id=?", id.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		return ErrStaleStatus
	}

	var notes sql.NullString
	if h.Notes != "" {
		notes = sql.NullString{String: h.Notes, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO order_status_history (order_id, from_status, to_status, changed_by, notes, at) VALUES (?,?,?,?,?,?)",
		id.String(), string(from), string(to), h.ChangedBy, notes, h.At); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// History returns the audit trail of an order, oldest first.
func (r *OrderRepo) History(ctx context.Context, id uuid.UUID) ([]model.OrderStatusHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, order_id, from_status, to_status, changed_by, notes, at FROM order_status_history WHERE order_id=? ORDER BY id",
		id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.OrderStatusHistory, 0)
	for rows.Next() {
		var (
			h        model.OrderStatusHistory
			oid      string
			from, to string
			notes    sql.NullString
		)
		if err := rows.Scan(&h.ID, &oid, &from, &to, &h.ChangedBy, &notes, &h.At); err != nil {
			return nil, err
		}
		h.OrderID, _ = uuid.Parse(oid)
		h.FromStatus = model.OrderStatus(from)
		h.ToStatus = model.OrderStatus(to)
		h.Notes = notes.String
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *OrderRepo) scanOrder(row rowScanner) (model.Order, error) {
	var (
		o                     model.Order
		id, uid, vid          string
		status, paymentStatus string
		sealed                string
	)
	err := row.Scan(&id, &uid, &vid, &status, &paymentStatus, &o.TotalCost, &sealed, &o.Phone,
		&o.Contact.Name, &o.Contact.Email, &o.Contact.Phone, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	if o.ID, err = uuid.Parse(id); err != nil {
		return model.Order{}, err
	}
	if o.UserID, err = uuid.Parse(uid); err != nil {
		return model.Order{}, err
	}
	if o.VehicleID, err = uuid.Parse(vid); err != nil {
		return model.Order{}, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	if o.ShippingAddress, err = r.sealer.Open(sealed, id); err != nil {
		return model.Order{}, err
	}
	return o, nil
}
