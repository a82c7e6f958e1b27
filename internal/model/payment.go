package model

import (
    "encoding/json"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle of a payment row, and also the aggregate
// status the ledger reports for an order.
type PaymentStatus string

const (
    PaymentNone      PaymentStatus = "UNPAID" // order has no payment rows
    PaymentPending   PaymentStatus = "PENDING"
    PaymentCompleted PaymentStatus = "COMPLETED"
    PaymentFailed    PaymentStatus = "FAILED"
)

// Payment mirrors the `payments` table.
//
// Invariants held by the storage layer:
//  - idempotency_key is unique;
//  - external_payment_id is unique when set;
//  - at most one row per order_id has status COMPLETED.
type Payment struct {
    ID                uuid.UUID       `json:"id"`
    OrderID           uuid.UUID       `json:"order_id"`
    UserID            uuid.UUID       `json:"user_id"`
    IdempotencyKey    string          `json:"idempotency_key"`
    ExternalPaymentID *string         `json:"external_payment_id,omitempty"`
    Amount            decimal.Decimal `json:"amount"`
    Currency          string          `json:"currency"`
    Status            PaymentStatus   `json:"status"`
    PaymentMethod     string          `json:"payment_method,omitempty"`
    CardLast4         string          `json:"card_last4,omitempty"`
    CompletedAt       *time.Time      `json:"completed_at,omitempty"`
    CreatedAt         time.Time       `json:"created_at"`
    UpdatedAt         time.Time       `json:"updated_at"`
}

// IdempotencyRecord is the request-level replay record kept in Redis under
// the client's Idempotency-Key.  Status is IN_PROGRESS until the first
// response is stored, then COMPLETED.
type IdempotencyRecord struct {
    IdempotencyKey string          `json:"idempotency_key"`
    RequestHash    string          `json:"request_hash"`
    ResponseStatus int             `json:"response_status,omitempty"`
    ResponseData   json.RawMessage `json:"response_data,omitempty"`
    Status         string          `json:"status"`
    CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

const (
    IdempotencyInProgress = "IN_PROGRESS"
    IdempotencyCompleted  = "COMPLETED"
)
