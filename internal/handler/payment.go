package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/authz"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/payment"
	"github.com/iliyamo/import-brokerage/internal/repository"
)

// HeaderIdempotencyKey names the client-chosen replay key.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxPaymentBody = 16 << 10

// Ledger is the part of payment.Ledger the payment endpoints use.
type Ledger interface {
	Initiate(ctx context.Context, userID, orderID uuid.UUID, key string) (model.Payment, bool, error)
	StatusOf(ctx context.Context, orderID uuid.UUID) (model.PaymentStatus, error)
	RecordWebhookResult(ctx context.Context, n payment.Notification) (payment.WebhookResult, error)
}

// OrderReader loads the order a payment is for.
type OrderReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Order, error)
}

// IdempotencyStore keeps request-level replay records.
// repository.IdempotencyRepo satisfies it.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, requestHash string) (*model.IdempotencyRecord, error)
	Complete(ctx context.Context, key, requestHash string, status int, body []byte) error
	Release(ctx context.Context, key string) error
}

// PaymentHandler serves payment initiation, status and processor webhooks.
type PaymentHandler struct {
	Ledger Ledger
	Orders OrderReader
	Idem   IdempotencyStore
	Log    *zap.SugaredLogger
}

func NewPaymentHandler(l Ledger, o OrderReader, idem IdempotencyStore, log *zap.SugaredLogger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PaymentHandler{Ledger: l, Orders: o, Idem: idem, Log: log}
}

type initiateReq struct {
	OrderID string `json:"order_id"`
}

type initiateResp struct {
	Payment  model.Payment `json:"payment"`
	Replayed bool          `json:"replayed"`
}

// webhookReq accepts the processor's form post or the same fields as JSON.
type webhookReq struct {
	MerchantID string      `form:"merchant_id" json:"merchant_id"`
	OrderID    string      `form:"order_id" json:"order_id"`
	PaymentID  string      `form:"payment_id" json:"payment_id"`
	Amount     json.Number `form:"payhere_amount" json:"payhere_amount"`
	Currency   string      `form:"payhere_currency" json:"payhere_currency"`
	StatusCode json.Number `form:"status_code" json:"status_code"`
	Signature  string      `form:"md5sig" json:"md5sig"`
	Method     string      `form:"method" json:"method"`
	CardNo     string      `form:"card_no" json:"card_no"`
}

// Initiate: POST /v1/payments.  Requires an Idempotency-Key header.  A retry
// with the same key and body replays the first response; the same key with
// a different body is refused, as is a retry that arrives while the first
// request is still running.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	if key == "" || len(key) > 128 {
		return fail(c, apperr.Validation("%s header must be 1-128 characters", HeaderIdempotencyKey))
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPaymentBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	var req initiateReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		return fail(c, apperr.Validation("invalid order_id"))
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	// Records are scoped per user so one customer cannot replay another's.
	recKey := who.UserID.String() + ":" + key
	hash := requestHash(c.Request().Method, c.Path(), raw)
	tracked := h.Idem != nil
	if tracked {
		rec, err := h.Idem.Begin(ctx, recKey, hash)
		switch {
		case err == nil && rec != nil:
			c.Response().Header().Set("Idempotent-Replayed", "true")
			return c.JSONBlob(rec.ResponseStatus, rec.ResponseData)
		case errors.Is(err, repository.ErrIdempotencyInFlight), errors.Is(err, repository.ErrIdempotencyKeyReused):
			return fail(c, err)
		case err != nil:
			// The ledger is idempotent on the key by itself; only the
			// response replay is lost.
			h.Log.Warnw("idempotency store unavailable", "user_id", who.UserID, "error", err)
			tracked = false
		}
	}

	status, body, err := h.initiate(ctx, who, orderID, key)
	if err != nil {
		if tracked {
			if rerr := h.Idem.Release(ctx, recKey); rerr != nil {
				h.Log.Warnw("idempotency release failed", "user_id", who.UserID, "error", rerr)
			}
		}
		var d deniedErr
		if errors.As(err, &d) {
			return denied(c, authz.Decision(d))
		}
		return fail(c, err)
	}
	if tracked {
		if cerr := h.Idem.Complete(ctx, recKey, hash, status, body); cerr != nil {
			h.Log.Warnw("idempotency record not stored", "user_id", who.UserID, "error", cerr)
		}
	}
	return c.JSONBlob(status, body)
}

type deniedErr authz.Decision

func (d deniedErr) Error() string { return "forbidden: " + d.Reason }

func (h *PaymentHandler) initiate(ctx context.Context, who authz.Caller, orderID uuid.UUID, key string) (int, []byte, error) {
	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		return 0, nil, err
	}
	if d := authz.Decide(who, authz.InitiatePayment, authz.Resource{OwnerID: o.UserID}); !d.Allowed {
		return 0, nil, deniedErr(d)
	}
	p, replayed, err := h.Ledger.Initiate(ctx, who.UserID, orderID, key)
	if err != nil {
		return 0, nil, err
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	body, err := json.Marshal(initiateResp{Payment: p, Replayed: replayed})
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

// Status: GET /v1/orders/:id/payment-status.  Reads the ledger, not the
// order row.
func (h *PaymentHandler) Status(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	if d := authz.Decide(who, authz.ViewOrder, authz.Resource{OwnerID: o.UserID}); !d.Allowed {
		return denied(c, d)
	}
	st, err := h.Ledger.StatusOf(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order_id": id, "payment_status": st})
}

// Webhook: POST /v1/payments/webhook.  Unauthenticated; the signature is the
// credential.  Redeliveries are acknowledged with 200 so the processor stops
// retrying.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	var req webhookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	code, err := req.StatusCode.Int64()
	if err != nil {
		return fail(c, apperr.Validation("invalid status_code %q", req.StatusCode))
	}
	n := payment.Notification{
		MerchantID: strings.TrimSpace(req.MerchantID),
		OrderID:    strings.TrimSpace(req.OrderID),
		PaymentID:  strings.TrimSpace(req.PaymentID),
		Amount:     req.Amount.String(),
		Currency:   strings.TrimSpace(req.Currency),
		StatusCode: int(code),
		Signature:  strings.TrimSpace(req.Signature),
		Method:     req.Method,
		CardLast4:  last4(req.CardNo),
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Ledger.RecordWebhookResult(ctx, n)
	if err != nil {
		return fail(c, err)
	}
	out := echo.Map{"outcome": res.Outcome}
	if res.Payment.ID != uuid.Nil {
		out["payment_id"] = res.Payment.ID
		out["payment_status"] = res.Payment.Status
	}
	return c.JSON(http.StatusOK, out)
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func last4(card string) string {
	card = strings.TrimSpace(card)
	if len(card) <= 4 {
		return card
	}
	return card[len(card)-4:]
}
