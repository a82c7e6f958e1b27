package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/authz"
	"github.com/iliyamo/import-brokerage/internal/credential"
	"github.com/iliyamo/import-brokerage/internal/middleware"
	"github.com/iliyamo/import-brokerage/internal/order"
	"github.com/iliyamo/import-brokerage/internal/otp"
	"github.com/iliyamo/import-brokerage/internal/payment"
	"github.com/iliyamo/import-brokerage/internal/repository"
	"github.com/iliyamo/import-brokerage/internal/utils"
)

// requestTimeout bounds every store round trip made by a handler.
const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// fail renders err with the status its kind maps to.  Unknown errors are
// logged and reported as 500 without detail.
func fail(c echo.Context, err error) error {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Errorw("request failed", "status", status, "error", err)
	}
	return c.JSON(status, body)
}

func classify(err error) (int, echo.Map) {
	msg := func(s string) echo.Map { return echo.Map{"error": s} }
	reason := func(s, r string) echo.Map { return echo.Map{"error": s, "reason": r} }

	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest, msg(err.Error())

	// passcodes
	case errors.Is(err, otp.ErrMismatch):
		return http.StatusUnauthorized, reason(err.Error(), "otp_mismatch")
	case errors.Is(err, otp.ErrNotFoundOrExpired):
		return http.StatusUnauthorized, reason("passcode not found or expired", "otp_not_found_or_expired")
	case errors.Is(err, otp.ErrMaxAttemptsExceeded):
		return http.StatusUnauthorized, reason("too many attempts, request a new passcode", "otp_max_attempts_exceeded")
	case errors.Is(err, credential.ErrTooManyRequests):
		return http.StatusTooManyRequests, msg(err.Error())

	// tokens and sessions
	case errors.Is(err, credential.ErrUnavailable):
		return http.StatusServiceUnavailable, msg("authentication unavailable")
	case errors.Is(err, utils.ErrTokenMalformed), errors.Is(err, utils.ErrTokenSignature),
		errors.Is(err, utils.ErrTokenExpired), errors.Is(err, utils.ErrTokenType),
		errors.Is(err, credential.ErrTokenRevoked), errors.Is(err, credential.ErrTokenReuseDetected),
		errors.Is(err, credential.ErrSessionRevoked), errors.Is(err, credential.ErrSessionExpired):
		return http.StatusUnauthorized, reason("invalid token", middleware.TokenReason(err))
	case errors.Is(err, credential.ErrUserDisabled):
		return http.StatusForbidden, reason("account disabled", "user_disabled")

	// lookups
	case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrPaymentNotFound):
		return http.StatusNotFound, msg(err.Error())
	case errors.Is(err, repository.ErrVehicleNotFound):
		return http.StatusUnprocessableEntity, msg(err.Error())

	// orders
	case errors.Is(err, order.ErrGuardNotSatisfied):
		return http.StatusConflict, reason(err.Error(), "guard_not_satisfied")
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, reason(err.Error(), "invalid_transition")
	case errors.Is(err, repository.ErrStaleStatus):
		return http.StatusConflict, reason("order changed concurrently, reload and retry", "stale_status")

	// payments
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest, reason(err.Error(), "invalid_signature")
	case errors.Is(err, payment.ErrDuplicateCompletion), errors.Is(err, repository.ErrDuplicateCompletion):
		return http.StatusConflict, reason(err.Error(), "duplicate_completion")
	case errors.Is(err, repository.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, reason(err.Error(), "amount_mismatch")
	case errors.Is(err, repository.ErrAlreadyPaid):
		return http.StatusConflict, reason(err.Error(), "already_paid")
	case errors.Is(err, repository.ErrPendingPaymentExists):
		return http.StatusConflict, reason(err.Error(), "pending_payment_exists")
	case errors.Is(err, repository.ErrOrderClosed):
		return http.StatusConflict, reason(err.Error(), "order_closed")
	case errors.Is(err, repository.ErrIdempotencyKeyExists):
		return http.StatusConflict, reason(err.Error(), "idempotency_key_exists")
	case errors.Is(err, repository.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, reason(err.Error(), "idempotency_key_reused")
	case errors.Is(err, repository.ErrIdempotencyInFlight):
		return http.StatusConflict, reason(err.Error(), "idempotency_in_flight")
	}
	return http.StatusInternalServerError, msg("internal error")
}

// denied renders an authorization decision that did not pass.
func denied(c echo.Context, d authz.Decision) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "reason": d.Reason})
}

// caller returns the authenticated principal as an authz.Caller.
func caller(c echo.Context) (authz.Caller, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return authz.Caller{}, false
	}
	return authz.Caller{UserID: p.UserID, Role: p.Role}, true
}

func parseID(c echo.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(param)))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", param)
	}
	return id, nil
}
