package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/authz"
	"github.com/iliyamo/import-brokerage/internal/credential"
	"github.com/iliyamo/import-brokerage/internal/middleware"
	"github.com/iliyamo/import-brokerage/internal/model"
)

// Credentials is the part of credential.Core the auth endpoints use.
type Credentials interface {
	RequestOTP(ctx context.Context, email string) error
	Login(ctx context.Context, email, code string, meta credential.ClientMeta) (credential.TokenPair, error)
	Refresh(ctx context.Context, raw string) (credential.TokenPair, error)
	Logout(ctx context.Context, rawAccess string) error
	ListSessions(ctx context.Context, userID, current uuid.UUID) ([]credential.SessionView, error)
	CurrentSessions(ctx context.Context, userID uuid.UUID) ([]credential.SessionView, error)
	RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, reason string) error
	RevokeAll(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
}

// AuthHandler serves login, token rotation and session management.
type AuthHandler struct {
	Creds Credentials
}

func NewAuthHandler(creds Credentials) *AuthHandler {
	return &AuthHandler{Creds: creds}
}

// ----- DTOs -----

type otpReq struct {
	Email string `json:"email"`
}
type loginReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

// RequestOTP: POST /v1/auth/otp/request.  The reply does not reveal whether
// the email belongs to an account.
func (h *AuthHandler) RequestOTP(c echo.Context) error {
	var req otpReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Creds.RequestOTP(ctx, req.Email); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "passcode sent"})
}

// Login: POST /v1/auth/login.  Exchanges a passcode for a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Email == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/code required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	pair, err := h.Creds.Login(ctx, req.Email, req.Code, credential.ClientMeta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Refresh: POST /v1/auth/refresh.  Rotates the refresh token; the old one
// is dead after this call succeeds.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	pair, err := h.Creds.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// Logout: POST /v1/auth/logout.  Requires the access token; revokes its
// session and blacklists the token.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Creds.Logout(ctx, middleware.AccessTokenFrom(c)); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSessions: GET /v1/sessions.
func (h *AuthHandler) ListSessions(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Creds.ListSessions(ctx, p.UserID, p.SessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": list})
}

// RevokeSession: DELETE /v1/sessions/:id.
func (h *AuthHandler) RevokeSession(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	sid, err := parseID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Creds.RevokeSession(ctx, p.UserID, sid, model.RevokeUser); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeAllSessions: DELETE /v1/sessions.  Signs the caller out everywhere,
// including the current session.
func (h *AuthHandler) RevokeAllSessions(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Creds.RevokeAll(ctx, p.UserID, model.RevokeUser)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// AdminListSessions: GET /v1/admin/users/:id/sessions.
func (h *AuthHandler) AdminListSessions(c echo.Context) error {
	target, ok, err := h.adminTarget(c)
	if !ok {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Creds.CurrentSessions(ctx, target)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": target, "sessions": list})
}

// AdminRevokeSessions: DELETE /v1/admin/users/:id/sessions.
func (h *AuthHandler) AdminRevokeSessions(c echo.Context) error {
	target, ok, err := h.adminTarget(c)
	if !ok {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Creds.RevokeAll(ctx, target, model.RevokeAdmin)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": target, "revoked": n})
}

// adminTarget parses :id and checks the caller may manage that user's
// sessions.  When ok is false the response has been written.
func (h *AuthHandler) adminTarget(c echo.Context) (uuid.UUID, bool, error) {
	who, ok := caller(c)
	if !ok {
		return uuid.Nil, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	target, err := parseID(c, "id")
	if err != nil {
		return uuid.Nil, false, fail(c, apperr.Validation("invalid user id"))
	}
	if d := authz.Decide(who, authz.ManageSessions, authz.Resource{OwnerID: target}); !d.Allowed {
		return uuid.Nil, false, denied(c, d)
	}
	return target, true, nil
}
