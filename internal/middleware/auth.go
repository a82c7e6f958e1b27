package middleware // middleware provides shared request processing for handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/import-brokerage/internal/credential"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/utils"
)

// Context keys set by Authenticate.
const (
	ctxPrincipal   = "principal"
	ctxAccessToken = "access_token"
	ctxUserID      = "user_id"
	ctxRole        = "role"
)

// AccessValidator is satisfied by credential.Core.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, raw string) (credential.Principal, error)
}

// Authenticate validates the Bearer access token through the credential
// core (signature, type, expiry, blacklist, live session) and stores the
// principal in the context.  Failures carry a machine-readable reason.
func Authenticate(v AccessValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "reason": "token_missing"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			p, err := v.ValidateAccess(c.Request().Context(), raw)
			if err != nil {
				if errors.Is(err, credential.ErrUnavailable) {
					LoggerFrom(c).Errorw("access validation unavailable", "error", err)
					return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "authentication unavailable"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "reason": TokenReason(err)})
			}
			c.Set(ctxPrincipal, p)
			c.Set(ctxAccessToken, raw)
			c.Set(ctxUserID, p.UserID.String())
			c.Set(ctxRole, string(p.Role))
			return next(c)
		}
	}
}

// TokenReason maps token and session failures to the reason code exposed
// to clients.
func TokenReason(err error) string {
	switch {
	case errors.Is(err, utils.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, utils.ErrTokenSignature):
		return "token_invalid_signature"
	case errors.Is(err, utils.ErrTokenType):
		return "token_wrong_type"
	case errors.Is(err, credential.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, credential.ErrTokenReuseDetected):
		return "token_reuse_detected"
	case errors.Is(err, credential.ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, credential.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, credential.ErrUserDisabled):
		return "user_disabled"
	}
	return "token_malformed"
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c echo.Context) (credential.Principal, bool) {
	p, ok := c.Get(ctxPrincipal).(credential.Principal)
	return p, ok
}

// AccessTokenFrom returns the raw bearer token stored by Authenticate.
func AccessTokenFrom(c echo.Context) string {
	s, _ := c.Get(ctxAccessToken).(string)
	return s
}

// RequireRole aborts with 403 unless the principal holds one of roles.  It
// must run after Authenticate.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok || !allowed[p.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}

// currentUserID keys the rate limiter; anonymous callers share "anon".
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
