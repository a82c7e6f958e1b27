// Package credential implements passcode login, refresh token rotation with
// reuse detection, logout and session management.
//
// Each session stores the hash of exactly one refresh token, its current
// one.  Rotation swaps that hash with a compare-and-swap, so a refresh token
// presented after it was rotated away can only be a replay: when that
// happens every session of the user is revoked.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/metrics"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/notify"
	"github.com/iliyamo/import-brokerage/internal/otp"
	"github.com/iliyamo/import-brokerage/internal/repository"
	"github.com/iliyamo/import-brokerage/internal/utils"
)

var (
	// ErrTokenReuseDetected means a rotated-away refresh token came back.
	// All of the user's sessions have been revoked by the time it is
	// returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrSessionExpired     = errors.New("session expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserDisabled       = errors.New("user disabled")
	ErrTooManyRequests    = errors.New("too many passcode requests")
	// ErrUnavailable wraps store failures on fail-closed paths.
	ErrUnavailable = errors.New("credential store unavailable")
)

// UserStore is satisfied by repository.UserRepo.
type UserStore interface {
	Create(ctx context.Context, email string, role model.Role) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	RecordAuthFailure(ctx context.Context, id uuid.UUID) error
	ResetAuthFailures(ctx context.Context, id uuid.UUID) error
}

// SessionStore is satisfied by repository.SessionRepo.
type SessionStore interface {
	Create(ctx context.Context, s model.Session, max int) ([]uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (model.Session, error)
	FindActiveByHash(ctx context.Context, userID uuid.UUID, tokenHash string) (model.Session, error)
	CountActive(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldHash, newHash string, now time.Time) error
	Revoke(ctx context.Context, userID, id uuid.UUID, reason string, now time.Time) error
	RevokeAll(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int64, error)
}

// Blacklist is satisfied by repository.BlacklistRepo.
type Blacklist interface {
	Add(ctx context.Context, jti string, until time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// Passcodes is satisfied by otp.Verifier.
type Passcodes interface {
	Store(ctx context.Context, email, code string) error
	Verify(ctx context.Context, email, candidate string) (otp.Result, error)
}

// RequestLimiter is satisfied by otp.RequestLimiter.
type RequestLimiter interface {
	Allow(ctx context.Context, email string) bool
}

// Options tunes a Core.
type Options struct {
	OTPLength          int
	OTPTTL             time.Duration
	MaxSessionsPerUser int
}

// Deps bundles the collaborators of a Core.  Limiter, Mailer and Geo may be
// nil.
type Deps struct {
	Users     UserStore
	Sessions  SessionStore
	Blacklist Blacklist
	Passcodes Passcodes
	Limiter   RequestLimiter
	Tokens    *utils.TokenService
	Mailer    notify.EmailSender
	Geo       notify.GeoLocator
	Log       *zap.SugaredLogger
}

// ClientMeta describes the device logging in.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        uuid.UUID `json:"session_id"`
	TokenType        string    `json:"token_type"`
}

// Principal is the verified identity behind an access token.
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Email     string
	Role      model.Role
	JTI       string
	ExpiresAt time.Time
}

// SessionView is a session as shown to its owner or an admin.
type SessionView struct {
	model.Session
	Current bool `json:"current"`
}

// Core orchestrates passcodes, tokens and sessions.
type Core struct {
	users     UserStore
	sessions  SessionStore
	blacklist Blacklist
	passcodes Passcodes
	limiter   RequestLimiter
	tokens    *utils.TokenService
	mailer    notify.EmailSender
	geo       notify.GeoLocator
	log       *zap.SugaredLogger
	opts      Options
	now       func() time.Time
}

// New builds a Core.
func New(d Deps, opts Options) *Core {
	if opts.OTPLength == 0 {
		opts.OTPLength = 6
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	if opts.MaxSessionsPerUser <= 0 {
		opts.MaxSessionsPerUser = 5
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	return &Core{
		users:     d.Users,
		sessions:  d.Sessions,
		blacklist: d.Blacklist,
		passcodes: d.Passcodes,
		limiter:   d.Limiter,
		tokens:    d.Tokens,
		mailer:    d.Mailer,
		geo:       d.Geo,
		log:       d.Log,
		opts:      opts,
		now:       time.Now,
	}
}

// RequestOTP issues a passcode to email.  Delivery failures are logged and
// do not change the result.
func (c *Core) RequestOTP(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if c.limiter != nil && !c.limiter.Allow(ctx, email) {
		return ErrTooManyRequests
	}
	code, err := otp.Generate(c.opts.OTPLength)
	if err != nil {
		return err
	}
	if err := c.passcodes.Store(ctx, email, code); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if c.mailer != nil {
		subject, html, text := notify.PasscodeEmail(code, int(c.opts.OTPTTL/time.Minute))
		if !c.mailer.Send(ctx, email, subject, html, text) {
			c.log.Warnw("passcode email not delivered", "email", email)
		}
	}
	return nil
}

// Login verifies the passcode and opens a new session.  Unknown emails are
// provisioned as customers.  When the user is at the session cap the least
// recently active session is revoked first.
func (c *Core) Login(ctx context.Context, email, code string, meta ClientMeta) (TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := c.passcodes.Verify(ctx, email, code); err != nil {
		if errors.Is(err, otp.ErrMismatch) {
			c.recordFailure(ctx, email)
		}
		return TokenPair{}, err
	}

	user, err := c.provision(ctx, email)
	if err != nil {
		return TokenPair{}, err
	}
	if user.Deleted() {
		return TokenPair{}, ErrUserDisabled
	}
	if user.FailedAuthCount > 0 {
		if err := c.users.ResetAuthFailures(ctx, user.ID); err != nil {
			c.log.Warnw("reset auth failures", "user_id", user.ID, "error", err)
		}
	}
	c.checkAnomaly(ctx, user.ID, meta.IP)

	now := c.now().UTC()
	sid := uuid.New()
	refresh, err := c.tokens.IssueRefresh(user.ID, sid)
	if err != nil {
		return TokenPair{}, err
	}
	access, err := c.tokens.IssueAccess(user.ID, sid, user.Email, string(user.Role))
	if err != nil {
		return TokenPair{}, err
	}
	s := model.Session{
		ID:               sid,
		UserID:           user.ID,
		RefreshTokenHash: utils.HashToken(refresh.Token),
		IPAddress:        meta.IP,
		UserAgent:        truncate(meta.UserAgent, 255),
		IsActive:         true,
		ExpiresAt:        refresh.Exp,
		LastActiveAt:     now,
		CreatedAt:        now,
	}
	evicted, err := c.sessions.Create(ctx, s, c.opts.MaxSessionsPerUser)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: create session: %v", ErrUnavailable, err)
	}
	if len(evicted) > 0 {
		metrics.SessionsEvicted.Add(float64(len(evicted)))
		c.log.Infow("sessions evicted", "user_id", user.ID, "sessions", evicted)
	}
	c.log.Infow("login", "user_id", user.ID, "session_id", sid, "ip", meta.IP)
	return pair(access, refresh, sid), nil
}

// evictedHolding reports whether hash is the last refresh token of a session
// the per-user cap evicted.  That device lost its slot; it did not replay a
// rotated token.
func (c *Core) evictedHolding(ctx context.Context, userID uuid.UUID, sessionID, hash string) bool {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return false
	}
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return false
	}
	return s.UserID == userID && !s.IsActive && s.RevokeReason == model.RevokeEvicted && s.RefreshTokenHash == hash
}

// Refresh rotates a refresh token.  Of two concurrent calls presenting the
// same current token exactly one succeeds; the other is treated as reuse.
func (c *Core) Refresh(ctx context.Context, raw string) (TokenPair, error) {
	claims, err := c.tokens.Parse(raw, utils.TokenRefresh)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return TokenPair{}, err
	}
	userID, _ := claims.UserID()
	now := c.now().UTC()
	hash := utils.HashToken(raw)

	s, err := c.sessions.FindActiveByHash(ctx, userID, hash)
	if errors.Is(err, repository.ErrSessionNotFound) {
		if c.evictedHolding(ctx, userID, claims.SessionID, hash) {
			metrics.TokenRefreshes.WithLabelValues("evicted").Inc()
			return TokenPair{}, ErrSessionRevoked
		}
		n, cerr := c.sessions.CountActive(ctx, userID, now)
		if cerr != nil {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, cerr)
		}
		if n > 0 {
			return TokenPair{}, c.reuseDetected(ctx, userID, claims.SessionID)
		}
		metrics.TokenRefreshes.WithLabelValues("revoked").Inc()
		return TokenPair{}, ErrSessionRevoked
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.Expired(now) {
		if err := c.sessions.Revoke(ctx, userID, s.ID, model.RevokeExpired, now); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
			c.log.Warnw("revoke expired session", "session_id", s.ID, "error", err)
		}
		metrics.TokenRefreshes.WithLabelValues("expired").Inc()
		return TokenPair{}, ErrSessionExpired
	}

	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user.Deleted() {
		if _, err := c.sessions.RevokeAll(ctx, userID, model.RevokeAdmin, now); err != nil {
			c.log.Warnw("revoke sessions of disabled user", "user_id", userID, "error", err)
		}
		return TokenPair{}, ErrUserDisabled
	}

	refresh, err := c.tokens.IssueRefresh(userID, s.ID)
	if err != nil {
		return TokenPair{}, err
	}
	switch err := c.sessions.Rotate(ctx, s.ID, hash, utils.HashToken(refresh.Token), now); {
	case errors.Is(err, repository.ErrStaleToken):
		return TokenPair{}, c.reuseDetected(ctx, userID, s.ID.String())
	case err != nil:
		return TokenPair{}, fmt.Errorf("%w: rotate: %v", ErrUnavailable, err)
	}
	access, err := c.tokens.IssueAccess(userID, s.ID, user.Email, string(user.Role))
	if err != nil {
		return TokenPair{}, err
	}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return pair(access, refresh, s.ID), nil
}

func (c *Core) reuseDetected(ctx context.Context, userID uuid.UUID, sid string) error {
	metrics.TokenReuse.Inc()
	metrics.TokenRefreshes.WithLabelValues("reuse").Inc()
	n, err := c.sessions.RevokeAll(ctx, userID, model.RevokeReuse, c.now().UTC())
	if err != nil {
		c.log.Errorw("revoke after token reuse failed", "user_id", userID, "error", err)
		return fmt.Errorf("%w: %v", ErrTokenReuseDetected, err)
	}
	c.log.Warnw("refresh token reuse detected", "user_id", userID, "session_id", sid, "revoked", n)
	return ErrTokenReuseDetected
}

// ValidateAccess verifies an access token: signature, type and expiry, then
// the blacklist, then that its session is still active.  Store failures
// reject the token.
func (c *Core) ValidateAccess(ctx context.Context, raw string) (Principal, error) {
	claims, err := c.tokens.Parse(raw, utils.TokenAccess)
	if err != nil {
		return Principal{}, err
	}
	revoked, err := c.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return Principal{}, err
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}
	userID, _ := claims.UserID()
	sid, err := claims.SID()
	if err != nil {
		return Principal{}, fmt.Errorf("%w: bad sid", utils.ErrTokenMalformed)
	}
	s, err := c.sessions.Get(ctx, sid)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return Principal{}, ErrSessionRevoked
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.UserID != userID || !s.IsActive {
		return Principal{}, ErrSessionRevoked
	}
	if s.Expired(c.now()) {
		return Principal{}, ErrSessionExpired
	}
	return Principal{
		UserID:    userID,
		SessionID: sid,
		Email:     claims.Email,
		Role:      model.Role(claims.Role),
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// IsBlacklisted reports whether an access token id was revoked.  A
// blacklist failure is returned as ErrUnavailable.
func (c *Core) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	ok, err := c.blacklist.Contains(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("%w: blacklist: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Logout revokes the session named by the access token and blacklists the
// token until it would have expired.
func (c *Core) Logout(ctx context.Context, rawAccess string) error {
	claims, err := c.tokens.Parse(rawAccess, utils.TokenAccess)
	if err != nil {
		return err
	}
	userID, _ := claims.UserID()
	sid, err := claims.SID()
	if err != nil {
		return fmt.Errorf("%w: bad sid", utils.ErrTokenMalformed)
	}
	err = c.sessions.Revoke(ctx, userID, sid, model.RevokeLogout, c.now().UTC())
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := c.blacklist.Add(ctx, claims.ID, claims.Expiry()); err != nil {
		return fmt.Errorf("%w: blacklist: %v", ErrUnavailable, err)
	}
	c.log.Infow("logout", "user_id", userID, "session_id", sid)
	return nil
}

// ListSessions returns the user's active sessions, flagging current.
func (c *Core) ListSessions(ctx context.Context, userID, current uuid.UUID) ([]SessionView, error) {
	list, err := c.sessions.ListActive(ctx, userID, c.now().UTC())
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(list))
	for _, s := range list {
		out = append(out, SessionView{Session: s, Current: s.ID == current})
	}
	return out, nil
}

// CurrentSessions lists a user's active sessions for administrators.
func (c *Core) CurrentSessions(ctx context.Context, userID uuid.UUID) ([]SessionView, error) {
	return c.ListSessions(ctx, userID, uuid.Nil)
}

// RevokeSession permanently deactivates one of the user's sessions.
func (c *Core) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, reason string) error {
	if err := c.sessions.Revoke(ctx, userID, sessionID, reason, c.now().UTC()); err != nil {
		return err
	}
	c.log.Infow("session revoked", "user_id", userID, "session_id", sessionID, "reason", reason)
	return nil
}

// RevokeAll deactivates every session of the user.
func (c *Core) RevokeAll(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	n, err := c.sessions.RevokeAll(ctx, userID, reason, c.now().UTC())
	if err != nil {
		return 0, err
	}
	c.log.Infow("sessions revoked", "user_id", userID, "count", n, "reason", reason)
	return n, nil
}

func (c *Core) provision(ctx context.Context, email string) (model.User, error) {
	user, err := c.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	user, err = c.users.Create(ctx, email, model.RoleCustomer)
	if errors.Is(err, repository.ErrEmailExists) {
		return c.users.GetByEmail(ctx, email)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.log.Infow("user provisioned", "user_id", user.ID, "email", email)
	return user, nil
}

func (c *Core) recordFailure(ctx context.Context, email string) {
	user, err := c.users.GetByEmail(ctx, email)
	if err != nil {
		return
	}
	if err := c.users.RecordAuthFailure(ctx, user.ID); err != nil {
		c.log.Warnw("record auth failure", "user_id", user.ID, "error", err)
	}
}

// checkAnomaly logs when a login comes from a different country than the
// user's most recently active session.
func (c *Core) checkAnomaly(ctx context.Context, userID uuid.UUID, ip string) {
	if c.geo == nil || ip == "" {
		return
	}
	list, err := c.sessions.ListActive(ctx, userID, c.now().UTC())
	if err != nil || len(list) == 0 {
		return
	}
	prev, ok1 := c.geo.Country(ctx, list[0].IPAddress)
	cur, ok2 := c.geo.Country(ctx, ip)
	if ok1 && ok2 && !strings.EqualFold(prev, cur) {
		c.log.Warnw("login from new country", "user_id", userID, "previous", prev, "current", cur)
	}
}

func pair(access, refresh utils.SignedToken, sid uuid.UUID) TokenPair {
	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.Exp,
		RefreshExpiresAt: refresh.Exp,
		SessionID:        sid,
		TokenType:        "Bearer",
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("invalid email")
	}
	return email, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
