package utils // package utils provides token issuing, hashing and sealing helpers

import (
    "crypto/sha256" // SHA‑256 hashing for refresh tokens
    "encoding/hex"  // hex encoding of digests
    "errors"        // sentinel errors for verification failures
    "fmt"           // error wrapping
    "time"          // expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
    "github.com/google/uuid"       // jti and sid identifiers
)

// TokenType distinguishes access from refresh tokens.  It is carried in the
// "type" claim and checked on every parse.
type TokenType string

const (
    TokenAccess  TokenType = "access"
    TokenRefresh TokenType = "refresh"
)

// Verification failures.  Each is a distinct reason so the caller boundary
// can tell a forged token from an expired one.
var (
    ErrTokenMalformed = errors.New("token malformed")
    ErrTokenSignature = errors.New("token signature invalid")
    ErrTokenExpired   = errors.New("token expired")
    ErrTokenType      = errors.New("token type mismatch")
)

// Claims is the payload of both token kinds.  Email and Role are only set on
// access tokens.  SessionID binds a token to its session row.
type Claims struct {
    Type      TokenType `json:"type"`
    SessionID string    `json:"sid,omitempty"`
    Email     string    `json:"email,omitempty"`
    Role      string    `json:"role,omitempty"`
    jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c Claims) UserID() (uuid.UUID, error) { return uuid.Parse(c.Subject) }

// SID parses the session claim.
func (c Claims) SID() (uuid.UUID, error) { return uuid.Parse(c.SessionID) }

// Expiry returns the exp claim as a time, zero if absent.
func (c Claims) Expiry() time.Time {
    if c.ExpiresAt == nil {
        return time.Time{}
    }
    return c.ExpiresAt.Time
}

// SignedToken is a serialized JWT plus the metadata callers persist.
type SignedToken struct {
    Token string    // the serialized JWT string
    JTI   string    // unique token id
    Exp   time.Time // UTC expiration time
}

// TokenService signs and verifies HS256 access and refresh tokens.  It holds
// no state besides its key and lifetimes.
type TokenService struct {
    secret     []byte
    accessTTL  time.Duration
    refreshTTL time.Duration
    now        func() time.Time
}

// NewTokenService builds a TokenService.  Zero TTLs fall back to 15 minutes
// and 7 days.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
    if accessTTL <= 0 {
        accessTTL = 15 * time.Minute
    }
    if refreshTTL <= 0 {
        refreshTTL = 7 * 24 * time.Hour
    }
    return &TokenService{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// IssueAccess signs a short-lived access token for a session.
func (s *TokenService) IssueAccess(userID, sessionID uuid.UUID, email, role string) (SignedToken, error) {
    return s.issue(Claims{
        Type:      TokenAccess,
        SessionID: sessionID.String(),
        Email:     email,
        Role:      role,
    }, userID, s.accessTTL)
}

// IssueRefresh signs a long-lived refresh token.  Every call mints a new jti,
// so two refresh tokens for the same session never hash alike.
func (s *TokenService) IssueRefresh(userID, sessionID uuid.UUID) (SignedToken, error) {
    return s.issue(Claims{Type: TokenRefresh, SessionID: sessionID.String()}, userID, s.refreshTTL)
}

func (s *TokenService) issue(c Claims, userID uuid.UUID, ttl time.Duration) (SignedToken, error) {
    now := s.now().UTC()
    exp := now.Add(ttl)
    jti := uuid.NewString()
    c.RegisteredClaims = jwt.RegisteredClaims{
        Subject:   userID.String(),
        ID:        jti,
        IssuedAt:  jwt.NewNumericDate(now),
        ExpiresAt: jwt.NewNumericDate(exp),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
    if err != nil {
        return SignedToken{}, fmt.Errorf("sign %s token: %w", c.Type, err)
    }
    return SignedToken{Token: signed, JTI: jti, Exp: exp}, nil
}

// Parse verifies signature and expiry and checks the type claim.  The error
// is one of the sentinels above, wrapped.
func (s *TokenService) Parse(raw string, want TokenType) (Claims, error) {
    var c Claims
    _, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
        return s.secret, nil
    },
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithTimeFunc(s.now),
        jwt.WithExpirationRequired(),
    )
    switch {
    case err == nil:
    case errors.Is(err, jwt.ErrTokenExpired):
        return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
    case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
        return Claims{}, fmt.Errorf("%w: %v", ErrTokenSignature, err)
    default:
        return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
    }
    if c.Type != want {
        return Claims{}, fmt.Errorf("%w: got %q, want %q", ErrTokenType, c.Type, want)
    }
    if _, err := c.UserID(); err != nil || c.ID == "" {
        return Claims{}, fmt.Errorf("%w: missing sub or jti", ErrTokenMalformed)
    }
    return c, nil
}

// HashToken returns the SHA‑256 hash of a raw token as a hex string.  Only
// this digest is ever stored or compared for refresh tokens.
func HashToken(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}
