package model

import (
    "time"

    "github.com/google/uuid"
)

// Session models one logical device/browser login in the `sessions` table.
// Only the SHA‑256 hash of the session's current refresh token is stored;
// every rotation replaces it.  A session with IsActive=false is revoked for
// good and is never reactivated.
//
// Fields:
//  ID               – primary key, also carried in tokens as "sid".
//  UserID           – owner of the session.
//  RefreshTokenHash – hex SHA‑256 of the current refresh token.
//  IPAddress        – client address at login.
//  UserAgent        – client user agent at login.
//  IsActive         – false once revoked.
//  ExpiresAt        – hard expiry, checked lazily on every use.
//  LastActiveAt     – bumped on every rotation; LRU eviction key.
//  RevokedAt        – when the session was revoked (nil while active).
//  RevokeReason     – logout, reuse, evicted, admin, expired.
//  CreatedAt        – timestamp of creation.
type Session struct {
    ID               uuid.UUID  `json:"id"`
    UserID           uuid.UUID  `json:"user_id"`
    RefreshTokenHash string     `json:"-"`
    IPAddress        string     `json:"ip_address"`
    UserAgent        string     `json:"user_agent"`
    IsActive         bool       `json:"is_active"`
    ExpiresAt        time.Time  `json:"expires_at"`
    LastActiveAt     time.Time  `json:"last_active_at"`
    RevokedAt        *time.Time `json:"revoked_at,omitempty"`
    RevokeReason     string     `json:"revoke_reason,omitempty"`
    CreatedAt        time.Time  `json:"created_at"`
}

// Expired reports whether the session is past its hard expiry at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Reasons recorded in sessions.revoke_reason.
const (
    RevokeLogout  = "logout"
    RevokeReuse   = "reuse"
    RevokeEvicted = "evicted"
    RevokeAdmin   = "admin"
    RevokeExpired = "expired"
    RevokeUser    = "user"
)
