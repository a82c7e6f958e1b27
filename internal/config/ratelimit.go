package config

import (
    "os"
    "strconv"
    "time"
)

// RateLimitConfig drives the Redis token bucket placed in front of the HTTP
// API.  Auth endpoints get their own, tighter bucket (see
// LoadAuthRateLimitConfig) because they are the ones worth brute forcing.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
    Debug          bool
}

// LoadRateLimitConfig returns the general API bucket.  It runs before
// authentication, so it can only key on the client IP and route.
func LoadRateLimitConfig() RateLimitConfig {
    return loadRateLimit("RATE_LIMIT", 60, "ip_route", "rl")
}

// LoadUserRateLimitConfig returns the per-user bucket mounted behind
// Authenticate on the /v1 API.
func LoadUserRateLimitConfig() RateLimitConfig {
    return loadRateLimit("USER_RATE_LIMIT", 30, "user_route", "rl:user")
}

// LoadAuthRateLimitConfig returns the bucket for /v1/auth endpoints.  Callers
// there are anonymous, so the key is the client IP and route.
func LoadAuthRateLimitConfig() RateLimitConfig {
    return loadRateLimit("AUTH_RATE_LIMIT", 10, "ip_route", "rl:auth")
}

func loadRateLimit(envPrefix string, capacity int, strategy, keyPrefix string) RateLimitConfig {
    def := RateLimitConfig{
        Enabled:        envBool(envPrefix+"_ENABLED", true),
        Capacity:       envInt(envPrefix+"_CAPACITY", capacity),
        RefillTokens:   envInt(envPrefix+"_REFILL_TOKENS", 1),
        RefillInterval: envDur(envPrefix+"_REFILL_INTERVAL", time.Second),
        TTL:            envDur(envPrefix+"_TTL", 10*time.Minute),
        KeyStrategy:    envStr(envPrefix+"_KEY_STRATEGY", strategy),
        Prefix:         envStr(envPrefix+"_PREFIX", keyPrefix),
        Debug:          envBool(envPrefix+"_DEBUG", false),
    }
    if b := envInt(envPrefix+"_BURST", -1); b > 0 { def.Capacity = b }
    if every := envDur(envPrefix+"_REFILL_EVERY", 0); every > 0 {
        def.RefillTokens = 1
        def.RefillInterval = every
    }
    if def.Capacity < 1 { def.Capacity = 1 }
    if def.RefillTokens < 1 { def.RefillTokens = 1 }
    if def.RefillInterval <= 0 { def.RefillInterval = time.Second }
    minTTL := 5 * def.RefillInterval
    if def.TTL < minTTL { def.TTL = minTTL }
    return def
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" { return d }
    switch v {
    case "1","true","TRUE","True","yes","YES","on","ON": return true
    case "0","false","FALSE","False","no","NO","off","OFF": return false
    }
    return d
}
func envInt(k string, d int) int {
    v := os.Getenv(k); if v == "" { return d }
    if n, err := strconv.Atoi(v); err == nil { return n }
    return d
}
func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k); if v == "" { return d }
    if dur, err := time.ParseDuration(v); err == nil { return dur }
    return d
}
