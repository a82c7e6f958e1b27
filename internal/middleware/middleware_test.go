package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/import-brokerage/internal/config"
	"github.com/iliyamo/import-brokerage/internal/credential"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/utils"
)

type stubValidator struct {
	p   credential.Principal
	err error
}

func (s stubValidator) ValidateAccess(context.Context, string) (credential.Principal, error) {
	return s.p, s.err
}

func serve(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate(t *testing.T) {
	admin := credential.Principal{UserID: uuid.New(), Role: model.RoleAdmin}
	tests := []struct {
		name   string
		header string
		v      stubValidator
		roles  []model.Role
		status int
	}{
		{"missing", "", stubValidator{}, nil, http.StatusUnauthorized},
		{"expired", "Bearer x", stubValidator{err: utils.ErrTokenExpired}, nil, http.StatusUnauthorized},
		{"store down", "Bearer x", stubValidator{err: credential.ErrUnavailable}, nil, http.StatusServiceUnavailable},
		{"ok", "Bearer x", stubValidator{p: admin}, nil, http.StatusOK},
		{"role ok", "Bearer x", stubValidator{p: admin}, []model.Role{model.RoleAdmin}, http.StatusOK},
		{"role denied", "Bearer x", stubValidator{p: admin}, []model.Role{model.RoleExporter}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			mws := []echo.MiddlewareFunc{Authenticate(tt.v)}
			if tt.roles != nil {
				mws = append(mws, RequireRole(tt.roles...))
			}
			e.GET("/p", func(c echo.Context) error {
				p, ok := PrincipalFrom(c)
				if !ok || p.UserID != admin.UserID || AccessTokenFrom(c) != "x" {
					return c.NoContent(http.StatusTeapot)
				}
				return c.NoContent(http.StatusOK)
			}, mws...)
			rec := serve(e, http.MethodGet, "/p", map[string]string{"Authorization": tt.header})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestRequestLoggerReachesAuthFailures(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core).Sugar()))
	e.GET("/p", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		Authenticate(stubValidator{err: credential.ErrUnavailable}))

	rec := serve(e, http.MethodGet, "/p", map[string]string{
		"Authorization":      "Bearer x",
		echo.HeaderXRequestID: "req-7",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	failed := logs.FilterMessage("access validation unavailable").All()
	if len(failed) != 1 || failed[0].Level != zap.ErrorLevel {
		t.Fatalf("unavailable log = %v", logs.All())
	}
	if failed[0].ContextMap()["request_id"] != "req-7" || failed[0].ContextMap()["route"] != "/p" {
		t.Fatalf("fields = %v", failed[0].ContextMap())
	}
	done := logs.FilterMessage("request").All()
	if len(done) != 1 || done[0].ContextMap()["status"] != int64(http.StatusServiceUnavailable) {
		t.Fatalf("access log = %v", done)
	}
}

func TestLoggerFromWithoutMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatal("LoggerFrom returned nil")
	}
}

func TestTokenReason(t *testing.T) {
	tests := map[error]string{
		utils.ErrTokenExpired:            "token_expired",
		utils.ErrTokenSignature:          "token_invalid_signature",
		utils.ErrTokenType:               "token_wrong_type",
		utils.ErrTokenMalformed:          "token_malformed",
		credential.ErrTokenRevoked:       "token_revoked",
		credential.ErrSessionRevoked:     "session_revoked",
		credential.ErrTokenReuseDetected: "token_reuse_detected",
		errors.New("other"):              "token_malformed",
	}
	for err, want := range tests {
		if got := TokenReason(err); got != want {
			t.Errorf("TokenReason(%v) = %q, want %q", err, got, want)
		}
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTokenBucket(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "ip_route", Prefix: "rl:test",
	}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, nil))

	for i, want := range []int{200, 200, 429} {
		rec := serve(e, http.MethodGet, "/x", nil)
		if rec.Code != want {
			t.Fatalf("request %d status = %d, want %d", i+1, rec.Code, want)
		}
		if want == 429 && rec.Header().Get("Retry-After") == "" {
			t.Fatal("missing Retry-After")
		}
	}
}

type tokenTable map[string]credential.Principal

func (tt tokenTable) ValidateAccess(_ context.Context, raw string) (credential.Principal, error) {
	if p, ok := tt[raw]; ok {
		return p, nil
	}
	return credential.Principal{}, utils.ErrTokenSignature
}

func TestTokenBucketKeysOnUserBehindAuth(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "user_route", Prefix: "rl:user",
	}
	alice, bob := uuid.New(), uuid.New()
	v := tokenTable{
		"a": {UserID: alice, Role: model.RoleCustomer},
		"b": {UserID: bob, Role: model.RoleCustomer},
	}
	e := echo.New()
	g := e.Group("/v1", Authenticate(v), NewTokenBucket(cfg, rdb, nil))
	g.GET("/orders", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	get := func(token string) int {
		return serve(e, http.MethodGet, "/v1/orders", map[string]string{"Authorization": "Bearer " + token}).Code
	}
	if got := get("a"); got != http.StatusOK {
		t.Fatalf("alice first = %d", got)
	}
	if got := get("a"); got != http.StatusTooManyRequests {
		t.Fatalf("alice second = %d, want 429", got)
	}
	if got := get("b"); got != http.StatusOK {
		t.Fatalf("bob first = %d, want his own bucket", got)
	}
	for _, k := range mr.Keys() {
		if strings.Contains(k, "anon") {
			t.Fatalf("bucket key %q ignores the caller", k)
		}
	}
}

func TestTokenBucketFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour, TTL: time.Hour, Prefix: "rl"}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, nil))
	mr.Close()
	for i := 0; i < 3; i++ {
		if rec := serve(e, http.MethodGet, "/x", nil); rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 while redis is down", rec.Code)
		}
	}
}

func TestRedisCache(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, KeyStrategy: "method_route", Prefix: "c"}
	calls := 0
	e := echo.New()
	e.GET("/graph", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"n": 1})
	}, NewRedisCache(cfg, rdb, nil))

	first := serve(e, http.MethodGet, "/graph", nil)
	second := serve(e, http.MethodGet, "/graph", nil)
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q then %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(echo.HeaderContentType) != echo.MIMEApplicationJSON {
		t.Fatalf("content type = %q", second.Header().Get(echo.HeaderContentType))
	}
}
