package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"                             // Echo web framework used for routing
	"github.com/prometheus/client_golang/prometheus/promhttp" // exposition handler for /metrics

	"github.com/iliyamo/import-brokerage/internal/handler"    // HTTP handlers
	"github.com/iliyamo/import-brokerage/internal/middleware" // authentication and role enforcement
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// liveness, readiness and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the login flow and self-service session
// management.  Passcode request, login and refresh are anonymous and sit
// behind the tighter auth rate limiter; everything else needs a valid
// access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, v middleware.AccessValidator, authLimit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	if authLimit != nil {
		g.Use(authLimit)
	}
	g.POST("/otp/request", a.RequestOTP)
	g.POST("/login", a.Login)
	// Rotates the refresh token; the presented one is dead afterwards.
	g.POST("/refresh", a.Refresh)
	// Logout is authenticated: it revokes the access token's session.
	g.POST("/logout", a.Logout, middleware.Authenticate(v))

	s := e.Group("/v1/sessions", middleware.Authenticate(v))
	s.GET("", a.ListSessions)
	s.DELETE("", a.RevokeAllSessions)
	s.DELETE("/:id", a.RevokeSession)
}
