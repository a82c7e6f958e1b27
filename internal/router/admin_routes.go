package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/import-brokerage/internal/handler"
	"github.com/iliyamo/import-brokerage/internal/middleware"
	"github.com/iliyamo/import-brokerage/internal/model"
)

// RegisterAdmin registers administrator endpoints under /v1/admin.  All
// routes require a valid access token and the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AuthHandler, v middleware.AccessValidator) {
	g := e.Group(
		"/v1/admin",
		middleware.Authenticate(v),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("/users/:id/sessions", a.AdminListSessions)
	g.DELETE("/users/:id/sessions", a.AdminRevokeSessions)
}
