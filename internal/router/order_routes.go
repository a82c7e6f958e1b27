package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/import-brokerage/internal/handler"
	"github.com/iliyamo/import-brokerage/internal/middleware"
)

// RegisterOrders registers order and payment endpoints.  Every route except
// the status graph and the processor webhook requires an access token;
// per-order authorization is decided inside the handlers because it
// depends on the order's owner and status.  The status graph is static
// and goes through the response cache.  userLimit, when set, runs after
// authentication so it can key on the caller.
func RegisterOrders(e *echo.Echo, o *handler.OrderHandler, p *handler.PaymentHandler, v middleware.AccessValidator, userLimit, cache echo.MiddlewareFunc) {
	if cache != nil {
		e.GET("/v1/order-statuses", o.Statuses, cache)
	} else {
		e.GET("/v1/order-statuses", o.Statuses)
	}
	// The processor posts here; the signature is the credential.
	e.POST("/v1/payments/webhook", p.Webhook)

	mws := []echo.MiddlewareFunc{middleware.Authenticate(v)}
	if userLimit != nil {
		mws = append(mws, userLimit)
	}
	g := e.Group("/v1", mws...)
	g.POST("/orders", o.Create)
	g.GET("/orders", o.List)
	g.GET("/orders/:id", o.Get)
	g.GET("/orders/:id/history", o.History)
	g.POST("/orders/:id/transitions", o.Transition)
	g.GET("/orders/:id/payment-status", p.Status)
	g.POST("/payments", p.Initiate)
}
