package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const ctxLogger = "logger"

var nopLogger = zap.NewNop().Sugar()

// RequestLogger stores a logger tagged with the request id, method and
// route in the context and writes one line per finished request.  Mount it
// after RequestID.
func RequestLogger(log *zap.SugaredLogger) echo.MiddlewareFunc {
	if log == nil {
		log = nopLogger
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			l := log.With("request_id", rid, "method", c.Request().Method, "route", c.Path())
			c.Set(ctxLogger, l)

			if err := next(c); err != nil {
				c.Error(err)
			}
			l.Infow("request",
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
			)
			return nil
		}
	}
}

// LoggerFrom returns the request logger, or a no-op logger when
// RequestLogger is not mounted.
func LoggerFrom(c echo.Context) *zap.SugaredLogger {
	if l, ok := c.Get(ctxLogger).(*zap.SugaredLogger); ok && l != nil {
		return l
	}
	return nopLogger
}
