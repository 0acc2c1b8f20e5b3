package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header used to propagate request ids across services.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that ensures every request carries a request id.
// An incoming X-Request-ID is preserved so ids stay stable across proxies;
// otherwise a new UUID is generated. The id is stored on the echo context for
// the logger and audit middleware and echoed back in the response header.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// requestIDFrom returns the id assigned by RequestID, or "" when the
// middleware has not run for this request.
func requestIDFrom(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
