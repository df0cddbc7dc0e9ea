package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestID assigns each request a correlation id, honoring an incoming
// X-Request-ID header when present. The id is stored on the echo context and
// echoed back in the response so failed link requests can be traced in logs.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get("X-Request-ID")
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set("X-Request-ID", rid)
			return next(c)
		}
	}
}
