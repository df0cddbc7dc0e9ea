package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery converts a handler panic into a 500 so one bad evaluation cannot
// take down the listener. The panic value and stack go to the log; the
// response body stays generic.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
