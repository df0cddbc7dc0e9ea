package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger emits one structured line per request after the handler returns.
// Link payloads carry PII, so only routing metadata is logged, never bodies
// or query strings.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			res := c.Response()
			var evt *zerolog.Event
			switch {
			case err != nil || res.Status >= 500:
				evt = logger.Error().Err(err)
			case res.Status >= 400:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}

			rid, _ := c.Get("request_id").(string)
			evt.
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("elapsed", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("http request")

			return err
		}
	}
}
