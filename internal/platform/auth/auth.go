// Package auth provides bearer-token authentication for the MPI API. The
// service is consumed machine-to-machine, so tokens are HS256 service tokens
// minted by the operator; there is no interactive login surface.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

// SubjectKey carries the authenticated caller identity through the request
// context.
const SubjectKey contextKey = "auth_subject"

// Claims are the validated service-token claims.
type Claims struct {
	jwt.RegisteredClaims
	Client string `json:"client,omitempty"`
}

// Middleware validates Authorization: Bearer tokens signed with signingKey.
// When signingKey is empty (development mode) every request passes with a
// dev subject; config validation refuses an empty key outside development.
func Middleware(signingKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(signingKey) == 0 {
				ctx := context.WithValue(c.Request().Context(), SubjectKey, "dev")
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				return signingKey, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			subject := claims.Subject
			if subject == "" {
				subject = claims.Client
			}
			ctx := context.WithValue(c.Request().Context(), SubjectKey, subject)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// SubjectFromContext returns the authenticated caller, if any.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(SubjectKey).(string)
	return s
}
