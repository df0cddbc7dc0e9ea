package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signToken(t *testing.T, key []byte, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runRequest(mw echo.MiddlewareFunc, header string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	return mw(handler)(c)
}

func TestMiddleware_ValidToken(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	token := signToken(t, key, "linker-client")
	if err := runRequest(Middleware(key), "Bearer "+token); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	err := runRequest(Middleware(key), "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMiddleware_WrongKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	token := signToken(t, []byte("another-key-another-key-another!"), "x")
	err := runRequest(Middleware(key), "Bearer "+token)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMiddleware_DevModePassesThrough(t *testing.T) {
	if err := runRequest(Middleware(nil), ""); err != nil {
		t.Fatalf("dev mode rejected request: %v", err)
	}
}
