package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid, _ := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_HonorsIncoming(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid != "req-42" {
			t.Errorf("request_id = %q, want req-42", rid)
		}
		return c.NoContent(http.StatusOK)
	}
	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("evaluator blew up")
	}

	err := Recovery(logger)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	if err := Recovery(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogger_LogsRequests(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/link", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-1")

	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLimit_Enforces(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	var lastErr error
	var lastRec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		lastRec = httptest.NewRecorder()
		c := e.NewContext(req, lastRec)
		lastErr = mw(handler)(c)
	}

	httpErr, ok := lastErr.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %v", lastErr)
	}
	if lastRec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on throttled response")
	}
	if got := lastRec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestSecurityHeaders_SetsAll(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	if err := SecurityHeaders()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, kv := range apiHeaders {
		if got := rec.Header().Get(kv[0]); got != kv[1] {
			t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
		}
	}
}
