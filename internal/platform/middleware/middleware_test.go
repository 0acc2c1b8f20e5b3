package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// serveReq pushes req through the middleware and returns the recorder
// plus the handler error.
func serveReq(t *testing.T, mw echo.MiddlewareFunc, req *http.Request, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, mw(handler)(c)
}

func serve(t *testing.T, mw echo.MiddlewareFunc, method, target string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	return serveReq(t, mw, httptest.NewRequest(method, target, nil), handler)
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func captureLog() (*bytes.Buffer, zerolog.Logger) {
	buf := &bytes.Buffer{}
	return buf, zerolog.New(buf)
}

func wantHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Fatalf("expected status %d, got %d", code, httpErr.Code)
	}
}

func TestRequestID_GeneratesNew(t *testing.T) {
	rec, err := serve(t, RequestID(), http.MethodGet, "/", func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected a generated request_id on the context")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")

	rec, err := serveReq(t, RequestID(), req, func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id on the context, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id echoed back, got %s", got)
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	buf, logger := captureLog()

	_, err := serve(t, Logger(logger), http.MethodGet, "/api/v1/form-configurations", okHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line := buf.String()
	if !strings.Contains(line, `"path":"/api/v1/form-configurations"`) {
		t.Errorf("expected path in access log, got %s", line)
	}
	if !strings.Contains(line, `"level":"info"`) {
		t.Errorf("expected info level for 200, got %s", line)
	}
	if !strings.Contains(line, `"bytes_out":2`) {
		t.Errorf("expected bytes_out in access log, got %s", line)
	}
}

func TestLogger_WarnsOnClientError(t *testing.T) {
	buf, logger := captureLog()

	_, err := serve(t, Logger(logger), http.MethodGet, "/api/v1/form-configurations/nope", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "not found"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected warn level for 404, got %s", buf.String())
	}
}

func TestLogger_SkipsHealthProbes(t *testing.T) {
	buf, logger := captureLog()

	if _, err := serve(t, Logger(logger), http.MethodGet, "/health", okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no access log for a healthy probe, got %s", buf.String())
	}
}

func TestLogger_LogsFailedProbes(t *testing.T) {
	buf, logger := captureLog()

	_, err := serve(t, Logger(logger), http.MethodGet, "/health/ready", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unreachable")
	})
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected failing probe to be logged, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	buf, logger := captureLog()

	_, err := serve(t, Recovery(logger), http.MethodGet, "/panic", func(c echo.Context) error {
		panic("boom")
	})
	wantHTTPError(t, err, http.StatusInternalServerError)

	line := buf.String()
	if !strings.Contains(line, "panic recovered") {
		t.Errorf("expected panic to be logged, got %s", line)
	}
	if !strings.Contains(line, "boom") {
		t.Errorf("expected panic value in the log, got %s", line)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	buf, logger := captureLog()

	if _, err := serve(t, Recovery(logger), http.MethodGet, "/ok", okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing logged without a panic, got %s", buf.String())
	}
}
