package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request body size. Submission payloads are small flat
// answer maps, so a tight cap cheaply rejects runaway or hostile uploads.
//
// The limit reads as a human-friendly size: "1M", "512K", "2G". A bare
// number means bytes.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			// Declared sizes fail fast; the wrapped reader catches bodies
			// that omit or understate Content-Length.
			if req.ContentLength > maxBytes {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"message": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", maxBytes),
				})
			}
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: maxBytes}
			return next(c)
		}
	}
}

var errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// limitedReadCloser hands out at most remaining bytes and fails the read
// once a body runs past the cap. A negative remaining marks the reader as
// tripped, so later reads keep failing.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, errBodyTooLarge
	}

	// Reading one byte past the cap is what detects oversized bodies.
	if allowed := r.remaining + 1; int64(len(p)) > allowed {
		p = p[:allowed]
	}

	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return 0, errBodyTooLarge
	}
	return n, err
}

// parseLimit converts "1M", "512K", "2G" or a bare byte count to bytes.
// Anything unparseable falls back to 1MB.
func parseLimit(s string) int64 {
	const fallback = 1 << 20

	s = strings.ToUpper(strings.TrimSpace(s))
	unit := int64(1)
	for _, suffix := range []struct {
		label string
		size  int64
	}{
		{"GB", 1 << 30}, {"G", 1 << 30},
		{"MB", 1 << 20}, {"M", 1 << 20},
		{"KB", 1 << 10}, {"K", 1 << 10},
	} {
		if strings.HasSuffix(s, suffix.label) {
			unit = suffix.size
			s = strings.TrimSuffix(s, suffix.label)
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n * unit
}
