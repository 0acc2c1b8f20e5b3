package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinform/clinform/internal/platform/auth"
)

// Logger emits one structured access log line per request. Probe endpoints
// (health, readiness, metrics) stay quiet unless they fail, and the log
// level tracks the response status so 5xx lines surface in error views.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err == nil && auth.IsPublicPath(c.Request().URL.Path) {
				return nil
			}
			accessLine(logger, c, err, time.Since(start))
			return err
		}
	}
}

// accessLine writes the log entry for one completed request. Handler errors
// and 5xx responses log at error level, other client failures warn, and
// everything else is informational.
func accessLine(logger zerolog.Logger, c echo.Context, err error, latency time.Duration) {
	req, res := c.Request(), c.Response()

	var evt *zerolog.Event
	switch {
	case err != nil || res.Status >= http.StatusInternalServerError:
		evt = logger.Error().Err(err)
	case res.Status >= http.StatusBadRequest:
		evt = logger.Warn()
	default:
		evt = logger.Info()
	}

	evt.Str("request_id", requestIDFrom(c)).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", res.Status).
		Int64("bytes_out", res.Size).
		Dur("latency", latency).
		Str("remote_ip", c.RealIP()).
		Msg("request")
}
