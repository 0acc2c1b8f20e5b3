package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinform/clinform/internal/platform/auth"
)

// AuditEntry is one line of the access trail: who touched which form
// domain, when, from where, and how.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TeamID     string
	Domain     string
	SubjectID  string
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. Keeping it an interface decouples
// the middleware from any concrete store, so tests can provide a mock.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc adapts a plain function to AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns Echo middleware that logs every /api/v1/* request: the
// authenticated actor, their roles and team, the domain touched, and the
// subject when one appears in the request. Clinical answers are PHI, so the
// trail must cover reads as well as writes.
//
// Recording is fire-and-forget: a recorder failure is logged but never fails
// the request, and a structured form_access event is always emitted.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/v1/") {
				return next(c)
			}

			// The handler runs first; the trail wants the response status.
			err := next(c)

			entry := newAuditEntry(c)
			for _, rec := range recorders {
				if rec == nil {
					continue
				}
				if recErr := rec.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("team_id", entry.TeamID).
				Str("domain", entry.Domain).
				Str("subject_id", entry.SubjectID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("form_access")

			return err
		}
	}
}

func newAuditEntry(c echo.Context) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	return AuditEntry{
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		TeamID:     auth.TeamFromContext(ctx),
		Domain:     domainOf(req.URL.Path),
		SubjectID:  subjectOf(c),
		Action:     actionFor(req.Method),
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
		Path:       req.URL.Path,
		Method:     req.Method,
		Timestamp:  time.Now().UTC(),
		RequestID:  requestIDFrom(c),
		StatusCode: c.Response().Status,
	}
}

var methodActions = map[string]string{
	http.MethodGet:    "read",
	http.MethodHead:   "read",
	http.MethodPost:   "create",
	http.MethodPut:    "update",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

func actionFor(method string) string {
	if action, ok := methodActions[method]; ok {
		return action
	}
	return "read"
}

// domainOf takes the first path segment after /api/v1/, e.g.
// /api/v1/form-configurations/123 -> form-configurations.
func domainOf(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/api/v1/"), "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// subjectOf finds a subject identifier in /api/v1/subjects/<id> paths or
// the subject query parameter.
func subjectOf(c echo.Context) string {
	if rest, ok := strings.CutPrefix(c.Request().URL.Path, "/api/v1/subjects/"); ok {
		if id, _, _ := strings.Cut(rest, "/"); id != "" {
			return id
		}
	}
	return c.QueryParam("subject")
}
