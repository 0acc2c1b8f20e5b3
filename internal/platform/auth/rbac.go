package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole admits callers holding at least one of the given roles.
// Administrators pass every check: they manage form configurations and by
// extension everything below them.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles)+1)
	for _, r := range roles {
		allowed[r] = true
	}
	allowed["admin"] = true
	denied := "required role: " + strings.Join(roles, " or ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, r := range RolesFromContext(c.Request().Context()) {
				if allowed[r] {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, denied)
		}
	}
}
