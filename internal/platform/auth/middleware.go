package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	UserTeamKey  contextKey = "user_team"
)

// Claims are the JWT claims the server understands. TenantID selects the
// schema the request operates in, TeamID is the care team the caller belongs
// to (empty for platform-level operators), and Roles drive RequireRole.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	TeamID   string   `json:"team_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation to HMAC. Shared-secret deployments only.
	SigningKey []byte
}

// JWTMiddleware validates bearer tokens on every request except public
// infrastructure paths. With a SigningKey configured it checks HS256
// shared-secret tokens; otherwise it checks RS256 signatures against the
// JWKS endpoint, discovered from the issuer when none is configured.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" && len(cfg.SigningKey) == 0 {
		if provider, err := NewOIDCProvider(cfg.Issuer); err == nil {
			jwksURL = provider.JWKSURI
		}
	}

	// The parser options and key source never change per request, so both
	// are assembled once here.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyfn jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyfn = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		keyfn = jwksKeyFunc(jwksURL)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsPublicPath(c.Request().URL.Path) {
				return next(c)
			}

			raw, httpErr := bearerToken(c)
			if httpErr != nil {
				return httpErr
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyfn, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			bindClaims(c, claims)
			return next(c)
		}
	}
}

// bearerToken pulls the credential out of the Authorization header.
func bearerToken(c echo.Context) (string, *echo.HTTPError) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || token == "" || !strings.EqualFold(scheme, "bearer") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return token, nil
}

// bindClaims exposes verified claims to the rest of the request: the
// tenant on the echo context for schema selection, the user identity on
// the request context for services and handlers.
func bindClaims(c echo.Context, claims *Claims) {
	c.Set("jwt_tenant_id", claims.TenantID)

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
	ctx = context.WithValue(ctx, UserTeamKey, claims.TeamID)
	c.SetRequest(c.Request().WithContext(ctx))
}

// DevAuthMiddleware stamps unauthenticated requests with an admin dev
// identity on the default tenant. Requests that do carry a token pass
// through untouched. Local development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				bindClaims(c, &Claims{
					RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-user"},
					TenantID:         "default",
					Roles:            []string{"admin"},
				})
			}
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated subject, or empty.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// RolesFromContext returns the caller's roles, or nil.
func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// TeamFromContext returns the caller's team id, or empty for
// platform-level operators and unauthenticated development requests.
func TeamFromContext(ctx context.Context) string {
	team, _ := ctx.Value(UserTeamKey).(string)
	return team
}
