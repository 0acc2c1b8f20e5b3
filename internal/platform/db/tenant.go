package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// tenantIDPattern is deliberately strict: the tenant id becomes part of a
// schema name, so anything beyond word characters is rejected outright.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func schemaFor(tenantID string) string {
	return "tenant_" + tenantID
}

func setSearchPath(ctx context.Context, conn *pgxpool.Conn, schema string) error {
	_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema))
	return err
}

// tenantContext derives a context carrying the tenant id and its pinned
// connection, which is what repositories resolve their querier from.
func tenantContext(ctx context.Context, tenantID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, DBConnKey, conn)
}

// TenantMiddleware resolves the tenant for each request, pins a pool
// connection to the tenant's schema via search_path, and stores both on the
// request context. Every configuration and answer-record query downstream
// runs against tenant_<id> without naming it.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := resolveTenantID(c, defaultTenant)
			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if err := setSearchPath(ctx, conn, schemaFor(tenantID)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			c.SetRequest(c.Request().WithContext(tenantContext(ctx, tenantID, conn)))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

// resolveTenantID picks the tenant in precedence order: verified token
// claim, X-Tenant-ID header, query parameter, configured default. The claim
// comes first so a caller cannot hop tenants with a spoofed header.
func resolveTenantID(c echo.Context, defaultTenant string) string {
	claim, _ := c.Get("jwt_tenant_id").(string)
	for _, candidate := range []string{
		claim,
		c.Request().Header.Get("X-Tenant-ID"),
		c.QueryParam("tenant_id"),
	} {
		if candidate != "" {
			return candidate
		}
	}
	return defaultTenant
}

// ListTenantSchemas returns the ids of every tenant that has a tenant_<id>
// schema, for background jobs that must visit each tenant in turn.
func ListTenantSchemas(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name LIKE 'tenant\_%'`)
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ids = append(ids, strings.TrimPrefix(name, "tenant_"))
	}
	return ids, rows.Err()
}

// WithTenantConn pins a pool connection to the tenant's schema and runs fn
// with a context carrying it, the same wiring TenantMiddleware provides for
// requests. Background jobs use it to run repository code per tenant.
func WithTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	schema := schemaFor(tenantID)
	if err := setSearchPath(ctx, conn, schema); err != nil {
		return fmt.Errorf("pin schema %s: %w", schema, err)
	}

	return fn(tenantContext(ctx, tenantID, conn))
}

// CreateTenantSchema creates the schema for a new tenant and brings it up
// to the current migration level. An empty migrationsDir skips migrations,
// which onboarding scripts use to create the schema first and migrate in a
// separate controlled step.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrationsDir string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := schemaFor(tenantID)
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		if _, err := NewMigrator(pool, migrationsDir).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
