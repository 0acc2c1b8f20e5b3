// Package db holds the PostgreSQL plumbing shared by every repository:
// pool construction, tenant schema routing, transaction propagation and the
// migration runner. Repositories never touch the pool directly for
// request-scoped work; they resolve their querier from the context so the
// same code runs against the request's tenant connection, an open
// transaction, or the bare pool in that order of preference.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	// TenantIDKey carries the resolved tenant identifier.
	TenantIDKey contextKey = "tenant_id"
	// DBConnKey carries the tenant-scoped pool connection for the request.
	DBConnKey contextKey = "db_conn"
	// DBTxKey carries an open transaction; repositories prefer it over the
	// connection so multi-statement operations stay atomic.
	DBTxKey contextKey = "db_tx"
)

// ConnFromContext retrieves the tenant-scoped database connection.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TxFromContext retrieves the open transaction, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// TenantFromContext retrieves the tenant identifier.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// WithTx begins a transaction on the request's tenant connection and
// returns a derived context carrying it. The caller owns the transaction:
// defer a rollback and commit on success. Repository calls made with the
// returned context run inside the transaction automatically.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}
