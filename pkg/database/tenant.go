package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// WithTenantRLS executes fn inside a transaction scoped to one tenant.
//
// The transaction sets the service search_path and app.current_tenant with
// SET LOCAL semantics, so both reset on commit or rollback. Row level security
// policies on the service tables filter on current_setting('app.current_tenant').
//
// Queries issued through db.GetContext, db.SelectContext and db.NamedExecContext
// with the ctx passed to fn run on that transaction.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		searchPath := db.SearchPath()
		if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+searchPath); err != nil {
			return fmt.Errorf("failed to set search_path to %s: %w", searchPath, err)
		}

		// set_config with is_local=true is the parameterised form of SET LOCAL.
		if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID); err != nil {
			return fmt.Errorf("failed to set app.current_tenant: %w", err)
		}

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// getTx extracts transaction from context if present
func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
