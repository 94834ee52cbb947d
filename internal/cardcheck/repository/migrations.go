package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sitecomply/sitecomply-backend/pkg/database"
)

// SearchPath is the schema search path for cardcheck tenant transactions
const SearchPath = "cardcheck, public"

// Migrations creates the cardcheck schema. Statements are idempotent.
var Migrations = []string{
	`CREATE SCHEMA IF NOT EXISTS cardcheck`,

	`CREATE TABLE IF NOT EXISTS cardcheck.card_verifications (
		id                UUID PRIMARY KEY,
		tenant_id         UUID NOT NULL,
		card_number       TEXT NOT NULL,
		scheme            TEXT NOT NULL DEFAULT 'CSCS',
		status            TEXT NOT NULL,
		source            TEXT NOT NULL,
		holder_name       TEXT,
		card_type         TEXT,
		expiry_date       TEXT,
		error_message     TEXT,
		stored_photo_path TEXT,
		fraud_level       TEXT,
		fraud_score       INTEGER,
		requested_by      TEXT,
		verified_at       TIMESTAMPTZ NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT card_verifications_status_valid
			CHECK (status IN ('valid', 'expired', 'revoked', 'invalid', 'not_found', 'error')),
		CONSTRAINT card_verifications_source_valid
			CHECK (source IN ('portal', 'register', 'image', 'demo')),
		CONSTRAINT card_verifications_fraud_level_valid
			CHECK (fraud_level IS NULL OR fraud_level IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
		CONSTRAINT card_verifications_fraud_score_range
			CHECK (fraud_score IS NULL OR fraud_score BETWEEN 0 AND 100)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_card_verifications_tenant_card
		ON cardcheck.card_verifications (tenant_id, card_number, verified_at DESC)`,

	`ALTER TABLE cardcheck.card_verifications ENABLE ROW LEVEL SECURITY`,

	`DROP POLICY IF EXISTS tenant_isolation ON cardcheck.card_verifications`,

	`CREATE POLICY tenant_isolation ON cardcheck.card_verifications
		USING (tenant_id = NULLIF(current_setting('app.current_tenant', true), '')::uuid)
		WITH CHECK (tenant_id = NULLIF(current_setting('app.current_tenant', true), '')::uuid)`,
}

// Migrate applies Migrations in one transaction
func Migrate(ctx context.Context, db *database.DB) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for i, stmt := range Migrations {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("cardcheck migration %d: %w", i+1, err)
			}
		}
		return nil
	})
}
