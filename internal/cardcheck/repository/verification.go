package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/pkg/database"
	"github.com/sitecomply/sitecomply-backend/pkg/tenant"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilter narrows a history listing. Zero values match everything.
type ListFilter struct {
	CardNumber string
	Status     domain.CardStatus
	Limit      int
}

// VerificationRepository stores verification history per tenant
type VerificationRepository struct {
	db *database.DB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *database.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Save inserts a history row for the tenant in ctx
func (r *VerificationRepository) Save(ctx context.Context, rec *domain.VerificationRecord) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.TenantID = tenantID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO card_verifications (
			id, tenant_id, card_number, scheme, status, source, holder_name, card_type,
			expiry_date, error_message, stored_photo_path, fraud_level, fraud_score,
			requested_by, verified_at, created_at
		) VALUES (
			:id, :tenant_id, :card_number, :scheme, :status, :source, :holder_name, :card_type,
			:expiry_date, :error_message, :stored_photo_path, :fraud_level, :fraud_score,
			:requested_by, :verified_at, :created_at
		)
	`

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		_, err := r.db.NamedExecContext(ctx, query, rec)
		return err
	})
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// List returns the newest history rows first
func (r *VerificationRepository) List(ctx context.Context, filter ListFilter) ([]*domain.VerificationRecord, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT * FROM card_verifications
		WHERE tenant_id = $1
		  AND ($2::text = '' OR card_number = $2)
		  AND ($3::text = '' OR status = $3)
		ORDER BY verified_at DESC
		LIMIT $4
	`

	records := []*domain.VerificationRecord{}
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &records, query, tenantID, filter.CardNumber, string(filter.Status), limit)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListByCard returns the history of one card
func (r *VerificationRepository) ListByCard(ctx context.Context, cardNumber string, limit int) ([]*domain.VerificationRecord, error) {
	return r.List(ctx, ListFilter{CardNumber: cardNumber, Limit: limit})
}
