package domain

import "time"

// VerificationRecord is the persisted history row for one result.
// Photos are referenced by stored path only; base64 payloads are not stored.
type VerificationRecord struct {
	ID              string     `json:"id" db:"id"`
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	CardNumber      string     `json:"card_number" db:"card_number"`
	Scheme          string     `json:"scheme" db:"scheme"`
	Status          CardStatus `json:"status" db:"status"`
	Source          Source     `json:"source" db:"source"`
	HolderName      *string    `json:"holder_name,omitempty" db:"holder_name"`
	CardType        *string    `json:"card_type,omitempty" db:"card_type"`
	ExpiryDate      *string    `json:"expiry_date,omitempty" db:"expiry_date"`
	ErrorMessage    *string    `json:"error_message,omitempty" db:"error_message"`
	StoredPhotoPath *string    `json:"stored_photo_path,omitempty" db:"stored_photo_path"`
	FraudLevel      *string    `json:"fraud_level,omitempty" db:"fraud_level"`
	FraudScore      *int       `json:"fraud_score,omitempty" db:"fraud_score"`
	RequestedBy     *string    `json:"requested_by,omitempty" db:"requested_by"`
	VerifiedAt      time.Time  `json:"verified_at" db:"verified_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// NewRecord converts a result into a history row
func NewRecord(tenantID, requestedBy string, r *VerificationResult, fraud *FraudAssessment) *VerificationRecord {
	rec := &VerificationRecord{
		ID:              r.ID,
		TenantID:        tenantID,
		CardNumber:      r.CardNumber,
		Scheme:          r.Scheme,
		Status:          r.Status,
		Source:          r.Source,
		HolderName:      optional(r.HolderName),
		CardType:        optional(r.CardType),
		ExpiryDate:      optional(r.ExpiryDate),
		ErrorMessage:    optional(r.ErrorMessage),
		StoredPhotoPath: optional(r.StoredPhotoPath),
		RequestedBy:     optional(requestedBy),
		VerifiedAt:      r.VerificationTimestamp,
	}
	if fraud != nil {
		level := string(fraud.Level)
		score := fraud.Score
		rec.FraudLevel = &level
		rec.FraudScore = &score
	}
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
