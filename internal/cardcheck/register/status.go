package register

import (
	"errors"
	"strings"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
)

// Vocabulary maps register statuses onto CardStatus
var Vocabulary = domain.NewStatusVocabulary("register", map[string]domain.CardStatus{
	"ACTIVE":    domain.StatusValid,
	"VALID":     domain.StatusValid,
	"EXPIRED":   domain.StatusExpired,
	"REVOKED":   domain.StatusRevoked,
	"CANCELLED": domain.StatusRevoked,
	"SUSPENDED": domain.StatusRevoked,
	"INVALID":   domain.StatusInvalid,
	"NOT_FOUND": domain.StatusNotFound,
	"UNKNOWN":   domain.StatusNotFound,
})

// BuildResult turns a lookup outcome into a verification result. A non-empty
// nameHint is compared with the register holder name and only sets HolderNameMatched.
func BuildResult(cardNumber, scheme string, rec *Record, lookupErr error, nameHint string) *domain.VerificationResult {
	r := domain.NewResult(cardNumber, scheme, domain.SourceRegister)

	switch {
	case errors.Is(lookupErr, ErrNotFound):
		r.Status = domain.StatusNotFound
		return r.Normalize()
	case lookupErr != nil:
		r.Status = domain.StatusError
		r.ErrorMessage = lookupErr.Error()
		return r.Normalize()
	case rec == nil:
		r.Status = domain.StatusError
		return r.Normalize()
	}

	status, ok := Vocabulary.Map(rec.Status)
	r.Status = status
	if !ok {
		r.ErrorMessage = "unrecognised register status " + rec.Status
	}

	r.HolderName = rec.HolderName
	r.CardType = rec.CardType
	r.ExpiryDate = rec.ExpiryDate

	if hint := strings.TrimSpace(nameHint); hint != "" && rec.HolderName != "" {
		matched := domain.NamesMatch(hint, rec.HolderName)
		r.HolderNameMatched = &matched
	}

	return r.Normalize()
}
