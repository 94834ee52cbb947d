package service

import (
	"context"
	"strings"
	"time"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/register"
)

// ManualCheck looks the card up directly in the register. A non-empty
// holderNameHint is compared with the register name; the comparison never
// changes the status.
func (v *Verifier) ManualCheck(ctx context.Context, cardNumber, holderNameHint string) *domain.VerificationResult {
	start := time.Now()
	cardNumber = strings.TrimSpace(cardNumber)
	scheme := v.cfg.DefaultScheme

	if cardNumber == "" {
		return v.finish(ctx, domain.ErrorResult(cardNumber, scheme, domain.SourceRegister, "card number is required"), nil, start)
	}
	if v.register == nil {
		return v.finish(ctx, domain.ErrorResult(cardNumber, scheme, domain.SourceRegister, "register lookup is not configured"), nil, start)
	}

	rec, err := v.register.Lookup(ctx, scheme, cardNumber)
	if err != nil && register.Category(err) != register.ErrorNotFound {
		v.log.Warn().Err(err).
			Str("card_number", domain.MaskCardNumber(cardNumber)).
			Str("category", string(register.Category(err))).
			Msg("register lookup failed")
	}

	return v.finish(ctx, register.BuildResult(cardNumber, scheme, rec, err, holderNameHint), nil, start)
}
