package service

import (
	"context"
	"errors"
	"time"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/register"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/vision"
)

// ErrVisionUnavailable is returned when no vision provider is configured
var ErrVisionUnavailable = errors.New("image verification is not configured")

// AnalyzeCardImage reads a photographed card, cross-checks the card number
// with the register and scores fraud risk. The returned error is only set
// for unusable input or a missing provider; provider failures become Error results.
func (v *Verifier) AnalyzeCardImage(ctx context.Context, image []byte, mimeType string) (*domain.ImageVerification, error) {
	start := time.Now()
	scheme := v.cfg.DefaultScheme

	if v.vision == nil {
		return nil, ErrVisionUnavailable
	}

	a, err := v.vision.AnalyzeCard(ctx, image, mimeType)
	switch {
	case errors.Is(err, vision.ErrNotConfigured):
		return nil, ErrVisionUnavailable
	case errors.Is(err, vision.ErrUnsupportedImage), errors.Is(err, vision.ErrImageTooLarge):
		return nil, err
	case err != nil:
		v.log.Warn().Err(err).Msg("card image analysis failed")
		r := domain.ErrorResult("", scheme, domain.SourceImage, "image analysis failed: "+err.Error())
		return &domain.ImageVerification{Result: v.finish(ctx, r, nil, start)}, nil
	}

	r := domain.NewResult(a.CardNumber, scheme, domain.SourceImage)
	r.HolderName = a.HolderName
	r.CardType = a.CardType
	r.ExpiryDate = a.ExpiryDate
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	r.CardImageBase64 = photo.EncodeDataURI(mimeType, image)

	registered := v.crossCheck(ctx, a, r)

	fraud := vision.AssessFraud(a, registered)
	v.metrics.IncFraudAssessment(string(fraud.Level))

	return &domain.ImageVerification{
		Result:   v.finish(ctx, r, fraud, start),
		Analysis: a,
		Fraud:    fraud,
	}, nil
}

// crossCheck sets r's status from the register and returns the register view
// for fraud scoring, or nil when no usable lookup happened
func (v *Verifier) crossCheck(ctx context.Context, a *domain.CardImageAnalysis, r *domain.VerificationResult) *domain.VerificationResult {
	switch {
	case a.CardNumber == "":
		r.Status = domain.StatusError
		r.ErrorMessage = "no card number could be read from the image"
		return nil
	case v.register == nil:
		r.Status = domain.StatusError
		r.ErrorMessage = "card could not be cross-checked: register lookup is not configured"
		return nil
	}

	rec, err := v.register.Lookup(ctx, r.Scheme, a.CardNumber)
	reg := register.BuildResult(a.CardNumber, r.Scheme, rec, err, a.HolderName)
	if reg.Status == domain.StatusError {
		r.Status = domain.StatusError
		r.ErrorMessage = "register cross-check failed: " + reg.ErrorMessage
		return nil
	}

	r.Status = reg.Status
	r.ErrorMessage = reg.ErrorMessage
	r.HolderNameMatched = reg.HolderNameMatched
	if reg.HolderName != "" {
		r.HolderName = reg.HolderName
	}
	if reg.ExpiryDate != "" {
		r.ExpiryDate = reg.ExpiryDate
	}
	return reg
}
