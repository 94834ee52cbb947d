package service

import (
	"strings"
	"time"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
)

// demoPhoto is a 1x1 grey PNG standing in for a holder photo
const demoPhoto = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAAAAAA6fptVAAAACklEQVR4nGNoAAAAggCBd81ytgAAAABJRU5ErkJggg=="

func (v *Verifier) isDemoCard(cardNumber string) bool {
	return v.cfg.DemoEnabled &&
		v.cfg.DemoCardNumber != "" &&
		strings.EqualFold(cardNumber, v.cfg.DemoCardNumber)
}

// demoResult is the canned Valid result for the demo card. It never touches the browser.
func (v *Verifier) demoResult(cardNumber, scheme string) *domain.VerificationResult {
	r := domain.NewResult(cardNumber, scheme, domain.SourceDemo)
	r.Status = domain.StatusValid
	r.HolderName = "Demo Cardholder"
	r.CardType = "Green CSCS Card"
	r.ExpiryDate = time.Now().UTC().AddDate(2, 0, 0).Format("02/01/2006")
	r.HolderPhotoBase64 = demoPhoto
	return r
}
