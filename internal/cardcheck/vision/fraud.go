package vision

import (
	"strings"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
)

// Vocabulary maps the model's apparent_status. It is advisory only and feeds
// fraud scoring, never the result status.
var Vocabulary = domain.NewStatusVocabulary("vision", map[string]domain.CardStatus{
	"VALID":   domain.StatusValid,
	"ACTIVE":  domain.StatusValid,
	"EXPIRED": domain.StatusExpired,
})

// Score weights
const (
	weightIndicator      = 20
	weightLowQuality     = 15
	weightNoSecurity     = 15
	weightNotInRegister  = 30
	weightRevoked        = 30
	weightNameMismatch   = 25
	weightExpired        = 10
	weightColourMismatch = 15

	lowQualityThreshold = 50
	maxScore            = 100
)

var cardColours = []string{"green", "red", "blue", "gold", "black", "white", "yellow"}

// AssessFraud scores a card photograph. registered is the register cross-check
// for the extracted card number and may be nil when no lookup was possible.
func AssessFraud(a *domain.CardImageAnalysis, registered *domain.VerificationResult) *domain.FraudAssessment {
	fa := &domain.FraudAssessment{
		RiskFactors:     []string{},
		Recommendations: []string{},
	}
	if a == nil {
		fa.Level = domain.FraudCritical
		fa.Score = maxScore
		fa.RiskFactors = append(fa.RiskFactors, "Card could not be analysed")
		fa.Recommendations = recommendationsFor(fa.Level)
		return fa
	}

	add := func(points int, factor string) {
		fa.Score += points
		fa.RiskFactors = append(fa.RiskFactors, factor)
	}

	for _, ind := range a.FraudIndicators {
		add(weightIndicator, "Fraud indicator: "+ind)
	}
	if a.QualityScore < lowQualityThreshold {
		add(weightLowQuality, "Low image quality")
		fa.Recommendations = append(fa.Recommendations, "Retake the photograph in good light with the whole card in frame")
	}
	if len(a.SecurityFeatures) == 0 {
		add(weightNoSecurity, "No security features visible")
	}
	if colourMismatch(a.CardColour, a.CardType) {
		add(weightColourMismatch, "Card colour does not match card type")
	}

	expired := false
	if registered != nil {
		switch registered.Status {
		case domain.StatusNotFound:
			add(weightNotInRegister, "Card not found in register")
		case domain.StatusRevoked:
			add(weightRevoked, "Card revoked in register")
		case domain.StatusExpired:
			expired = true
		}
		if registered.HolderName != "" && a.HolderName != "" && !domain.NamesMatch(registered.HolderName, a.HolderName) {
			add(weightNameMismatch, "Holder name differs from register")
		}
	}
	if !expired {
		if s, ok := Vocabulary.Map(a.ApparentStatus); ok && s == domain.StatusExpired {
			expired = true
		}
	}
	if expired {
		add(weightExpired, "Card has expired")
	}

	if fa.Score > maxScore {
		fa.Score = maxScore
	}
	fa.Level = LevelFor(fa.Score)
	fa.Recommendations = append(fa.Recommendations, recommendationsFor(fa.Level)...)
	return fa
}

// LevelFor buckets a score
func LevelFor(score int) domain.FraudLevel {
	switch {
	case score < 25:
		return domain.FraudLow
	case score < 50:
		return domain.FraudMedium
	case score < 75:
		return domain.FraudHigh
	default:
		return domain.FraudCritical
	}
}

func recommendationsFor(level domain.FraudLevel) []string {
	switch level {
	case domain.FraudLow:
		return []string{"No further action required"}
	case domain.FraudMedium:
		return []string{"Check the physical card at site induction"}
	case domain.FraudHigh:
		return []string{"Verify the card in person before granting site access", "Confirm the holder's identity with photo ID"}
	default:
		return []string{"Refuse site access until the card scheme confirms the card", "Escalate to the site compliance manager"}
	}
}

func colourMismatch(colour, cardType string) bool {
	colour = strings.ToLower(strings.TrimSpace(colour))
	cardType = strings.ToLower(cardType)
	if colour == "" || cardType == "" {
		return false
	}
	for _, c := range cardColours {
		if strings.Contains(cardType, c) {
			return !strings.Contains(colour, c)
		}
	}
	return false
}
