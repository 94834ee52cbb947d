package vision_test

import (
	"testing"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/vision"
)

func cleanAnalysis() *domain.CardImageAnalysis {
	return &domain.CardImageAnalysis{
		CardNumber:       "12345678",
		HolderName:       "Jane Smith",
		CardType:         "Green CSCS Card",
		CardColour:       "green",
		SecurityFeatures: []string{"hologram"},
		QualityScore:     90,
		ApparentStatus:   "VALID",
	}
}

func TestAssessFraud(t *testing.T) {
	validReg := &domain.VerificationResult{Status: domain.StatusValid, HolderName: "Jane Smith"}

	tests := []struct {
		name      string
		modify    func(a *domain.CardImageAnalysis)
		reg       *domain.VerificationResult
		wantScore int
		wantLevel domain.FraudLevel
	}{
		{
			name:      "clean card matching register",
			reg:       validReg,
			wantScore: 0,
			wantLevel: domain.FraudLow,
		},
		{
			name:      "low quality without security features",
			modify:    func(a *domain.CardImageAnalysis) { a.QualityScore = 30; a.SecurityFeatures = nil },
			wantScore: 30,
			wantLevel: domain.FraudMedium,
		},
		{
			name:      "not in register",
			reg:       &domain.VerificationResult{Status: domain.StatusNotFound},
			wantScore: 30,
			wantLevel: domain.FraudMedium,
		},
		{
			name:      "name mismatch and indicator",
			modify:    func(a *domain.CardImageAnalysis) { a.FraudIndicators = []string{"edited text"} },
			reg:       &domain.VerificationResult{Status: domain.StatusValid, HolderName: "John Doe"},
			wantScore: 45,
			wantLevel: domain.FraudMedium,
		},
		{
			name:      "colour mismatch and revoked",
			modify:    func(a *domain.CardImageAnalysis) { a.CardColour = "blue" },
			reg:       &domain.VerificationResult{Status: domain.StatusRevoked},
			wantScore: 45,
			wantLevel: domain.FraudMedium,
		},
		{
			name:      "expired per register",
			reg:       &domain.VerificationResult{Status: domain.StatusExpired},
			wantScore: 10,
			wantLevel: domain.FraudLow,
		},
		{
			name:      "expired per model only",
			modify:    func(a *domain.CardImageAnalysis) { a.ApparentStatus = "expired" },
			wantScore: 10,
			wantLevel: domain.FraudLow,
		},
		{
			name: "many indicators cap at 100",
			modify: func(a *domain.CardImageAnalysis) {
				a.FraudIndicators = []string{"a", "b", "c", "d", "e", "f"}
			},
			reg:       &domain.VerificationResult{Status: domain.StatusNotFound},
			wantScore: 100,
			wantLevel: domain.FraudCritical,
		},
		{
			name: "three indicators is high",
			modify: func(a *domain.CardImageAnalysis) {
				a.FraudIndicators = []string{"screen capture", "font mismatch", "damaged laminate"}
			},
			wantScore: 60,
			wantLevel: domain.FraudHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := cleanAnalysis()
			if tt.modify != nil {
				tt.modify(a)
			}

			got := vision.AssessFraud(a, tt.reg)

			if got.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d (factors %v)", got.Score, tt.wantScore, got.RiskFactors)
			}
			if got.Level != tt.wantLevel {
				t.Errorf("Level = %s, want %s", got.Level, tt.wantLevel)
			}
			if len(got.Recommendations) == 0 {
				t.Error("expected at least one recommendation")
			}
			if tt.wantScore > 0 && len(got.RiskFactors) == 0 {
				t.Error("expected risk factors for a non-zero score")
			}
		})
	}
}

func TestAssessFraud_NilAnalysis(t *testing.T) {
	got := vision.AssessFraud(nil, nil)
	if got.Level != domain.FraudCritical || got.Score != 100 {
		t.Errorf("AssessFraud(nil) = %s/%d, want CRITICAL/100", got.Level, got.Score)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  domain.FraudLevel
	}{
		{0, domain.FraudLow},
		{24, domain.FraudLow},
		{25, domain.FraudMedium},
		{49, domain.FraudMedium},
		{50, domain.FraudHigh},
		{74, domain.FraudHigh},
		{75, domain.FraudCritical},
		{100, domain.FraudCritical},
	}

	for _, tt := range tests {
		if got := vision.LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
