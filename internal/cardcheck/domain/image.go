package domain

// FraudLevel grades how suspicious a photographed card looks
type FraudLevel string

const (
	FraudLow      FraudLevel = "LOW"
	FraudMedium   FraudLevel = "MEDIUM"
	FraudHigh     FraudLevel = "HIGH"
	FraudCritical FraudLevel = "CRITICAL"
)

// NeedsReview reports whether a human should look at the card
func (l FraudLevel) NeedsReview() bool {
	return l == FraudHigh || l == FraudCritical
}

// CardImageAnalysis holds the fields a vision model read from a card photograph.
// ApparentStatus is the model's raw opinion and never becomes the result status.
type CardImageAnalysis struct {
	CardNumber       string   `json:"card_number"`
	HolderName       string   `json:"holder_name"`
	CardType         string   `json:"card_type"`
	ExpiryDate       string   `json:"expiry_date"`
	CardColour       string   `json:"card_colour"`
	SecurityFeatures []string `json:"security_features"`
	QualityScore     int      `json:"quality_score"`
	FraudIndicators  []string `json:"fraud_indicators"`
	ApparentStatus   string   `json:"apparent_status,omitempty"`
}

// FraudAssessment is advisory metadata for a reviewer, independent of CardStatus
type FraudAssessment struct {
	Level           FraudLevel `json:"level"`
	Score           int        `json:"score"`
	RiskFactors     []string   `json:"risk_factors"`
	Recommendations []string   `json:"recommendations"`
}

// ImageVerification is the outcome of the photographed-card path
type ImageVerification struct {
	Result   *VerificationResult `json:"result"`
	Analysis *CardImageAnalysis  `json:"analysis,omitempty"`
	Fraud    *FraudAssessment    `json:"fraud,omitempty"`
}
