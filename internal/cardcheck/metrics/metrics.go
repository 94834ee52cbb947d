package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for card verification.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Verification outcomes by source and status
	Verifications *prometheus.CounterVec

	// End-to-end verification latency by source
	VerificationLatency *prometheus.HistogramVec

	// Browser process launches and forced resets after failed use
	BrowserLaunches prometheus.Counter
	BrowserResets   prometheus.Counter

	// Photo persistence outcomes: "saved", "failed"
	PhotoSaves *prometheus.CounterVec

	// Register lookups: "hit", "miss", "error"
	RegisterLookups *prometheus.CounterVec

	// Fraud assessments by level
	FraudAssessments *prometheus.CounterVec
}

// New registers the metrics with the default Prometheus registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecomply_cardcheck_verifications_total",
			Help: "Card verifications by source and resulting status",
		}, []string{"source", "status"}),

		VerificationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecomply_cardcheck_verification_duration_seconds",
			Help:    "Duration of a single card verification by source",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"source"}),

		BrowserLaunches: f.NewCounter(prometheus.CounterOpts{
			Name: "sitecomply_cardcheck_browser_launches_total",
			Help: "Headless browser processes launched",
		}),

		BrowserResets: f.NewCounter(prometheus.CounterOpts{
			Name: "sitecomply_cardcheck_browser_resets_total",
			Help: "Browser sessions torn down after a failed lookup",
		}),

		PhotoSaves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecomply_cardcheck_photo_saves_total",
			Help: "Card-holder photo persistence attempts by outcome",
		}, []string{"outcome"}),

		RegisterLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecomply_cardcheck_register_lookups_total",
			Help: "Register lookups by cache outcome",
		}, []string{"outcome"}),

		FraudAssessments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecomply_cardcheck_fraud_assessments_total",
			Help: "Card image fraud assessments by level",
		}, []string{"level"}),
	}
}

// ObserveVerification records one finished verification
func (m *Metrics) ObserveVerification(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(source, status).Inc()
	m.VerificationLatency.WithLabelValues(source).Observe(d.Seconds())
}

// IncBrowserLaunch records a browser launch
func (m *Metrics) IncBrowserLaunch() {
	if m != nil {
		m.BrowserLaunches.Inc()
	}
}

// IncBrowserReset records a session torn down after failure
func (m *Metrics) IncBrowserReset() {
	if m != nil {
		m.BrowserResets.Inc()
	}
}

// IncPhotoSave records a photo save outcome
func (m *Metrics) IncPhotoSave(outcome string) {
	if m != nil {
		m.PhotoSaves.WithLabelValues(outcome).Inc()
	}
}

// IncRegisterLookup records a register lookup outcome
func (m *Metrics) IncRegisterLookup(outcome string) {
	if m != nil {
		m.RegisterLookups.WithLabelValues(outcome).Inc()
	}
}

// IncFraudAssessment records the level of a fraud assessment
func (m *Metrics) IncFraudAssessment(level string) {
	if m != nil {
		m.FraudAssessments.WithLabelValues(level).Inc()
	}
}
