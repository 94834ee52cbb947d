package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/browser"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/metrics"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/parser"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/register"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/vision"
	"github.com/sitecomply/sitecomply-backend/pkg/config"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
	"github.com/sitecomply/sitecomply-backend/pkg/tenant"
)

// sideEffectTimeout bounds history writes and event publishing after a result is final
const sideEffectTimeout = 5 * time.Second

// PhotoStore persists holder photos
type PhotoStore interface {
	SavePhoto(tenantID, cardNumber, dataURI string) (*domain.StoredPhoto, error)
}

// HistoryStore records verification history
type HistoryStore interface {
	Save(ctx context.Context, rec *domain.VerificationRecord) error
}

// EventPublisher announces finished verifications
type EventPublisher interface {
	PublishCardVerified(ctx context.Context, r *domain.VerificationResult, requestedBy string)
	PublishCardFlagged(ctx context.Context, r *domain.VerificationResult, fraud *domain.FraudAssessment)
	PublishBatchCompleted(ctx context.Context, batchID string, results []*domain.VerificationResult)
}

// Config holds the orchestration settings
type Config struct {
	DefaultScheme       string
	VerificationTimeout time.Duration
	BatchDelay          time.Duration
	TitleKeyword        string
	DemoEnabled         bool
	DemoCardNumber      string
}

// ConfigFrom maps the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DefaultScheme:       cfg.CardCheck.DefaultScheme,
		VerificationTimeout: cfg.CardCheck.VerificationTimeout,
		BatchDelay:          cfg.CardCheck.BatchDelay,
		TitleKeyword:        cfg.Portal.TitleKeyword,
		DemoEnabled:         cfg.CardCheck.Demo.Enabled,
		DemoCardNumber:      cfg.CardCheck.Demo.CardNumber,
	}
}

// Dependencies are the collaborators of a Verifier. Only Sessions and
// Classifier are required; nil optional collaborators disable their feature.
type Dependencies struct {
	Sessions   browser.SessionManager
	Classifier parser.TextClassifier
	Extractor  *photo.Extractor
	Photos     PhotoStore
	Register   register.Client
	Vision     vision.Analyzer
	History    HistoryStore
	Events     EventPublisher
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// Verifier is the single entry point for card verification. Every operation
// returns a VerificationResult; failures become Error results, never panics.
type Verifier struct {
	cfg        Config
	sessions   browser.SessionManager
	classifier parser.TextClassifier
	extractor  *photo.Extractor
	photos     PhotoStore
	register   register.Client
	vision     vision.Analyzer
	history    HistoryStore
	events     EventPublisher
	metrics    *metrics.Metrics
	log        *logger.Logger

	// sem serialises use of the browser session
	sem chan struct{}
}

// NewVerifier creates a verifier
func NewVerifier(cfg Config, deps Dependencies) *Verifier {
	if cfg.DefaultScheme == "" {
		cfg.DefaultScheme = domain.DefaultScheme
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = parser.NewRuleClassifier()
	}

	return &Verifier{
		cfg:        cfg,
		sessions:   deps.Sessions,
		classifier: classifier,
		extractor:  deps.Extractor,
		photos:     deps.Photos,
		register:   deps.Register,
		vision:     deps.Vision,
		history:    deps.History,
		events:     deps.Events,
		metrics:    deps.Metrics,
		log:        log.WithComponent("verifier"),
		sem:        make(chan struct{}, 1),
	}
}

// VerifyCard checks one card against the portal
func (v *Verifier) VerifyCard(ctx context.Context, cardNumber, scheme string) *domain.VerificationResult {
	start := time.Now()
	cardNumber = strings.TrimSpace(cardNumber)
	scheme = v.scheme(scheme)

	if cardNumber == "" {
		r := domain.ErrorResult(cardNumber, scheme, domain.SourcePortal, "card number is required")
		v.metrics.ObserveVerification(string(r.Source), string(r.Status), time.Since(start))
		return r
	}

	if v.isDemoCard(cardNumber) {
		return v.finish(ctx, v.demoResult(cardNumber, scheme), nil, start)
	}

	if v.cfg.VerificationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.VerificationTimeout)
		defer cancel()
	}

	if err := v.acquire(ctx); err != nil {
		r := domain.ErrorResult(cardNumber, scheme, domain.SourcePortal, v.failureMessage("waiting for browser session", err))
		return v.finish(ctx, r, nil, start)
	}
	defer v.releaseSem()

	return v.finish(ctx, v.lookup(ctx, cardNumber, scheme), nil, start)
}

// VerifyMultiple checks cards one at a time in input order, pausing between
// lookups. The result has one entry per input; a cancelled batch fills the
// remaining entries with Error results.
func (v *Verifier) VerifyMultiple(ctx context.Context, cardNumbers []string, scheme string) []*domain.VerificationResult {
	scheme = v.scheme(scheme)
	results := make([]*domain.VerificationResult, len(cardNumbers))

	for i, card := range cardNumbers {
		if i > 0 {
			if err := sleep(ctx, v.cfg.BatchDelay); err != nil {
				v.fillCancelled(results[i:], cardNumbers[i:], scheme, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			v.fillCancelled(results[i:], cardNumbers[i:], scheme, err)
			break
		}
		results[i] = v.VerifyCard(ctx, card, scheme)
	}

	return results
}

// VerifyBatch runs VerifyMultiple and announces the summary under batchID
func (v *Verifier) VerifyBatch(ctx context.Context, batchID string, cardNumbers []string, scheme string) []*domain.VerificationResult {
	results := v.VerifyMultiple(ctx, cardNumbers, scheme)
	if v.events != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		v.events.PublishBatchCompleted(sctx, batchID, results)
	}
	return results
}

// TestConnection reports whether the portal landing page loads and looks right
func (v *Verifier) TestConnection(ctx context.Context) bool {
	if v.cfg.VerificationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.VerificationTimeout)
		defer cancel()
	}

	if err := v.acquire(ctx); err != nil {
		v.log.Warn().Err(err).Msg("connection test could not get the browser session")
		return false
	}
	defer v.releaseSem()

	s, err := v.sessions.Acquire(ctx)
	if err != nil {
		v.log.Warn().Err(err).Msg("connection test failed to start browser")
		return false
	}

	title, err := s.PortalTitle(ctx)
	if err != nil {
		v.sessions.Release(s, true)
		v.log.Warn().Err(err).Msg("connection test failed to load portal")
		return false
	}
	v.sessions.Release(s, false)

	ok := strings.Contains(strings.ToLower(title), strings.ToLower(v.cfg.TitleKeyword))
	v.log.Info().Str("title", title).Bool("connected", ok).Msg("portal connection tested")
	return ok
}

// Shutdown closes the browser session
func (v *Verifier) Shutdown() error {
	return v.sessions.Shutdown()
}

func (v *Verifier) lookup(ctx context.Context, cardNumber, scheme string) *domain.VerificationResult {
	log := v.log.WithCardNumber(domain.MaskCardNumber(cardNumber))

	s, err := v.sessions.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to start browser session")
		return domain.ErrorResult(cardNumber, scheme, domain.SourcePortal, v.failureMessage("starting browser", err))
	}

	snap, err := s.LookupCard(ctx, scheme, cardNumber)
	if err != nil {
		v.sessions.Release(s, true)
		log.Warn().Err(err).Str("scheme", scheme).Msg("portal lookup failed")
		return domain.ErrorResult(cardNumber, scheme, domain.SourcePortal, v.failureMessage("portal lookup", err))
	}

	cls := v.classifier.Classify(snap.Text)
	r := domain.NewResult(cardNumber, scheme, domain.SourcePortal)
	r.Status = cls.Status
	r.HolderName = cls.HolderName
	r.CardType = cls.CardType
	r.ExpiryDate = cls.ExpiryDate
	r.ErrorMessage = cls.ErrorMessage

	if v.extractor != nil && hasCardPage(r.Status) {
		v.extractor.Extract(ctx, s, snap, scheme).Apply(r)
	}
	// An expired budget may leave an in-page fetch pending, so the session is reset.
	v.sessions.Release(s, ctx.Err() != nil)

	v.savePhoto(ctx, r)
	return r
}

func (v *Verifier) savePhoto(ctx context.Context, r *domain.VerificationResult) {
	if v.photos == nil || !r.HasPhoto() {
		return
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		v.log.Debug().Msg("no tenant in context, holder photo not stored")
		return
	}

	stored, err := v.photos.SavePhoto(tenantID, r.CardNumber, r.HolderPhotoBase64)
	if err != nil {
		v.metrics.IncPhotoSave("failed")
		v.log.Error().Err(err).
			Str("card_number", domain.MaskCardNumber(r.CardNumber)).
			Msg("failed to store holder photo")
		return
	}
	v.metrics.IncPhotoSave("saved")
	r.StoredPhotoPath = stored.Path
}

// finish normalises r and runs the best-effort side effects
func (v *Verifier) finish(ctx context.Context, r *domain.VerificationResult, fraud *domain.FraudAssessment, start time.Time) *domain.VerificationResult {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Normalize()

	elapsed := time.Since(start)
	v.metrics.ObserveVerification(string(r.Source), string(r.Status), elapsed)

	v.log.Info().
		Str("verification_id", r.ID).
		Str("card_number", domain.MaskCardNumber(r.CardNumber)).
		Str("scheme", r.Scheme).
		Str("source", string(r.Source)).
		Str("status", string(r.Status)).
		Dur("duration", elapsed).
		Msg("card verification finished")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	requestedBy := tenant.UserID(ctx)
	if v.history != nil {
		if tenantID, err := tenant.TenantID(ctx); err == nil {
			if err := v.history.Save(sctx, domain.NewRecord(tenantID, requestedBy, r, fraud)); err != nil {
				v.log.Error().Err(err).Str("verification_id", r.ID).Msg("failed to record verification history")
			}
		}
	}
	if v.events != nil {
		v.events.PublishCardVerified(sctx, r, requestedBy)
		v.events.PublishCardFlagged(sctx, r, fraud)
	}

	return r
}

func (v *Verifier) acquire(ctx context.Context) error {
	select {
	case v.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Verifier) releaseSem() {
	<-v.sem
}

func (v *Verifier) scheme(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return strings.ToUpper(s)
	}
	return v.cfg.DefaultScheme
}

func (v *Verifier) fillCancelled(dst []*domain.VerificationResult, cards []string, scheme string, cause error) {
	for i := range dst {
		dst[i] = domain.ErrorResult(strings.TrimSpace(cards[i]), scheme, domain.SourcePortal, "batch cancelled: "+cause.Error())
	}
}

func (v *Verifier) failureMessage(step string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("verification timed out after %s while %s", v.cfg.VerificationTimeout, step)
	}
	return fmt.Sprintf("%s failed: %v", step, err)
}

// hasCardPage reports whether the portal showed a card worth pulling images from
func hasCardPage(s domain.CardStatus) bool {
	return s != domain.StatusError && s != domain.StatusNotFound
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
