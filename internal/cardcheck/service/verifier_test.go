package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/browser"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/events"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/metrics"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
	"github.com/sitecomply/sitecomply-backend/pkg/messaging"
	tu "github.com/sitecomply/sitecomply-backend/pkg/testutil"
)

const validPage = `Card Check Results
The card 12345678 is valid and active.
Name: Jane Smith
Green CSCS Card
Expires 31/12/2026`

type harness struct {
	verifier  *Verifier
	sessions  *fakeSessions
	history   *fakeHistory
	published *tu.RecordingPublisher
	metrics   *metrics.Metrics
	photoRoot string
}

func newHarness(t *testing.T, cfg Config, pages map[string]portalPage, opts ...func(*Dependencies)) *harness {
	t.Helper()

	h := &harness{
		sessions:  newFakeSessions(pages),
		history:   &fakeHistory{},
		published: tu.NewRecordingPublisher(),
		metrics:   metrics.NewWithRegistry(prometheus.NewRegistry()),
		photoRoot: t.TempDir(),
	}

	deps := Dependencies{
		Sessions:  h.sessions,
		Extractor: photo.NewExtractor(time.Second, logger.Nop()),
		Photos:    photo.NewStore(h.photoRoot),
		History:   h.history,
		Events:    events.NewWithPublisher(h.published, logger.Nop()),
		Metrics:   h.metrics,
		Logger:    logger.Nop(),
	}
	for _, o := range opts {
		o(&deps)
	}

	if cfg.VerificationTimeout == 0 {
		cfg.VerificationTimeout = 5 * time.Second
	}
	if cfg.TitleKeyword == "" {
		cfg.TitleKeyword = "CSCS"
	}
	h.verifier = NewVerifier(cfg, deps)
	return h
}

func TestVerifyCard_ValidWithPhoto(t *testing.T) {
	h := newHarness(t, Config{}, map[string]portalPage{
		"12345678": {snap: &domain.PageSnapshot{
			Text: validPage,
			Images: []domain.ImageDescriptor{
				{URL: "https://portal/holder.png", Alt: "Cardholder photo"},
				{URL: "https://portal/card.jpg", Class: "cscs-card"},
			},
		}},
	})
	h.sessions.images["https://portal/holder.png"] = []byte("png-bytes")
	h.sessions.images["https://portal/card.jpg"] = []byte("jpg-bytes")

	r := h.verifier.VerifyCard(tu.TenantContext(), " 12345678 ", "")

	assert.Equal(t, domain.StatusValid, r.Status)
	assert.Empty(t, r.ErrorMessage)
	assert.Equal(t, "12345678", r.CardNumber)
	assert.Equal(t, "CSCS", r.Scheme)
	assert.Equal(t, domain.SourcePortal, r.Source)
	assert.Equal(t, "Jane Smith", r.HolderName)
	assert.Equal(t, "Green CSCS Card", r.CardType)
	assert.Equal(t, "31/12/2026", r.ExpiryDate)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.VerificationTimestamp.IsZero())
	assert.Equal(t, photo.EncodeDataURI("image/png", []byte("png-bytes")), r.HolderPhotoBase64)
	assert.Equal(t, "https://portal/card.jpg", r.CardImageURL)

	require.NotEmpty(t, r.StoredPhotoPath)
	onDisk, err := os.ReadFile(filepath.Join(h.photoRoot, filepath.FromSlash(r.StoredPhotoPath)))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), onDisk)

	records := h.history.all()
	require.Len(t, records, 1)
	assert.Equal(t, tu.TestTenantID, records[0].TenantID)
	assert.Equal(t, r.ID, records[0].ID)

	h.published.AssertEventPublished(t, messaging.EventCardVerified)
	assert.Empty(t, h.published.OfType(messaging.EventCardFlagged))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Verifications.WithLabelValues("portal", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PhotoSaves.WithLabelValues("saved")))
	assert.Zero(t, h.sessions.failedReleases())
}

func TestVerifyCard_PhotoSaveFailureKeepsResult(t *testing.T) {
	h := newHarness(t, Config{}, map[string]portalPage{
		"12345678": {snap: &domain.PageSnapshot{
			Text:   validPage,
			Images: []domain.ImageDescriptor{{URL: "https://portal/holder.png", Alt: "photo"}},
		}},
	})
	h.sessions.images["https://portal/holder.png"] = []byte("png-bytes")

	// A file where the photo directory should be makes every save fail.
	require.NoError(t, os.WriteFile(filepath.Join(h.photoRoot, photo.PhotoDir), []byte("x"), 0o600))

	r := h.verifier.VerifyCard(tu.TenantContext(), "12345678", "CSCS")

	assert.Equal(t, domain.StatusValid, r.Status)
	assert.NotEmpty(t, r.HolderPhotoBase64)
	assert.Empty(t, r.StoredPhotoPath)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PhotoSaves.WithLabelValues("failed")))
}

func TestVerifyCard_StatusesFromPortalText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    domain.CardStatus
		message bool
	}{
		{"expired", "This card has expired.", domain.StatusExpired, false},
		{"revoked", "Card revoked by scheme", domain.StatusRevoked, false},
		{"not found", "Card not found", domain.StatusNotFound, true},
		{"undetermined", "Service temporarily unavailable", domain.StatusError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, map[string]portalPage{
				"1": {snap: &domain.PageSnapshot{Text: tt.text}},
			})

			r := h.verifier.VerifyCard(context.Background(), "1", "CSCS")

			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, tt.message, r.ErrorMessage != "")
			assert.Empty(t, r.HolderName, "fields are only extracted for valid cards")
		})
	}
}

func TestVerifyCard_DriverErrorBecomesErrorResult(t *testing.T) {
	h := newHarness(t, Config{}, map[string]portalPage{
		"12345678": {err: &browser.DriverError{Op: "wait card input", Err: errors.New("element not found")}},
	})

	r := h.verifier.VerifyCard(tu.TenantContext(), "12345678", "CSCS")

	assert.Equal(t, domain.StatusError, r.Status)
	assert.Contains(t, r.ErrorMessage, "element not found")
	assert.Equal(t, 1, h.sessions.failedReleases(), "failed sessions must be released as failed")
	require.Len(t, h.history.all(), 1)
	assert.Equal(t, domain.StatusError, h.history.all()[0].Status)
}

func TestVerifyCard_AcquireFailure(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.sessions.acquireErr = &browser.DriverError{Op: "launch", Err: errors.New("no chromium")}

	r := h.verifier.VerifyCard(context.Background(), "12345678", "CSCS")

	assert.Equal(t, domain.StatusError, r.Status)
	assert.Contains(t, r.ErrorMessage, "no chromium")
}

func TestVerifyCard_TimesOutWithinBudget(t *testing.T) {
	h := newHarness(t, Config{VerificationTimeout: 100 * time.Millisecond}, map[string]portalPage{
		"12345678": {block: true},
	})

	start := time.Now()
	r := h.verifier.VerifyCard(context.Background(), "12345678", "CSCS")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.StatusError, r.Status)
	assert.Contains(t, r.ErrorMessage, "timed out")
	assert.Equal(t, 1, h.sessions.failedReleases())
}

func TestVerifyCard_BudgetExhaustedDuringImagesResetsSession(t *testing.T) {
	noImageTimeout := func(d *Dependencies) {
		d.Extractor = photo.NewExtractor(0, logger.Nop())
	}
	h := newHarness(t, Config{VerificationTimeout: 200 * time.Millisecond}, map[string]portalPage{
		"12345678": {snap: &domain.PageSnapshot{
			Text:   validPage,
			Images: []domain.ImageDescriptor{{URL: "https://portal/holder.png", Alt: "Cardholder photo"}},
		}},
	}, noImageTimeout)
	h.sessions.hangImages = true

	start := time.Now()
	r := h.verifier.VerifyCard(tu.TenantContext(), "12345678", "CSCS")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.StatusValid, r.Status)
	assert.Empty(t, r.HolderPhotoBase64)
	assert.Equal(t, 1, h.sessions.failedReleases())
}

func TestVerifyCard_EmptyCardNumber(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	r := h.verifier.VerifyCard(context.Background(), "   ", "CSCS")

	assert.Equal(t, domain.StatusError, r.Status)
	assert.NotEmpty(t, r.ErrorMessage)
	assert.Zero(t, h.sessions.lookups.Load())
	h.published.AssertNoEventsPublished(t)
}

func TestVerifyCard_SerialisesSessionUse(t *testing.T) {
	pages := map[string]portalPage{}
	cards := []string{"1", "2", "3", "4", "5", "6"}
	for _, c := range cards {
		pages[c] = portalPage{snap: &domain.PageSnapshot{Text: "valid"}, delay: 10 * time.Millisecond}
	}
	h := newHarness(t, Config{}, pages)

	var wg sync.WaitGroup
	for _, c := range cards {
		wg.Add(1)
		go func(card string) {
			defer wg.Done()
			r := h.verifier.VerifyCard(context.Background(), card, "CSCS")
			assert.Equal(t, domain.StatusValid, r.Status)
		}(c)
	}
	wg.Wait()

	assert.False(t, h.sessions.overlapped.Load(), "two lookups shared the browser session")
	assert.Equal(t, int32(len(cards)), h.sessions.lookups.Load())
}

func TestVerifyCard_DemoCardSkipsBrowser(t *testing.T) {
	h := newHarness(t, Config{DemoEnabled: true, DemoCardNumber: "DEMO-CSCS-0001"}, nil)
	h.sessions.acquireErr = errors.New("browser must not be used")

	r := h.verifier.VerifyCard(tu.TenantContext(), "demo-cscs-0001", "")

	assert.Equal(t, domain.StatusValid, r.Status)
	assert.Equal(t, domain.SourceDemo, r.Source)
	assert.True(t, r.HasPhoto())
	assert.Zero(t, h.sessions.lookups.Load())

	_, data, err := photo.DecodeDataURI(r.HolderPhotoBase64)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestVerifyCard_DemoDisabledUsesPortal(t *testing.T) {
	h := newHarness(t, Config{DemoEnabled: false, DemoCardNumber: "DEMO-CSCS-0001"}, nil)

	r := h.verifier.VerifyCard(context.Background(), "DEMO-CSCS-0001", "")

	assert.Equal(t, domain.SourcePortal, r.Source)
	assert.Equal(t, domain.StatusNotFound, r.Status)
	assert.Equal(t, int32(1), h.sessions.lookups.Load())
}

func TestVerifyMultiple_OrderAndIsolation(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: 5 * time.Millisecond}, map[string]portalPage{
		"A": {snap: &domain.PageSnapshot{Text: "valid card"}},
		"B": {err: &browser.DriverError{Op: "submit", Err: errors.New("boom")}},
		"C": {snap: &domain.PageSnapshot{Text: "card has expired"}},
	})

	results := h.verifier.VerifyMultiple(context.Background(), []string{"A", "B", "C"}, "cscs")

	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].CardNumber)
	assert.Equal(t, domain.StatusValid, results[0].Status)
	assert.Equal(t, "B", results[1].CardNumber)
	assert.Equal(t, domain.StatusError, results[1].Status)
	assert.Equal(t, "C", results[2].CardNumber)
	assert.Equal(t, domain.StatusExpired, results[2].Status)
	for _, r := range results {
		assert.Equal(t, "CSCS", r.Scheme)
	}
}

func TestVerifyMultiple_Pacing(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: 50 * time.Millisecond}, nil)

	start := time.Now()
	results := h.verifier.VerifyMultiple(context.Background(), []string{"1", "2", "3"}, "")

	assert.Len(t, results, 3)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestVerifyMultiple_CancelledFillsRemaining(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: time.Hour}, nil)

	ctx, _ := tu.ContextWithTimeout(t, 50*time.Millisecond)

	start := time.Now()
	results := h.verifier.VerifyMultiple(ctx, []string{"1", "2", "3"}, "")

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, results, 3)
	assert.Equal(t, domain.StatusNotFound, results[0].Status)
	for _, r := range results[1:] {
		require.NotNil(t, r)
		assert.Equal(t, domain.StatusError, r.Status)
		assert.Contains(t, r.ErrorMessage, "cancelled")
	}
	assert.Equal(t, "3", results[2].CardNumber)
}

func TestVerifyMultiple_Empty(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	assert.Empty(t, h.verifier.VerifyMultiple(context.Background(), nil, ""))
}

func TestVerifyBatch_PublishesSummary(t *testing.T) {
	h := newHarness(t, Config{}, map[string]portalPage{
		"A": {snap: &domain.PageSnapshot{Text: "valid"}},
	})

	h.verifier.VerifyBatch(tu.TenantContext(), "batch-1", []string{"A", "B"}, "")

	payloads := h.published.OfType(messaging.EventBatchCompleted)
	require.Len(t, payloads, 1)
	ev := payloads[0].(messaging.BatchCompletedEvent)
	assert.Equal(t, "batch-1", ev.BatchID)
	assert.Equal(t, map[string]int{"valid": 1, "not_found": 1}, ev.Statuses)
}

func TestTestConnection(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	assert.True(t, h.verifier.TestConnection(context.Background()))

	h.sessions.title = "Some other site"
	assert.False(t, h.verifier.TestConnection(context.Background()))

	h.sessions.titleErr = &browser.DriverError{Op: "navigate", Err: errors.New("dns")}
	assert.False(t, h.verifier.TestConnection(context.Background()))
	assert.Equal(t, 1, h.sessions.failedReleases())

	h.sessions.acquireErr = errors.New("no browser")
	assert.False(t, h.verifier.TestConnection(context.Background()))
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	require.NoError(t, h.verifier.Shutdown())
	require.NoError(t, h.verifier.Shutdown())
	assert.Equal(t, 2, h.sessions.shutdowns)
}
