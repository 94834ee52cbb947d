package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/browser"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/register"
)

// portalPage is the scripted portal response for one card
type portalPage struct {
	snap  *domain.PageSnapshot
	err   error
	block bool
	delay time.Duration
}

// fakeSessions hands out one fakeSession and records how it was released.
// It flags overlap if two lookups ever run at once.
type fakeSessions struct {
	mu         sync.Mutex
	pages      map[string]portalPage
	title      string
	titleErr   error
	acquireErr error
	images     map[string][]byte
	hangImages bool

	inFlight   atomic.Int32
	overlapped atomic.Bool
	lookups    atomic.Int32
	acquired   int
	failed     int
	shutdowns  int
}

func newFakeSessions(pages map[string]portalPage) *fakeSessions {
	return &fakeSessions{pages: pages, title: "Check a Card | CSCS", images: map[string][]byte{}}
}

func (f *fakeSessions) Acquire(ctx context.Context) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &fakeSession{f: f}, nil
}

func (f *fakeSessions) Release(s browser.Session, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if failed {
		f.failed++
	}
}

func (f *fakeSessions) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func (f *fakeSessions) failedReleases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

type fakeSession struct {
	f *fakeSessions
}

func (s *fakeSession) LookupCard(ctx context.Context, scheme, cardNumber string) (*domain.PageSnapshot, error) {
	if s.f.inFlight.Add(1) > 1 {
		s.f.overlapped.Store(true)
	}
	defer s.f.inFlight.Add(-1)
	s.f.lookups.Add(1)

	page, ok := s.f.pages[cardNumber]
	if !ok {
		return &domain.PageSnapshot{Text: "No card found. Card not found."}, nil
	}
	if page.block {
		<-ctx.Done()
		return nil, &browser.DriverError{Op: "wait results", Err: ctx.Err()}
	}
	if page.delay > 0 {
		time.Sleep(page.delay)
	}
	return page.snap, page.err
}

func (s *fakeSession) FetchImage(ctx context.Context, url string) ([]byte, error) {
	if s.f.hangImages {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	data, ok := s.f.images[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

func (s *fakeSession) PortalTitle(ctx context.Context) (string, error) {
	return s.f.title, s.f.titleErr
}

type fakeRegister struct {
	records map[string]*register.Record
	err     error
	calls   atomic.Int32
}

func (r *fakeRegister) Lookup(ctx context.Context, scheme, cardNumber string) (*register.Record, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	rec, ok := r.records[cardNumber]
	if !ok {
		return nil, register.NewProviderError(register.ErrorNotFound, "no record", register.ErrNotFound)
	}
	return rec, nil
}

type fakeAnalyzer struct {
	analysis *domain.CardImageAnalysis
	err      error
}

func (a *fakeAnalyzer) AnalyzeCard(ctx context.Context, image []byte, mimeType string) (*domain.CardImageAnalysis, error) {
	return a.analysis, a.err
}

type fakeHistory struct {
	mu      sync.Mutex
	records []*domain.VerificationRecord
	err     error
}

func (h *fakeHistory) Save(ctx context.Context, rec *domain.VerificationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) all() []*domain.VerificationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.VerificationRecord(nil), h.records...)
}
