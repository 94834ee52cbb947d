package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/metrics"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

const (
	selectSchemeJS = `(scheme) => {
		const wanted = String(scheme).trim().toLowerCase();
		for (const opt of Array.from(this.options || [])) {
			if (opt.value.trim().toLowerCase() === wanted || opt.text.trim().toLowerCase() === wanted) {
				this.value = opt.value;
				this.dispatchEvent(new Event('change', { bubbles: true }));
				return true;
			}
		}
		return false;
	}`

	bodyTextJS = `() => document.body ? document.body.innerText : ''`

	imagesJS = `() => Array.from(document.images).map(img => ({
		url: img.currentSrc || img.src || '',
		alt: img.alt || '',
		class: typeof img.className === 'string' ? img.className : ''
	}))`

	fetchImageJS = `async (url) => {
		const resp = await fetch(url, { credentials: 'include' });
		if (!resp.ok) throw new Error('HTTP ' + resp.status);
		const bytes = new Uint8Array(await resp.arrayBuffer());
		let bin = '';
		for (let i = 0; i < bytes.length; i += 0x8000) {
			bin += String.fromCharCode.apply(null, bytes.subarray(i, i + 0x8000));
		}
		return btoa(bin);
	}`
)

// RodSessionManager runs one Chromium through go-rod
type RodSessionManager struct {
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	session *rodSession
}

// NewRodSessionManager creates a manager. No browser starts until the first Acquire.
func NewRodSessionManager(opts Options, m *metrics.Metrics, log *logger.Logger) *RodSessionManager {
	return &RodSessionManager{
		opts:    opts,
		log:     log.WithComponent("browser"),
		metrics: m,
	}
}

// Acquire implements SessionManager
func (m *RodSessionManager) Acquire(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session, nil
	}

	s, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.session = s
	m.metrics.IncBrowserLaunch()
	return s, nil
}

// Release implements SessionManager
func (m *RodSessionManager) Release(s Session, failed bool) {
	if !failed {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || Session(m.session) != s {
		return
	}
	m.log.Warn().Msg("closing browser after failed lookup")
	m.session.close()
	m.session = nil
	m.metrics.IncBrowserReset()
}

// Shutdown implements SessionManager
func (m *RodSessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.close()
	m.session = nil
	m.log.Info().Msg("browser shut down")
	return err
}

func (m *RodSessionManager) launch(ctx context.Context) (*rodSession, error) {
	if m.opts.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.LaunchTimeout)
		defer cancel()
	}

	l := launcher.New().
		Headless(m.opts.Headless).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu")
	if m.opts.BrowserBin != "" {
		l = l.Bin(m.opts.BrowserBin)
	}

	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		done <- launched{u, err}
	}()

	var controlURL string
	select {
	case <-ctx.Done():
		l.Kill()
		return nil, &DriverError{Op: "launch", Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			l.Kill()
			return nil, &DriverError{Op: "launch", Err: res.err}
		}
		controlURL = res.url
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, &DriverError{Op: "connect", Err: err}
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err == nil {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      m.opts.UserAgent,
			AcceptLanguage: "en-GB,en;q=0.9",
		})
	}
	if err == nil {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             m.opts.ViewportWidth,
			Height:            m.opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
	}
	if err != nil {
		b.Close()
		l.Kill()
		return nil, &DriverError{Op: "open page", Err: err}
	}

	m.log.Info().Str("control_url", controlURL).Msg("browser launched")

	return &rodSession{
		opts:     m.opts,
		launcher: l,
		browser:  b,
		page:     page,
	}, nil
}

// rodSession is one browser process with one reusable page
type rodSession struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func (s *rodSession) close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

// bounded runs fn on a clone of p limited to d and stops the clone's timer when fn returns
func bounded(p *rod.Page, d time.Duration, fn func(*rod.Page) error) error {
	tp := p.Timeout(d)
	defer tp.CancelTimeout()
	return fn(tp)
}

func (s *rodSession) open(ctx context.Context) (*rod.Page, error) {
	p := s.page.Context(ctx)
	if err := bounded(p, s.opts.NavigationTimeout, func(tp *rod.Page) error {
		return tp.Navigate(s.opts.PortalURL)
	}); err != nil {
		return nil, &DriverError{Op: "navigate", Err: err}
	}
	if err := bounded(p, s.opts.NavigationTimeout, (*rod.Page).WaitLoad); err != nil {
		return nil, &DriverError{Op: "wait landing page", Err: err}
	}
	return p, nil
}

// LookupCard implements Session
func (s *rodSession) LookupCard(ctx context.Context, scheme, cardNumber string) (*domain.PageSnapshot, error) {
	p, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	// Elements keep the clone's context, so its timer runs until the form is filled.
	form := p.Timeout(s.opts.SelectorTimeout)
	defer form.CancelTimeout()
	schemeEl, err := form.Element(s.opts.SchemeSelector)
	if err != nil {
		return nil, &DriverError{Op: "wait scheme select", Err: err}
	}
	inputEl, err := form.Element(s.opts.CardInputSelector)
	if err != nil {
		return nil, &DriverError{Op: "wait card input", Err: err}
	}

	selected, err := schemeEl.Eval(selectSchemeJS, scheme)
	if err != nil {
		return nil, &DriverError{Op: "select scheme", Err: err}
	}
	if !selected.Value.Bool() {
		return nil, &DriverError{Op: "select scheme", Err: fmt.Errorf("scheme %q not offered by portal", scheme)}
	}

	if err := inputEl.SelectAllText(); err != nil {
		return nil, &DriverError{Op: "clear card input", Err: err}
	}
	if err := inputEl.Input(cardNumber); err != nil {
		return nil, &DriverError{Op: "type card number", Err: err}
	}

	// Client-side challenge widgets need a moment before the form accepts a submit.
	if err := sleep(ctx, s.opts.SettleDelay); err != nil {
		return nil, &DriverError{Op: "settle", Err: err}
	}

	submitPage := p.Timeout(s.opts.SelectorTimeout)
	defer submitPage.CancelTimeout()
	submit, err := submitPage.Element(s.opts.SubmitSelector)
	if err != nil {
		return nil, &DriverError{Op: "find submit", Err: err}
	}
	// Portals that render results in place never navigate; the wait then ends at the results timeout.
	nav := p.Timeout(s.opts.ResultsTimeout)
	defer nav.CancelTimeout()
	navigated := nav.WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, &DriverError{Op: "submit", Err: err}
	}
	navigated()

	if err := ctx.Err(); err != nil {
		return nil, &DriverError{Op: "wait results", Err: err}
	}
	if err := bounded(p, s.opts.ResultsTimeout, (*rod.Page).WaitLoad); err != nil {
		return nil, &DriverError{Op: "wait results", Err: err}
	}
	if err := sleep(ctx, s.opts.RenderDelay); err != nil {
		return nil, &DriverError{Op: "render", Err: err}
	}

	var snapshot *domain.PageSnapshot
	err = bounded(p, s.opts.ResultsTimeout, func(tp *rod.Page) error {
		snapshot, err = s.capture(tp)
		return err
	})
	return snapshot, err
}

func (s *rodSession) capture(p *rod.Page) (*domain.PageSnapshot, error) {
	text, err := p.Eval(bodyTextJS)
	if err != nil {
		return nil, &DriverError{Op: "capture text", Err: err}
	}

	imgs, err := p.Eval(imagesJS)
	if err != nil {
		return nil, &DriverError{Op: "capture images", Err: err}
	}

	snapshot := &domain.PageSnapshot{Text: text.Value.Str()}
	if err := imgs.Value.Unmarshal(&snapshot.Images); err != nil {
		return nil, &DriverError{Op: "capture images", Err: err}
	}

	return snapshot, nil
}

// FetchImage implements Session. The resource cache is tried first, then an
// in-page fetch with the portal's credentials.
func (s *rodSession) FetchImage(ctx context.Context, url string) ([]byte, error) {
	p := s.page.Context(ctx)

	if data, err := p.GetResource(url); err == nil && len(data) > 0 {
		return data, nil
	}

	res, err := p.Evaluate(rod.Eval(fetchImageJS, url).ByPromise())
	if err != nil {
		return nil, &DriverError{Op: "fetch image", Err: err}
	}

	data, err := base64.StdEncoding.DecodeString(res.Value.Str())
	if err != nil {
		return nil, &DriverError{Op: "decode image", Err: err}
	}
	return data, nil
}

// PortalTitle implements Session
func (s *rodSession) PortalTitle(ctx context.Context) (string, error) {
	p, err := s.open(ctx)
	if err != nil {
		return "", err
	}

	info, err := p.Info()
	if err != nil {
		return "", &DriverError{Op: "read title", Err: err}
	}
	return info.Title, nil
}
