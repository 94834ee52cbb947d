package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/metrics"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

// 1x1 transparent PNG
var pixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

const landingHTML = `<!doctype html>
<html><head><title>Check a Card | CSCS</title></head>
<body>
<form action="/results" method="get">
  <select name="scheme">
    <option value="cscs">CSCS</option>
    <option value="cpcs">CPCS</option>
  </select>
  <input name="cardNumber" type="text">
  <button type="submit">Check</button>
</form>
</body></html>`

const resultsHTML = `<!doctype html>
<html><head><title>Result</title></head>
<body>
<p>Card %s is valid and active.</p>
<p>Name: Jane Smith</p>
<p>Green CSCS Card, expires 31/12/2026</p>
<img src="/img/holder.png" alt="Cardholder photo" class="holder-photo">
<img src="/img/logo.png" alt="logo">
</body></html>`

func newFakePortal(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, landingHTML)
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, resultsHTML, r.URL.Query().Get("cardNumber"))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pixelPNG)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func requireBrowser(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chromium found on this machine")
	}
	return bin
}

func testOptions(portalURL, bin string) Options {
	return Options{
		PortalURL:         portalURL,
		SchemeSelector:    `select[name="scheme"]`,
		CardInputSelector: `input[name="cardNumber"]`,
		SubmitSelector:    `button[type="submit"]`,
		UserAgent:         "sitecomply-test",
		ViewportWidth:     1280,
		ViewportHeight:    800,
		BrowserBin:        bin,
		Headless:          true,
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 15 * time.Second,
		SelectorTimeout:   5 * time.Second,
		ResultsTimeout:    5 * time.Second,
		SettleDelay:       50 * time.Millisecond,
		RenderDelay:       50 * time.Millisecond,
	}
}

func TestRodSession_LookupCardAgainstFakePortal(t *testing.T) {
	bin := requireBrowser(t)
	srv := newFakePortal(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	mgr := NewRodSessionManager(testOptions(srv.URL+"/", bin), m, logger.Nop())
	t.Cleanup(func() { _ = mgr.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := mgr.Acquire(ctx)
	require.NoError(t, err)

	again, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, s, again, "Acquire must reuse the live session")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrowserLaunches))

	snap, err := s.LookupCard(ctx, "CSCS", "12345678")
	require.NoError(t, err)
	assert.Contains(t, snap.Text, "12345678 is valid")
	assert.Contains(t, snap.Text, "Name: Jane Smith")
	require.Len(t, snap.Images, 2)
	assert.Equal(t, "Cardholder photo", snap.Images[0].Alt)
	assert.Equal(t, "holder-photo", snap.Images[0].Class)

	data, err := s.FetchImage(ctx, snap.Images[0].URL)
	require.NoError(t, err)
	assert.Equal(t, pixelPNG, data)

	title, err := s.PortalTitle(ctx)
	require.NoError(t, err)
	assert.Contains(t, title, "CSCS")
}

func TestRodSession_MissingSelectorIsDriverError(t *testing.T) {
	bin := requireBrowser(t)
	srv := newFakePortal(t)

	opts := testOptions(srv.URL+"/", bin)
	opts.CardInputSelector = "#does-not-exist"
	opts.SelectorTimeout = 500 * time.Millisecond

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	mgr := NewRodSessionManager(opts, m, logger.Nop())
	t.Cleanup(func() { _ = mgr.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := mgr.Acquire(ctx)
	require.NoError(t, err)

	_, err = s.LookupCard(ctx, "CSCS", "12345678")
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "wait card input", de.Op)

	mgr.Release(s, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrowserResets))

	next, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, s, next, "a failed session must be replaced")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BrowserLaunches))
}

func TestRodSession_UnknownSchemeIsDriverError(t *testing.T) {
	bin := requireBrowser(t)
	srv := newFakePortal(t)

	mgr := NewRodSessionManager(testOptions(srv.URL+"/", bin), nil, logger.Nop())
	t.Cleanup(func() { _ = mgr.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := mgr.Acquire(ctx)
	require.NoError(t, err)

	_, err = s.LookupCard(ctx, "NOPE", "12345678")
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "select scheme", de.Op)
}
