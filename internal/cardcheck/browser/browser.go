// Package browser drives the card verification portal with a headless Chromium.
//
// A SessionManager owns at most one browser process. Callers own cleanup: after
// any failed use they must call Release(s, true), which closes the process so
// the next Acquire starts clean. Shutdown is safe to call at any time.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/pkg/config"
)

// ErrNoSession is returned when an operation needs a session that was closed
var ErrNoSession = errors.New("browser: no active session")

// DriverError is any failure while driving the portal. Op names the step.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline rather than a portal problem
func (e *DriverError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Session is one live browser page bound to the portal
type Session interface {
	// LookupCard submits the lookup form and captures the results page
	LookupCard(ctx context.Context, scheme, cardNumber string) (*domain.PageSnapshot, error)

	// FetchImage downloads an image through the page so portal cookies apply
	FetchImage(ctx context.Context, url string) ([]byte, error)

	// PortalTitle loads the landing page and returns its title
	PortalTitle(ctx context.Context) (string, error)
}

// SessionManager hands out the single browser session
type SessionManager interface {
	// Acquire returns the live session, launching a browser if none is running
	Acquire(ctx context.Context) (Session, error)

	// Release returns the session. failed=true tears the browser down.
	Release(s Session, failed bool)

	// Shutdown closes any running browser. No-op without one.
	Shutdown() error
}

// Options configures the portal and the browser
type Options struct {
	PortalURL         string
	SchemeSelector    string
	CardInputSelector string
	SubmitSelector    string
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	BrowserBin        string
	Headless          bool
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	ResultsTimeout    time.Duration
	SettleDelay       time.Duration
	RenderDelay       time.Duration
}

// OptionsFromConfig maps the portal config section
func OptionsFromConfig(cfg *config.PortalConfig) Options {
	return Options{
		PortalURL:         cfg.URL,
		SchemeSelector:    cfg.SchemeSelector,
		CardInputSelector: cfg.CardInputSelector,
		SubmitSelector:    cfg.SubmitSelector,
		UserAgent:         cfg.UserAgent,
		ViewportWidth:     cfg.ViewportWidth,
		ViewportHeight:    cfg.ViewportHeight,
		BrowserBin:        cfg.BrowserBin,
		Headless:          cfg.Headless,
		LaunchTimeout:     cfg.LaunchTimeout,
		NavigationTimeout: cfg.NavigationTimeout,
		SelectorTimeout:   cfg.SelectorTimeout,
		ResultsTimeout:    cfg.ResultsTimeout,
		SettleDelay:       cfg.SettleDelay,
		RenderDelay:       cfg.RenderDelay,
	}
}

// MaxLookupDuration is the worst case for one LookupCard when every wait runs to its limit
func (o Options) MaxLookupDuration() time.Duration {
	return 2*o.NavigationTimeout + 2*o.SelectorTimeout + 3*o.ResultsTimeout + o.SettleDelay + o.RenderDelay
}

// sleep waits for d or until ctx is done
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
