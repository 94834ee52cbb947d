// Package register looks cards up directly in the card scheme register.
package register

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sitecomply/sitecomply-backend/pkg/config"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

// Record is the register's view of one card. Status is the register's own vocabulary.
type Record struct {
	CardNumber string `json:"card_number"`
	Scheme     string `json:"scheme"`
	Status     string `json:"status"`
	HolderName string `json:"holder_name"`
	CardType   string `json:"card_type"`
	ExpiryDate string `json:"expiry_date"`
}

// Client looks up a card
type Client interface {
	Lookup(ctx context.Context, scheme, cardNumber string) (*Record, error)
}

const maxErrorBody = 512

// HTTPClient calls the register REST API
type HTTPClient struct {
	baseURL       string
	apiKey        string
	maxRetries    int
	retryInterval time.Duration
	httpClient    *http.Client
	log           *logger.Logger
}

// NewHTTPClient creates a register client from config
func NewHTTPClient(cfg *config.RegisterConfig, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		apiKey:        cfg.APIKey,
		maxRetries:    cfg.MaxRetries,
		retryInterval: 200 * time.Millisecond,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log.WithComponent("register"),
	}
}

// Lookup fetches the card record, retrying retryable failures with backoff
func (c *HTTPClient) Lookup(ctx context.Context, scheme, cardNumber string) (*Record, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	var rec *Record
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := c.lookupOnce(ctx, scheme, cardNumber)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("register lookup failed, retrying")
			return err
		}
		rec = r
		return nil
	}, b)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *HTTPClient) lookupOnce(ctx context.Context, scheme, cardNumber string) (*Record, error) {
	endpoint := fmt.Sprintf("%s/cards/%s?scheme=%s", c.baseURL, url.PathEscape(cardNumber), url.QueryEscape(scheme))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, "create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, NewProviderError(ErrorTimeout, "request timed out", err)
		}
		return nil, NewProviderError(ErrorOutage, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewProviderError(ErrorNotFound, "no record", ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewProviderError(ErrorAuthentication, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewProviderError(ErrorRateLimited, "rate limited", nil)
	case resp.StatusCode >= 500:
		return nil, NewProviderError(ErrorOutage, fmt.Sprintf("status %d: %s", resp.StatusCode, readSnippet(resp.Body)), nil)
	default:
		return nil, NewProviderError(ErrorBadData, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, readSnippet(resp.Body)), nil)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, NewProviderError(ErrorBadData, "decode response", err)
	}
	if rec.CardNumber == "" {
		rec.CardNumber = cardNumber
	}
	if rec.Scheme == "" {
		rec.Scheme = scheme
	}
	return &rec, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
