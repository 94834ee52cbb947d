// Package vision reads CSCS card photographs with an OpenAI-compatible vision model
// and scores how suspicious they look.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
	"github.com/sitecomply/sitecomply-backend/pkg/config"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

var (
	ErrNotConfigured     = errors.New("vision: provider not configured")
	ErrImageTooLarge     = errors.New("vision: image too large")
	ErrUnsupportedImage  = errors.New("vision: data is not a JPEG, PNG or WebP image")
	ErrMalformedResponse = errors.New("vision: malformed model response")
)

// JPEG, PNG and WebP magic bytes
var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

const maxRetries = 1

const analysisPrompt = `You are inspecting a photograph of a UK construction skills card (CSCS or a partner scheme).
Reply with a single JSON object and nothing else, using exactly these keys:
{"card_number": string, "holder_name": string, "card_type": string, "expiry_date": string,
 "card_colour": string, "security_features": [string], "quality_score": integer 0-100,
 "fraud_indicators": [string], "apparent_status": "VALID" | "EXPIRED" | "UNKNOWN"}
Use "" for fields you cannot read. expiry_date must be DD/MM/YYYY when legible.
List hologram, watermark, microprint or chip only if visible. List any sign of editing,
mismatched fonts, damaged laminate or a screen/photocopy capture under fraud_indicators.`

// Analyzer reads a card photograph
type Analyzer interface {
	AnalyzeCard(ctx context.Context, image []byte, mimeType string) (*domain.CardImageAnalysis, error)
}

// Client calls a chat completions endpoint with the image inlined as a data URI
type Client struct {
	url           string
	model         string
	apiKey        string
	maxImageBytes int64
	retryInterval time.Duration
	httpClient    *http.Client
	log           *logger.Logger
}

// NewClient creates a vision client from config
func NewClient(cfg *config.VisionConfig, log *logger.Logger) *Client {
	return &Client{
		url:           strings.TrimRight(cfg.URL, "/"),
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		maxImageBytes: cfg.MaxImageBytes,
		retryInterval: 500 * time.Millisecond,
		httpClient: &http.Client{
			Timeout: cfg.Timeout, // model inference is slow
		},
		log: log.WithComponent("vision"),
	}
}

// Configured reports whether a provider URL is set
func (c *Client) Configured() bool {
	return c.url != ""
}

// AnalyzeCard implements Analyzer
func (c *Client) AnalyzeCard(ctx context.Context, image []byte, mimeType string) (*domain.CardImageAnalysis, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if c.maxImageBytes > 0 && int64(len(image)) > c.maxImageBytes {
		return nil, ErrImageTooLarge
	}
	if !IsImageData(image) {
		return nil, ErrUnsupportedImage
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: analysisPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: photo.EncodeDataURI(mimeType, image)}},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	var content string
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	err = backoff.Retry(func() error {
		var retryable bool
		content, retryable, err = c.complete(ctx, body)
		if err != nil && !retryable {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("vision request failed, retrying")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
	if err != nil {
		return nil, err
	}

	return ParseAnalysis(content)
}

func (c *Client) complete(ctx context.Context, body []byte) (content string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("vision: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("vision: provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("vision: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retry, fmt.Errorf("vision: provider returned %d: %s", resp.StatusCode, truncate(string(respBody), 256))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return parsed.Choices[0].Message.Content, false, nil
}

// ParseAnalysis extracts the JSON object from a model reply. Code fences and
// surrounding prose are tolerated.
func ParseAnalysis(content string) (*domain.CardImageAnalysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	quality := int(raw.QualityScore + 0.5)
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	return &domain.CardImageAnalysis{
		CardNumber:       strings.TrimSpace(raw.CardNumber),
		HolderName:       strings.TrimSpace(raw.HolderName),
		CardType:         strings.TrimSpace(raw.CardType),
		ExpiryDate:       strings.TrimSpace(raw.ExpiryDate),
		CardColour:       strings.TrimSpace(raw.CardColour),
		SecurityFeatures: nonEmpty(raw.SecurityFeatures),
		QualityScore:     quality,
		FraudIndicators:  nonEmpty(raw.FraudIndicators),
		ApparentStatus:   strings.TrimSpace(raw.ApparentStatus),
	}, nil
}

// IsImageData checks for JPEG, PNG or WebP magic bytes
func IsImageData(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return bytes.HasPrefix(data, jpegMagic) ||
		bytes.HasPrefix(data, pngMagic) ||
		(bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpMagic))
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// rawAnalysis tolerates fractional quality scores
type rawAnalysis struct {
	CardNumber       string   `json:"card_number"`
	HolderName       string   `json:"holder_name"`
	CardType         string   `json:"card_type"`
	ExpiryDate       string   `json:"expiry_date"`
	CardColour       string   `json:"card_colour"`
	SecurityFeatures []string `json:"security_features"`
	QualityScore     float64  `json:"quality_score"`
	FraudIndicators  []string `json:"fraud_indicators"`
	ApparentStatus   string   `json:"apparent_status"`
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
