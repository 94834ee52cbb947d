package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitecomply/sitecomply-backend/pkg/config"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

const visionURL = "https://vision.test/v1"

var testPNG = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 32)...)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c := NewClient(&config.VisionConfig{
		URL:           visionURL,
		Model:         "gpt-4o-mini",
		APIKey:        "key",
		Timeout:       time.Second,
		MaxImageBytes: 1024,
	}, logger.Nop())
	c.retryInterval = time.Millisecond

	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestClient_AnalyzeCard(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, visionURL+"/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer key", req.Header.Get("Authorization"))

			body, _ := io.ReadAll(req.Body)
			var sent chatRequest
			require.NoError(t, json.Unmarshal(body, &sent))
			assert.Equal(t, "gpt-4o-mini", sent.Model)
			require.Len(t, sent.Messages, 1)
			require.Len(t, sent.Messages[0].Content, 2)
			assert.Contains(t, sent.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,")

			return httpmock.NewJsonResponse(http.StatusOK, chatReply("```json\n"+`{
				"card_number": "12345678",
				"holder_name": "Jane Smith",
				"card_type": "Green CSCS Card",
				"expiry_date": "31/12/2026",
				"card_colour": "green",
				"security_features": ["hologram", " "],
				"quality_score": 87.6,
				"fraud_indicators": [],
				"apparent_status": "VALID"
			}`+"\n```"))
		})

	a, err := c.AnalyzeCard(context.Background(), testPNG, "image/png")
	require.NoError(t, err)

	assert.Equal(t, "12345678", a.CardNumber)
	assert.Equal(t, "Jane Smith", a.HolderName)
	assert.Equal(t, []string{"hologram"}, a.SecurityFeatures)
	assert.Equal(t, 88, a.QualityScore)
	assert.Empty(t, a.FraudIndicators)
	assert.Equal(t, "VALID", a.ApparentStatus)
}

func TestClient_AnalyzeCardRejectsInput(t *testing.T) {
	c := newTestClient(t)

	_, err := c.AnalyzeCard(context.Background(), []byte("plain text, not an image"), "")
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	big := append(append([]byte{}, testPNG...), make([]byte, 2048)...)
	_, err = c.AnalyzeCard(context.Background(), big, "image/png")
	assert.ErrorIs(t, err, ErrImageTooLarge)

	assert.Equal(t, 0, httpmock.GetTotalCallCount())

	unconfigured := NewClient(&config.VisionConfig{}, logger.Nop())
	_, err = unconfigured.AnalyzeCard(context.Background(), testPNG, "image/png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_AnalyzeCardRetriesServerErrors(t *testing.T) {
	c := newTestClient(t)

	reply, _ := json.Marshal(chatReply(`{"card_number":"1","quality_score":90}`))
	httpmock.RegisterResponder(http.MethodPost, visionURL+"/chat/completions",
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusBadGateway, "upstream"),
			httpmock.NewBytesResponse(http.StatusOK, reply),
		}))

	a, err := c.AnalyzeCard(context.Background(), testPNG, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "1", a.CardNumber)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestClient_AnalyzeCardMalformedReply(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, visionURL+"/chat/completions",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, chatReply("I cannot read this card.")))

	_, err := c.AnalyzeCard(context.Background(), testPNG, "image/png")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "malformed replies are not retried")
}

func TestClient_AnalyzeCardClientErrorNotRetried(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, visionURL+"/chat/completions",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":"bad image"}`))

	_, err := c.AnalyzeCard(context.Background(), testPNG, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		quality int
	}{
		{name: "bare object", content: `{"quality_score": 40}`, quality: 40},
		{name: "prose around object", content: "Here you go: {\"quality_score\": 120} hope that helps", quality: 100},
		{name: "negative quality clamps", content: `{"quality_score": -5}`, quality: 0},
		{name: "no object", content: "nothing", wantErr: true},
		{name: "broken json", content: `{"quality_score": }`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAnalysis(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.quality, a.QualityScore)
		})
	}
}

func TestIsImageData(t *testing.T) {
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBP"), 0)
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 12)...)

	assert.True(t, IsImageData(testPNG))
	assert.True(t, IsImageData(jpeg))
	assert.True(t, IsImageData(webp))
	assert.False(t, IsImageData([]byte("RIFF\x00\x00\x00\x00WAVE")))
	assert.False(t, IsImageData([]byte{0xFF}))
}
