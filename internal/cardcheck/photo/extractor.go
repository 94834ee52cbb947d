package photo

import (
	"context"
	"strings"
	"time"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

// Fetcher downloads an image in the context of the page that referenced it
type Fetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Images are the pictures lifted from one results page. Empty fields mean
// the image was absent or could not be downloaded.
type Images struct {
	HolderPhotoURL    string
	HolderPhotoBase64 string
	CardImageURL      string
	CardImageBase64   string
}

// Extractor downloads the selected candidates
type Extractor struct {
	timeout time.Duration
	log     *logger.Logger
}

// NewExtractor creates an extractor with a per-image download timeout
func NewExtractor(timeout time.Duration, log *logger.Logger) *Extractor {
	return &Extractor{
		timeout: timeout,
		log:     log.WithComponent("photo_extractor"),
	}
}

// Extract selects and downloads the holder photo and card image. Download
// failures are logged and leave the corresponding fields empty.
func (e *Extractor) Extract(ctx context.Context, f Fetcher, snap *domain.PageSnapshot, scheme string) Images {
	var out Images
	if snap == nil {
		return out
	}

	holder, card := SelectCandidates(snap.Images, scheme)
	if holder != nil {
		if uri, ok := e.download(ctx, f, holder.URL); ok {
			out.HolderPhotoURL = holder.URL
			out.HolderPhotoBase64 = uri
		}
	}
	if card != nil {
		if uri, ok := e.download(ctx, f, card.URL); ok {
			out.CardImageURL = card.URL
			out.CardImageBase64 = uri
		}
	}

	return out
}

// Apply copies the images onto a result
func (i Images) Apply(r *domain.VerificationResult) {
	r.HolderPhotoURL = i.HolderPhotoURL
	r.HolderPhotoBase64 = i.HolderPhotoBase64
	r.CardImageURL = i.CardImageURL
	r.CardImageBase64 = i.CardImageBase64
}

func (e *Extractor) download(ctx context.Context, f Fetcher, url string) (string, bool) {
	if strings.HasPrefix(url, "data:") {
		return url, true
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	data, err := f.FetchImage(ctx, url)
	if err != nil {
		e.log.Warn().Err(err).Str("url", url).Msg("failed to download image")
		return "", false
	}
	if len(data) == 0 {
		e.log.Warn().Str("url", url).Msg("image download returned no data")
		return "", false
	}

	return EncodeDataURI(MIMEFromURL(url), data), true
}
