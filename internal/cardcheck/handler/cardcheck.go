package handler

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/photo"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/repository"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/service"
	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/vision"
	"github.com/sitecomply/sitecomply-backend/pkg/errors"
	"github.com/sitecomply/sitecomply-backend/pkg/httputil"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
	"github.com/sitecomply/sitecomply-backend/pkg/tenant"
)

// multipartOverhead is allowed on top of the image limit for form boundaries and headers
const multipartOverhead = 1 << 20

// Verifier is the card verification surface the handler drives
type Verifier interface {
	VerifyCard(ctx context.Context, cardNumber, scheme string) *domain.VerificationResult
	VerifyMultiple(ctx context.Context, cardNumbers []string, scheme string) []*domain.VerificationResult
	TestConnection(ctx context.Context) bool
	ManualCheck(ctx context.Context, cardNumber, holderNameHint string) *domain.VerificationResult
	AnalyzeCardImage(ctx context.Context, image []byte, mimeType string) (*domain.ImageVerification, error)
}

// History lists past verifications for the tenant in ctx
type History interface {
	List(ctx context.Context, filter repository.ListFilter) ([]*domain.VerificationRecord, error)
}

// Photos serves stored holder photos
type Photos interface {
	Open(tenantID, relPath string) ([]byte, string, error)
}

// Options tune request limits
type Options struct {
	MaxBatchSize  int
	MaxImageBytes int64
	// BatchDeadline bounds POST /verify/batch so the response is written before
	// the server's write timeout. Cards not reached in time come back as errors.
	BatchDeadline time.Duration
}

// CardCheckHandler handles the card verification endpoints
type CardCheckHandler struct {
	verifier Verifier
	history  History
	photos   Photos
	opts     Options
	logger   *logger.Logger
}

// NewCardCheckHandler creates a new card check handler. history and photos may be nil.
func NewCardCheckHandler(v Verifier, history History, photos Photos, opts Options, log *logger.Logger) *CardCheckHandler {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 50
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	return &CardCheckHandler{
		verifier: v,
		history:  history,
		photos:   photos,
		opts:     opts,
		logger:   log,
	}
}

// Routes returns the router mounted under /api/v1/cardcheck
func (h *CardCheckHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/verify", h.Verify)
	r.Post("/verify/batch", h.VerifyBatch)
	r.Get("/connection", h.Connection)
	r.Post("/manual", h.Manual)
	r.Post("/image", h.Image)
	r.Get("/verifications", h.ListVerifications)
	r.Get("/photos/*", h.Photo)
	return r
}

// VerifyRequest is the body of POST /verify
type VerifyRequest struct {
	CardNumber string `json:"card_number" validate:"required,max=64,printascii"`
	Scheme     string `json:"scheme" validate:"omitempty,max=32,alphanumunicode"`
}

// BatchRequest is the body of POST /verify/batch
type BatchRequest struct {
	CardNumbers []string `json:"card_numbers" validate:"required,min=1,dive,required,max=64,printascii"`
	Scheme      string   `json:"scheme" validate:"omitempty,max=32,alphanumunicode"`
}

// ManualRequest is the body of POST /manual
type ManualRequest struct {
	CardNumber string `json:"card_number" validate:"required,max=64,printascii"`
	HolderName string `json:"holder_name" validate:"omitempty,max=200"`
}

// ConnectionResponse reports whether the portal is reachable
type ConnectionResponse struct {
	Connected bool `json:"connected"`
}

// Verify checks one card
// POST /verify
func (h *CardCheckHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, h.verifier.VerifyCard(r.Context(), req.CardNumber, req.Scheme))
}

// VerifyBatch checks several cards in order
// POST /verify/batch
func (h *CardCheckHandler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}
	if len(req.CardNumbers) > h.opts.MaxBatchSize {
		httputil.Error(w, errors.Validation(map[string]string{
			"card_numbers": "must contain at most " + strconv.Itoa(h.opts.MaxBatchSize) + " items",
		}))
		return
	}

	ctx := r.Context()
	if h.opts.BatchDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.BatchDeadline)
		defer cancel()
	}

	results := h.verifier.VerifyMultiple(ctx, req.CardNumbers, req.Scheme)
	httputil.JSONWithMeta(w, http.StatusOK, results, &httputil.Meta{Total: len(results)})
}

// Connection probes the portal
// GET /connection
func (h *CardCheckHandler) Connection(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, ConnectionResponse{Connected: h.verifier.TestConnection(r.Context())})
}

// Manual checks a card directly against the register
// POST /manual
func (h *CardCheckHandler) Manual(w http.ResponseWriter, r *http.Request) {
	var req ManualRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, h.verifier.ManualCheck(r.Context(), req.CardNumber, req.HolderName))
}

// Image analyses a photographed card uploaded as the multipart field "file"
// POST /image
func (h *CardCheckHandler) Image(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.opts.MaxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, errors.PayloadTooLarge("uploaded image is too large"))
			return
		}
		httputil.Error(w, errors.BadRequest("invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, errors.Validation(map[string]string{"file": "this field is required"}))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxImageBytes+1))
	if err != nil {
		httputil.Error(w, errors.BadRequest("could not read uploaded file"))
		return
	}
	if int64(len(data)) > h.opts.MaxImageBytes {
		httputil.Error(w, errors.PayloadTooLarge("uploaded image is too large"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}

	out, err := h.verifier.AnalyzeCardImage(r.Context(), data, mimeType)
	switch {
	case errors.Is(err, service.ErrVisionUnavailable):
		httputil.Error(w, errors.Unavailable("image verification is not configured"))
		return
	case errors.Is(err, vision.ErrUnsupportedImage):
		httputil.Error(w, errors.BadRequest("file must be a JPEG, PNG or WebP image"))
		return
	case errors.Is(err, vision.ErrImageTooLarge):
		httputil.Error(w, errors.PayloadTooLarge("uploaded image is too large"))
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("card image verification failed")
		httputil.Error(w, errors.Internal("card image verification failed"))
		return
	}

	httputil.JSON(w, http.StatusOK, out)
}

// ListVerifications returns the tenant's verification history, newest first
// GET /verifications?card_number=&status=&limit=
func (h *CardCheckHandler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httputil.Error(w, errors.Unavailable("verification history is not configured"))
		return
	}

	q := r.URL.Query()
	filter := repository.ListFilter{
		CardNumber: strings.TrimSpace(q.Get("card_number")),
	}

	if s := q.Get("status"); s != "" {
		status, err := domain.ParseCardStatus(s)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"status": "invalid value"}))
			return
		}
		filter.Status = status
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 || limit > repository.MaxListLimit {
			httputil.Error(w, errors.Validation(map[string]string{
				"limit": "must be between 1 and " + strconv.Itoa(repository.MaxListLimit),
			}))
			return
		}
		filter.Limit = limit
	}

	records, err := h.history.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, records, &httputil.Meta{Total: len(records), Limit: filter.Limit})
}

// Photo streams a stored holder photo belonging to the caller's tenant
// GET /photos/*
func (h *CardCheckHandler) Photo(w http.ResponseWriter, r *http.Request) {
	if h.photos == nil {
		httputil.Error(w, errors.NotFound("photo"))
		return
	}

	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, errors.Forbidden("missing tenant context"))
		return
	}

	data, mimeType, err := h.photos.Open(tenantID, chi.URLParam(r, "*"))
	switch {
	case errors.Is(err, photo.ErrOutsideRoot), errors.Is(err, fs.ErrNotExist):
		httputil.Error(w, errors.NotFound("photo"))
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("failed to read stored photo")
		httputil.Error(w, errors.Internal("failed to read photo"))
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
