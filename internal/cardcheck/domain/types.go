package domain

import (
	"strings"
	"time"
)

// DefaultScheme is used when the caller does not name a card scheme
const DefaultScheme = "CSCS"

// Source identifies which path produced a result
type Source string

const (
	SourcePortal   Source = "portal"
	SourceRegister Source = "register"
	SourceImage    Source = "image"
	SourceDemo     Source = "demo"
)

// Default messages for statuses that must always explain themselves
const (
	MessageUndetermined = "Could not determine card status from results"
	MessageNotFound     = "Card not found"
	MessageFailed       = "Verification failed"
)

// UnknownCardNumber stands in when no card number was supplied or could be read
const UnknownCardNumber = "unknown"

// VerificationResult is one verification attempt. It is never updated after
// it is returned; re-verification produces a new value.
type VerificationResult struct {
	ID                    string     `json:"id,omitempty"`
	CardNumber            string     `json:"card_number"`
	Status                CardStatus `json:"status"`
	HolderName            string     `json:"holder_name,omitempty"`
	CardType              string     `json:"card_type,omitempty"`
	ExpiryDate            string     `json:"expiry_date,omitempty"`
	Scheme                string     `json:"scheme,omitempty"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	VerificationTimestamp time.Time  `json:"verification_timestamp"`
	Source                Source     `json:"source"`
	HolderPhotoURL        string     `json:"holder_photo_url,omitempty"`
	HolderPhotoBase64     string     `json:"holder_photo_base64,omitempty"`
	CardImageURL          string     `json:"card_image_url,omitempty"`
	CardImageBase64       string     `json:"card_image_base64,omitempty"`
	StoredPhotoPath       string     `json:"stored_photo_path,omitempty"`
	HolderNameMatched     *bool      `json:"holder_name_matched,omitempty"`
}

// NewResult starts a result stamped with the current time
func NewResult(cardNumber, scheme string, source Source) *VerificationResult {
	return &VerificationResult{
		CardNumber:            cardNumber,
		Scheme:                scheme,
		Source:                source,
		VerificationTimestamp: time.Now().UTC(),
	}
}

// ErrorResult builds a terminal Error result
func ErrorResult(cardNumber, scheme string, source Source, message string) *VerificationResult {
	r := NewResult(cardNumber, scheme, source)
	r.Status = StatusError
	r.ErrorMessage = message
	return r.Normalize()
}

// Normalize enforces the result invariants in place and returns r:
//   - an unknown or empty status becomes Error
//   - Valid never carries an error message
//   - Error and NotFound always carry one
//   - the timestamp is always set
//   - the card number is never blank
func (r *VerificationResult) Normalize() *VerificationResult {
	if strings.TrimSpace(r.CardNumber) == "" {
		r.CardNumber = UnknownCardNumber
	}

	if !r.Status.Known() {
		if r.ErrorMessage == "" && r.Status != "" {
			r.ErrorMessage = "unrecognised status " + string(r.Status)
		}
		r.Status = StatusError
	}

	switch r.Status {
	case StatusValid:
		r.ErrorMessage = ""
	case StatusNotFound:
		if strings.TrimSpace(r.ErrorMessage) == "" {
			r.ErrorMessage = MessageNotFound
		}
	case StatusError:
		if strings.TrimSpace(r.ErrorMessage) == "" {
			r.ErrorMessage = MessageFailed
		}
	}

	if r.VerificationTimestamp.IsZero() {
		r.VerificationTimestamp = time.Now().UTC()
	}

	return r
}

// HasPhoto reports whether the result carries a holder photo
func (r *VerificationResult) HasPhoto() bool {
	return r.HolderPhotoBase64 != ""
}

// ImageDescriptor is one image found on a results page
type ImageDescriptor struct {
	URL   string `json:"url"`
	Alt   string `json:"alt"`
	Class string `json:"class"`
}

// PageSnapshot is the raw content captured after a portal lookup
type PageSnapshot struct {
	Text   string            `json:"text"`
	Images []ImageDescriptor `json:"images"`
}

// StoredPhoto is a persisted holder photo. Files are written once and never overwritten.
type StoredPhoto struct {
	Path      string    `json:"path"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

// MaskCardNumber hides all but the last four characters for logs and events
func MaskCardNumber(cardNumber string) string {
	runes := []rune(strings.TrimSpace(cardNumber))
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
