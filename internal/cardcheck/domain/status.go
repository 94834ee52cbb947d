package domain

import (
	"fmt"
	"strings"
)

// CardStatus is the outcome of one verification attempt
type CardStatus string

const (
	StatusValid    CardStatus = "valid"
	StatusExpired  CardStatus = "expired"
	StatusRevoked  CardStatus = "revoked"
	StatusInvalid  CardStatus = "invalid"
	StatusNotFound CardStatus = "not_found"
	StatusError    CardStatus = "error"
)

// AllStatuses lists every status in declaration order
var AllStatuses = []CardStatus{
	StatusValid,
	StatusExpired,
	StatusRevoked,
	StatusInvalid,
	StatusNotFound,
	StatusError,
}

// Known reports whether s is one of the six statuses
func (s CardStatus) Known() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// RequiresMessage reports whether a result with this status must carry an error message
func (s CardStatus) RequiresMessage() bool {
	return s == StatusError || s == StatusNotFound
}

// ParseCardStatus parses our own serialized status values.
// Backend vocabularies go through a StatusVocabulary instead.
func ParseCardStatus(s string) (CardStatus, error) {
	status := CardStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Known() {
		return "", fmt.Errorf("unknown card status %q", s)
	}
	return status, nil
}

// StatusVocabulary maps one backend's native status strings onto CardStatus.
// Raw backend strings must not travel past the adapter that owns the vocabulary.
type StatusVocabulary struct {
	name    string
	mapping map[string]CardStatus
}

// NewStatusVocabulary builds a vocabulary. Keys are matched case-insensitively.
func NewStatusVocabulary(name string, mapping map[string]CardStatus) StatusVocabulary {
	normalized := make(map[string]CardStatus, len(mapping))
	for raw, status := range mapping {
		normalized[normalizeRaw(raw)] = status
	}
	return StatusVocabulary{name: name, mapping: normalized}
}

// Name identifies the backend in logs
func (v StatusVocabulary) Name() string {
	return v.name
}

// Map translates a raw value. Unknown values map to StatusError and ok=false.
func (v StatusVocabulary) Map(raw string) (status CardStatus, ok bool) {
	status, ok = v.mapping[normalizeRaw(raw)]
	if !ok {
		return StatusError, false
	}
	return status, true
}

func normalizeRaw(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(raw)
}
