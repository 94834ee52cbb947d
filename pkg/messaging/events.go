package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// EventCardVerified is published after every completed verification, whatever its status
	EventCardVerified = "cardcheck.card.verified"
	// EventCardFlagged is published when an image check scores HIGH or CRITICAL fraud risk
	EventCardFlagged = "cardcheck.card.flagged"
	// EventBatchRequested asks the service to verify a list of cards asynchronously
	EventBatchRequested = "cardcheck.batch.requested"
	// EventBatchCompleted is published once an asynchronous batch has finished
	EventBatchCompleted = "cardcheck.batch.completed"
)

// Exchange names
const (
	ExchangeCardCheckEvents = "cardcheck.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// CardVerifiedEvent carries the outcome of one verification. Card numbers are masked.
type CardVerifiedEvent struct {
	VerificationID string    `json:"verification_id"`
	CardNumber     string    `json:"card_number"`
	Scheme         string    `json:"scheme"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	HolderName     string    `json:"holder_name,omitempty"`
	ExpiryDate     string    `json:"expiry_date,omitempty"`
	RequestedBy    string    `json:"requested_by,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// CardFlaggedEvent is raised for photographed cards that look fraudulent
type CardFlaggedEvent struct {
	VerificationID string   `json:"verification_id"`
	CardNumber     string   `json:"card_number"`
	RiskScore      int      `json:"risk_score"`
	RiskLevel      string   `json:"risk_level"`
	Reasons        []string `json:"reasons"`
}

// BatchRequestedEvent is consumed to run a verification batch off the request path
type BatchRequestedEvent struct {
	BatchID     string   `json:"batch_id"`
	Scheme      string   `json:"scheme"`
	CardNumbers []string `json:"card_numbers"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

// BatchCompletedEvent summarises a finished batch
type BatchCompletedEvent struct {
	BatchID  string         `json:"batch_id"`
	Total    int            `json:"total"`
	Statuses map[string]int `json:"statuses"`
}
