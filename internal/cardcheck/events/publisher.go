package events

import (
	"context"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
	"github.com/sitecomply/sitecomply-backend/pkg/messaging"
)

// ServiceName is the event source stamped on every envelope
const ServiceName = "cardcheck-service"

// CardCheckEventPublisher publishes verification events. Failures are logged, never returned.
type CardCheckEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewCardCheckEventPublisher declares the cardcheck exchange and returns a publisher on it
func NewCardCheckEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*CardCheckEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeCardCheckEvents, ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps any EventPublisher
func NewWithPublisher(p messaging.EventPublisher, log *logger.Logger) *CardCheckEventPublisher {
	return &CardCheckEventPublisher{
		publisher: p,
		logger:    log.WithComponent("events"),
	}
}

// PublishCardVerified publishes a completed verification
func (p *CardCheckEventPublisher) PublishCardVerified(ctx context.Context, r *domain.VerificationResult, requestedBy string) {
	if p == nil {
		return
	}

	data := messaging.CardVerifiedEvent{
		VerificationID: r.ID,
		CardNumber:     domain.MaskCardNumber(r.CardNumber),
		Scheme:         r.Scheme,
		Status:         string(r.Status),
		Source:         string(r.Source),
		HolderName:     r.HolderName,
		ExpiryDate:     r.ExpiryDate,
		RequestedBy:    requestedBy,
		VerifiedAt:     r.VerificationTimestamp,
	}

	if err := p.publisher.Publish(ctx, messaging.EventCardVerified, data); err != nil {
		p.logger.Error().Err(err).Str("verification_id", r.ID).Msg("failed to publish card verified event")
	}
}

// PublishCardFlagged publishes a fraud flag. Assessments below HIGH are ignored.
func (p *CardCheckEventPublisher) PublishCardFlagged(ctx context.Context, r *domain.VerificationResult, fraud *domain.FraudAssessment) {
	if p == nil || fraud == nil || !fraud.Level.NeedsReview() {
		return
	}

	data := messaging.CardFlaggedEvent{
		VerificationID: r.ID,
		CardNumber:     domain.MaskCardNumber(r.CardNumber),
		RiskScore:      fraud.Score,
		RiskLevel:      string(fraud.Level),
		Reasons:        fraud.RiskFactors,
	}

	if err := p.publisher.Publish(ctx, messaging.EventCardFlagged, data); err != nil {
		p.logger.Error().Err(err).Str("verification_id", r.ID).Msg("failed to publish card flagged event")
	}
}

// PublishBatchCompleted publishes a per-status summary of a finished batch
func (p *CardCheckEventPublisher) PublishBatchCompleted(ctx context.Context, batchID string, results []*domain.VerificationResult) {
	if p == nil {
		return
	}

	statuses := make(map[string]int)
	for _, r := range results {
		statuses[string(r.Status)]++
	}

	data := messaging.BatchCompletedEvent{
		BatchID:  batchID,
		Total:    len(results),
		Statuses: statuses,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batchID).Msg("failed to publish batch completed event")
	}
}
