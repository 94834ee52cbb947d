package consumers

import (
	"context"
	"fmt"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
	"github.com/sitecomply/sitecomply-backend/pkg/messaging"
	"github.com/sitecomply/sitecomply-backend/pkg/tenant"
)

// BatchQueue is the durable queue batch requests are delivered to
const BatchQueue = "cardcheck-service.batch-requests"

// BatchVerifier runs a batch of card checks
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, batchID string, cardNumbers []string, scheme string) []*domain.VerificationResult
}

// BatchConsumer runs verification batches requested over the event bus
type BatchConsumer struct {
	consumer     *messaging.Consumer
	verifier     BatchVerifier
	maxBatchSize int
	logger       *logger.Logger
}

// NewBatchConsumer creates the consumer and binds it to the card check exchange
func NewBatchConsumer(rmq *messaging.RabbitMQ, verifier BatchVerifier, maxBatchSize int, log *logger.Logger) (*BatchConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, BatchQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeCardCheckEvents, "cardcheck.batch.#"); err != nil {
		return nil, err
	}

	c := newBatchConsumer(verifier, maxBatchSize, log)
	c.consumer = consumer
	consumer.RegisterHandler(messaging.EventBatchRequested, c.handleBatchRequested)

	return c, nil
}

func newBatchConsumer(verifier BatchVerifier, maxBatchSize int, log *logger.Logger) *BatchConsumer {
	return &BatchConsumer{
		verifier:     verifier,
		maxBatchSize: maxBatchSize,
		logger:       log.WithComponent("batch_consumer"),
	}
}

// Start starts consuming messages
func (c *BatchConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleBatchRequested returns nil for requests that can never succeed so
// they are acked rather than redelivered
func (c *BatchConsumer) handleBatchRequested(ctx context.Context, event *messaging.Event) error {
	var data messaging.BatchRequestedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode batch request: %w", err)
	}

	log := c.logger.With().
		Str("batch_id", data.BatchID).
		Str("event_id", event.ID).
		Int("cards", len(data.CardNumbers)).
		Logger()

	if event.TenantID == "" {
		log.Warn().Msg("batch request without tenant, dropping")
		return nil
	}
	if len(data.CardNumbers) == 0 {
		log.Warn().Msg("empty batch request, dropping")
		return nil
	}
	if c.maxBatchSize > 0 && len(data.CardNumbers) > c.maxBatchSize {
		log.Warn().Int("max_batch_size", c.maxBatchSize).Msg("batch request too large, dropping")
		return nil
	}

	ctx = tenant.WithTenantID(ctx, event.TenantID)
	if data.RequestedBy != "" {
		ctx = tenant.WithUserID(ctx, data.RequestedBy)
	}

	tlog := c.logger.WithTenantID(event.TenantID)
	tlog.Info().Str("batch_id", data.BatchID).Int("cards", len(data.CardNumbers)).Msg("running requested batch")
	results := c.verifier.VerifyBatch(ctx, data.BatchID, data.CardNumbers, data.Scheme)
	tlog.Info().Str("batch_id", data.BatchID).Int("results", len(results)).Msg("requested batch finished")

	return nil
}
