package kafka

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/metrics"
)

const defaultBatchSize = 100

// Publisher delivers one outbox event downstream
type Publisher interface {
	PublishOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
}

// OutboxProcessor processes events from the outbox collection
type OutboxProcessor struct {
	repo      domain.OutboxRepository
	publisher Publisher
	interval  time.Duration
	batchSize int64
	logger    *slog.Logger
}

// NewOutboxProcessor creates a new OutboxProcessor
func NewOutboxProcessor(repo domain.OutboxRepository, publisher Publisher, interval time.Duration, logger *slog.Logger) *OutboxProcessor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxProcessor{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// Start begins processing outbox events
func (p *OutboxProcessor) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping outbox processor", "app", appName)
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.processOutboxEvents(ctx); err != nil {
				p.logger.Error("Failed to process outbox events", "error", err, "app", appName)
			}
		}
	}
}

// processOutboxEvents publishes one batch of unprocessed events oldest
// first and returns how many were marked processed. A failed event stays in
// the outbox for the next tick, together with every later event of the same
// request.
func (p *OutboxProcessor) processOutboxEvents(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer(appName).Start(ctx, "ProcessOutboxEvents")
	defer span.End()

	events, err := p.repo.GetUnprocessedOutboxEvents(ctx, p.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get unprocessed outbox events")
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	processed := 0
	// requests whose earlier event is still in the outbox; their later events
	// wait so the request key stays in order
	blocked := make(map[string]bool)
	for _, event := range events {
		key := event.Event.RequestID
		if blocked[key] {
			p.logger.Debug("Deferring outbox event behind a failed one", "eventID", event.ID, "requestID", key, "app", appName)
			continue
		}
		if err := p.publisher.PublishOutboxEvent(ctx, event); err != nil {
			blocked[key] = true
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to publish outbox event")
			metrics.OutboxPublished.WithLabelValues(event.EventType, metrics.OutcomeError).Inc()
			p.logger.Error("Failed to publish outbox event", "eventID", event.ID, "requestID", key, "error", err, "app", appName)
			continue
		}

		if err := p.repo.MarkOutboxEventProcessed(ctx, event.ID); err != nil {
			blocked[key] = true
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to mark outbox event as processed")
			p.logger.Error("Failed to mark outbox event as processed", "eventID", event.ID, "error", err, "app", appName)
			continue
		}
		processed++
		metrics.OutboxPublished.WithLabelValues(event.EventType, metrics.OutcomeOK).Inc()
		p.logger.Debug("Processed outbox event", "eventID", event.ID, "eventType", event.EventType, "app", appName)
	}

	span.SetAttributes(
		attribute.Int("eventCount", len(events)),
		attribute.Int("processedEventCount", processed),
	)
	return processed, nil
}
