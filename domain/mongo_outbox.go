package domain

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// SaveOutboxEvent saves an event to the outbox collection. Called with a
// transaction context it commits together with the state change it describes.
func (r *MongoRepository) SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoSaveOutboxEvent")
	defer span.End()

	if _, err := r.OutboxCollection.InsertOne(ctx, event); err != nil {
		recordError(span, err, "Failed to save outbox event")
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	span.SetAttributes(
		attribute.String("eventID", event.ID),
		attribute.String("eventType", event.EventType),
	)
	return nil
}

// GetUnprocessedOutboxEvents retrieves unprocessed outbox events, oldest first
func (r *MongoRepository) GetUnprocessedOutboxEvents(ctx context.Context, limit int64) ([]*OutboxEvent, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetUnprocessedOutboxEvents")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).SetLimit(limit)
	events, err := findMany[OutboxEvent](ctx, r.OutboxCollection, bson.M{"processed": false}, opts)
	if err != nil {
		recordError(span, err, "Failed to find unprocessed outbox events")
		return nil, fmt.Errorf("failed to find unprocessed outbox events: %w", err)
	}
	span.SetAttributes(attribute.Int("eventCount", len(events)))
	return events, nil
}

// MarkOutboxEventProcessed marks an outbox event as processed
func (r *MongoRepository) MarkOutboxEventProcessed(ctx context.Context, eventID string) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoMarkOutboxEventProcessed")
	defer span.End()

	_, err := r.OutboxCollection.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{
		"$set": bson.M{
			"processed":    true,
			"processed_at": time.Now().UTC(),
		},
	})
	if err != nil {
		recordError(span, err, "Failed to mark outbox event as processed")
		return fmt.Errorf("failed to mark outbox event as processed: %w", err)
	}
	span.SetAttributes(attribute.String("eventID", eventID))
	return nil
}
