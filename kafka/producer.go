package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/domain"
)

const appName = "roadassist"

// DefaultTopic carries every service request lifecycle event
const DefaultTopic = "service-request-events"

type Producer struct {
	kafkaProducer *kafka.Producer
	srClient      *srclient.SchemaRegistryClient
	schema        avro.Schema
	SchemaID      int
	topic         string
	logger        *slog.Logger
	tracer        trace.Tracer
}

func NewProducer(bootstrapServers, schemaRegistryURL, topic string, logger *slog.Logger) (*Producer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	config := &kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"compression.type":   "snappy",
		"enable.idempotence": true,
		"acks":               "all",
	}
	p, err := kafka.NewProducer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	schema, err := ParseSchema()
	if err != nil {
		p.Close()
		return nil, err
	}

	srClient := srclient.CreateSchemaRegistryClient(schemaRegistryURL)
	schemaObj, err := srClient.CreateSchema(topic+"-value", serviceEventSchema, srclient.Avro)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to register schema: %w", err)
	}
	logger.Info("Schema registered", "schemaID", schemaObj.ID(), "subject", topic+"-value", "app", appName)

	return &Producer{
		kafkaProducer: p,
		srClient:      srClient,
		schema:        schema,
		SchemaID:      schemaObj.ID(),
		topic:         topic,
		logger:        logger,
		tracer:        otel.Tracer(appName),
	}, nil
}

// headerCarrier adapts message headers for trace propagation
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// PublishOutboxEvent publishes an outbox event keyed by its request id and
// waits for the delivery report.
func (p *Producer) PublishOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	ctx, span := p.tracer.Start(ctx, "PublishOutboxEvent")
	defer span.End()

	value, err := encode(p.schema, p.SchemaID, RecordOf(event))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to encode event")
		return err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "event_id", Value: []byte(event.ID)},
	}
	propagation.TraceContext{}.Inject(ctx, headerCarrier{headers: &headers})

	// buffered so a late report after cancellation does not block the producer
	deliveryChan := make(chan kafka.Event, 1)
	err = p.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Event.RequestID),
		Value:          value,
		Headers:        headers,
	}, deliveryChan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to produce message")
		p.logger.Error("Failed to produce message", "eventID", event.ID, "error", err, "app", appName)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	var m *kafka.Message
	select {
	case e := <-deliveryChan:
		m = e.(*kafka.Message)
	case <-ctx.Done():
		return ctx.Err()
	}
	if m.TopicPartition.Error != nil {
		span.RecordError(m.TopicPartition.Error)
		span.SetStatus(codes.Error, "Delivery failed")
		p.logger.Error("Delivery failed", "eventID", event.ID, "error", m.TopicPartition.Error, "app", appName)
		return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
	}
	p.logger.Info("Published outbox event",
		"eventID", event.ID,
		"eventType", event.EventType,
		"topic", *m.TopicPartition.Topic,
		"partition", m.TopicPartition.Partition,
		"offset", m.TopicPartition.Offset,
		"app", appName)
	span.SetAttributes(
		attribute.String("eventID", event.ID),
		attribute.String("topic", *m.TopicPartition.Topic),
		attribute.Int("partition", int(m.TopicPartition.Partition)),
		attribute.Int64("offset", int64(m.TopicPartition.Offset)),
	)
	return nil
}

// Close flushes pending messages and shuts down the Kafka producer
func (p *Producer) Close() {
	p.logger.Info("Closing Kafka producer", "app", appName)
	p.kafkaProducer.Flush(5000)
	p.kafkaProducer.Close()
}
