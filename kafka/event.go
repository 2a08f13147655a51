package kafka

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hamba/avro/v2"

	"fadedreams/roadassist/domain"
)

//go:embed service_event.avsc
var serviceEventSchema string

// ServiceEventRecord mirrors the Avro schema
type ServiceEventRecord struct {
	EventID    string    `avro:"event_id"`
	EventType  string    `avro:"event_type"`
	RequestID  string    `avro:"request_id"`
	UserID     string    `avro:"user_id"`
	MechanicID *string   `avro:"mechanic_id"`
	Status     string    `avro:"status"`
	PaymentID  *string   `avro:"payment_id"`
	Amount     *float64  `avro:"amount"`
	OccurredAt time.Time `avro:"occurred_at"`
}

// magicByte prefixes every Confluent wire-format message
const magicByte = 0

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecordOf converts an outbox event into its Avro record.
func RecordOf(event *domain.OutboxEvent) ServiceEventRecord {
	e := event.Event
	return ServiceEventRecord{
		EventID:    event.ID,
		EventType:  event.EventType,
		RequestID:  e.RequestID,
		UserID:     e.UserID,
		MechanicID: optional(e.MechanicID),
		Status:     string(e.Status),
		PaymentID:  optional(e.PaymentID),
		Amount:     e.Amount,
		OccurredAt: e.OccurredAt.UTC().Truncate(time.Millisecond),
	}
}

// ParseSchema parses the embedded service event schema.
func ParseSchema() (avro.Schema, error) {
	schema, err := avro.Parse(serviceEventSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return schema, nil
}

// encode serializes rec in the Confluent wire format: magic byte, the
// big-endian registry schema id, then the Avro body.
func encode(schema avro.Schema, schemaID int, rec ServiceEventRecord) ([]byte, error) {
	body, err := avro.Marshal(schema, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	out := make([]byte, 5, 5+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID))
	return append(out, body...), nil
}
