package domain

import "time"

const (
	EventRequestCreated       = "service_request.created"
	EventRequestAssigned      = "service_request.assigned"
	EventRequestStatusChanged = "service_request.status_changed"
	EventRequestOverridden    = "service_request.overridden"
	EventPaymentCompleted     = "payment.completed"
)

// ServiceEvent describes a lifecycle change of a service request
type ServiceEvent struct {
	RequestID  string        `json:"requestId" bson:"requestId"`
	UserID     string        `json:"userId" bson:"userId"`
	MechanicID string        `json:"mechanicId,omitempty" bson:"mechanicId,omitempty"`
	Status     RequestStatus `json:"status" bson:"status"`
	PaymentID  string        `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	Amount     *float64      `json:"amount,omitempty" bson:"amount,omitempty"`
	OccurredAt time.Time     `json:"occurredAt" bson:"occurredAt"`
}

// OutboxEvent represents an event in the outbox collection
type OutboxEvent struct {
	ID          string       `bson:"_id" json:"id"`
	EventType   string       `bson:"event_type" json:"event_type"`
	Event       ServiceEvent `bson:"event" json:"event"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	Processed   bool         `bson:"processed" json:"processed"`
	ProcessedAt *time.Time   `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// NewRequestEvent snapshots r into an outbox event.
func NewRequestEvent(id, eventType string, r *ServiceRequest, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:        id,
		EventType: eventType,
		Event: ServiceEvent{
			RequestID:  r.ID,
			UserID:     r.UserID,
			MechanicID: r.MechanicID,
			Status:     r.Status,
			Amount:     r.ActualCost,
			OccurredAt: now,
		},
		CreatedAt: now,
	}
}
