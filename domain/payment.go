package domain

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one settlement attempt for a service request. Amount is in
// major currency units; the gateway receives minor units.
type Payment struct {
	ID               string        `json:"id" bson:"_id"`
	ServiceRequestID string        `json:"serviceRequestId" bson:"serviceRequestId"`
	UserID           string        `json:"userId" bson:"userId"`
	Amount           float64       `json:"amount" bson:"amount"`
	Currency         string        `json:"currency" bson:"currency"`
	GatewayOrderID   string        `json:"razorpayOrderId" bson:"razorpayOrderId"`
	GatewayPaymentID string        `json:"razorpayPaymentId,omitempty" bson:"razorpayPaymentId,omitempty"`
	Status           PaymentStatus `json:"status" bson:"status"`
	CreatedAt        time.Time     `json:"createdAt" bson:"createdAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// GatewayOrder is the opaque order handle issued by the payment gateway
type GatewayOrder struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}
