package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CreatePayment inserts a pending payment
func (r *MongoRepository) CreatePayment(ctx context.Context, payment *Payment) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCreatePayment")
	defer span.End()

	if _, err := r.PaymentCollection.InsertOne(ctx, payment); err != nil {
		recordError(span, err, "Failed to insert payment")
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	span.SetAttributes(
		attribute.String("paymentID", payment.ID),
		attribute.String("requestID", payment.ServiceRequestID),
		attribute.Float64("amount", payment.Amount),
	)
	return nil
}

// GetPaymentByID retrieves a payment by ID
func (r *MongoRepository) GetPaymentByID(ctx context.Context, id string) (*Payment, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetPaymentByID")
	defer span.End()

	p, err := findOne[Payment](ctx, r.PaymentCollection, bson.M{"_id": id}, ErrPaymentNotFound)
	if err != nil {
		recordError(span, err, "Failed to find payment")
		return nil, err
	}
	span.SetAttributes(attribute.String("paymentID", id))
	return p, nil
}

// CompletePayment swaps a pending payment to completed
func (r *MongoRepository) CompletePayment(ctx context.Context, id, gatewayPaymentID string, at time.Time) (*Payment, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCompletePayment")
	defer span.End()

	p, err := swap[Payment](ctx, r.PaymentCollection, id,
		bson.M{"_id": id, "status": PaymentPending},
		bson.M{"$set": bson.M{
			"status":            PaymentCompleted,
			"razorpayPaymentId": gatewayPaymentID,
			"completedAt":       at,
		}},
		ErrPaymentNotFound, ErrPaymentNotPending,
	)
	if err != nil {
		recordError(span, err, "Failed to complete payment")
		return nil, err
	}
	span.SetAttributes(attribute.String("paymentID", id))
	return p, nil
}

func (r *MongoRepository) ListPayments(ctx context.Context, page Page) ([]*Payment, int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListPayments")
	defer span.End()

	payments, total, err := findPage[Payment](ctx, r.PaymentCollection, page)
	if err != nil {
		recordError(span, err, "Failed to list payments")
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}

func (r *MongoRepository) ListPaymentsByStatus(ctx context.Context, status PaymentStatus) ([]*Payment, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListPaymentsByStatus")
	defer span.End()

	payments, err := findMany[Payment](ctx, r.PaymentCollection, bson.M{"status": status}, options.Find().SetSort(newestFirst))
	if err != nil {
		recordError(span, err, "Failed to list payments")
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	span.SetAttributes(attribute.Int("paymentCount", len(payments)))
	return payments, nil
}

// SumPayments totals the amounts of payments in status. Amounts are summed
// as decimals so the revenue figure carries no float drift.
func (r *MongoRepository) SumPayments(ctx context.Context, status PaymentStatus) (decimal.Decimal, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoSumPayments")
	defer span.End()

	cursor, err := r.PaymentCollection.Find(ctx, bson.M{"status": status}, options.Find().SetProjection(bson.M{"amount": 1}))
	if err != nil {
		recordError(span, err, "Failed to sum payments")
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	defer cursor.Close(ctx)

	total := decimal.Zero
	for cursor.Next(ctx) {
		var row struct {
			Amount float64 `bson:"amount"`
		}
		if err := cursor.Decode(&row); err != nil {
			recordError(span, err, "Failed to decode payment")
			return decimal.Zero, fmt.Errorf("failed to decode payment: %w", err)
		}
		total = total.Add(decimal.NewFromFloat(row.Amount))
	}
	if err := cursor.Err(); err != nil {
		recordError(span, err, "Cursor error")
		return decimal.Zero, fmt.Errorf("cursor error: %w", err)
	}
	span.SetAttributes(attribute.String("total", total.String()))
	return total, nil
}
