package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CreateRequest inserts a new service request
func (r *MongoRepository) CreateRequest(ctx context.Context, req *ServiceRequest) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCreateRequest")
	defer span.End()

	if _, err := r.RequestCollection.InsertOne(ctx, req); err != nil {
		recordError(span, err, "Failed to insert service request")
		return fmt.Errorf("failed to insert service request: %w", err)
	}
	span.SetAttributes(
		attribute.String("requestID", req.ID),
		attribute.String("userID", req.UserID),
		attribute.String("status", string(req.Status)),
	)
	return nil
}

// GetRequestByID retrieves a service request by ID
func (r *MongoRepository) GetRequestByID(ctx context.Context, id string) (*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetRequestByID")
	defer span.End()

	req, err := findOne[ServiceRequest](ctx, r.RequestCollection, bson.M{"_id": id}, ErrServiceRequestNotFound)
	if err != nil {
		recordError(span, err, "Failed to find service request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.String("status", string(req.Status)),
	)
	return req, nil
}

func (r *MongoRepository) GetRequestsByIDs(ctx context.Context, ids []string) (map[string]*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetRequestsByIDs")
	defer span.End()

	reqs, err := findMany[ServiceRequest](ctx, r.RequestCollection, byIDs(ids))
	if err != nil {
		recordError(span, err, "Failed to find service requests")
		return nil, fmt.Errorf("failed to find service requests: %w", err)
	}
	out := make(map[string]*ServiceRequest, len(reqs))
	for _, req := range reqs {
		out[req.ID] = req
	}
	return out, nil
}

// ListRequestsByUser returns the requester's requests, newest first
func (r *MongoRepository) ListRequestsByUser(ctx context.Context, userID string) ([]*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListRequestsByUser")
	defer span.End()

	reqs, err := findMany[ServiceRequest](ctx, r.RequestCollection, bson.M{"userId": userID}, options.Find().SetSort(newestFirst))
	if err != nil {
		recordError(span, err, "Failed to list service requests")
		return nil, fmt.Errorf("failed to list service requests: %w", err)
	}
	span.SetAttributes(attribute.Int("requestCount", len(reqs)))
	return reqs, nil
}

// ListRequestsByMechanic returns the jobs assigned to a mechanic profile, newest first
func (r *MongoRepository) ListRequestsByMechanic(ctx context.Context, mechanicID string) ([]*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListRequestsByMechanic")
	defer span.End()

	reqs, err := findMany[ServiceRequest](ctx, r.RequestCollection, bson.M{"mechanicId": mechanicID}, options.Find().SetSort(newestFirst))
	if err != nil {
		recordError(span, err, "Failed to list jobs")
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	span.SetAttributes(attribute.Int("requestCount", len(reqs)))
	return reqs, nil
}

func (r *MongoRepository) ListRequests(ctx context.Context, page Page) ([]*ServiceRequest, int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListRequests")
	defer span.End()

	reqs, total, err := findPage[ServiceRequest](ctx, r.RequestCollection, page)
	if err != nil {
		recordError(span, err, "Failed to list service requests")
		return nil, 0, fmt.Errorf("failed to list service requests: %w", err)
	}
	return reqs, total, nil
}

// AssignRequest swaps a pending request to assigned and records the mechanic
func (r *MongoRepository) AssignRequest(ctx context.Context, id, mechanicID string) (*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoAssignRequest")
	defer span.End()

	req, err := swap[ServiceRequest](ctx, r.RequestCollection, id,
		bson.M{"_id": id, "status": StatusPending},
		bson.M{"$set": bson.M{"mechanicId": mechanicID, "status": StatusAssigned}},
		ErrServiceRequestNotFound, ErrStaleStatus,
	)
	if err != nil {
		recordError(span, err, "Failed to assign service request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.String("mechanicID", mechanicID),
	)
	return req, nil
}

func (r *MongoRepository) TransitionRequest(ctx context.Context, id string, from, to RequestStatus, completedAt *time.Time) (*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoTransitionRequest")
	defer span.End()

	set := bson.M{"status": to}
	if completedAt != nil {
		set["completedAt"] = *completedAt
	}
	req, err := swap[ServiceRequest](ctx, r.RequestCollection, id,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		ErrServiceRequestNotFound, ErrStaleStatus,
	)
	if err != nil {
		recordError(span, err, "Failed to update service request status")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	return req, nil
}

// SettleRequest writes the paid amount back and completes the request. The
// pipeline form keeps an existing completedAt.
func (r *MongoRepository) SettleRequest(ctx context.Context, id string, amount float64, completedAt time.Time) (*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoSettleRequest")
	defer span.End()

	settle := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "actualCost", Value: amount},
			{Key: "status", Value: StatusCompleted},
			{Key: "completedAt", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$completedAt", completedAt}}}},
		}}},
	}
	req, err := swap[ServiceRequest](ctx, r.RequestCollection, id,
		bson.M{"_id": id, "status": bson.M{"$in": bson.A{StatusInProgress, StatusCompleted}}},
		settle,
		ErrServiceRequestNotFound, ErrStaleStatus,
	)
	if err != nil {
		recordError(span, err, "Failed to settle service request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.Float64("actualCost", amount),
	)
	return req, nil
}

// OverrideRequest applies the admin override with no status guard
func (r *MongoRepository) OverrideRequest(ctx context.Context, id string, override RequestOverride) (*ServiceRequest, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoOverrideRequest")
	defer span.End()

	set := bson.M{}
	if override.Status != nil {
		set["status"] = *override.Status
	}
	if override.EstimatedCost != nil {
		set["estimatedCost"] = *override.EstimatedCost
	}
	if override.ActualCost != nil {
		set["actualCost"] = *override.ActualCost
	}
	if override.CompletedAt != nil {
		set["completedAt"] = *override.CompletedAt
	}
	if len(set) == 0 {
		return r.GetRequestByID(ctx, id)
	}

	req, err := findOneAndSet(ctx, r.RequestCollection, id, set)
	if err != nil {
		recordError(span, err, "Failed to override service request")
		return nil, err
	}
	span.SetAttributes(attribute.String("requestID", id))
	return req, nil
}

func findOneAndSet(ctx context.Context, coll *mongo.Collection, id string, set bson.M) (*ServiceRequest, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var req ServiceRequest
	err := coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrServiceRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update service request: %w", err)
	}
	return &req, nil
}

// CountRequests counts requests, optionally restricted to one status
func (r *MongoRepository) CountRequests(ctx context.Context, status *RequestStatus) (int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCountRequests")
	defer span.End()

	filter := bson.M{}
	if status != nil {
		filter["status"] = *status
	}
	n, err := r.RequestCollection.CountDocuments(ctx, filter)
	if err != nil {
		recordError(span, err, "Failed to count service requests")
		return 0, fmt.Errorf("failed to count service requests: %w", err)
	}
	return n, nil
}
