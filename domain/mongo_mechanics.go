package domain

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CreateMechanic inserts a mechanic profile. A second profile for the same
// user violates the userId index.
func (r *MongoRepository) CreateMechanic(ctx context.Context, profile *MechanicProfile) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCreateMechanic")
	defer span.End()

	if _, err := r.MechanicCollection.InsertOne(ctx, profile); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrMechanicProfileExists
		}
		recordError(span, err, "Failed to insert mechanic")
		return fmt.Errorf("failed to insert mechanic: %w", err)
	}
	span.SetAttributes(
		attribute.String("mechanicID", profile.ID),
		attribute.String("userID", profile.UserID),
	)
	return nil
}

// GetMechanicByID retrieves a mechanic by ID
func (r *MongoRepository) GetMechanicByID(ctx context.Context, id string) (*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetMechanicByID")
	defer span.End()

	m, err := findOne[MechanicProfile](ctx, r.MechanicCollection, bson.M{"_id": id}, ErrMechanicNotFound)
	if err != nil {
		recordError(span, err, "Failed to find mechanic")
		return nil, err
	}
	span.SetAttributes(attribute.String("mechanicID", id))
	return m, nil
}

// GetMechanicByUserID retrieves the profile owned by a mechanic user
func (r *MongoRepository) GetMechanicByUserID(ctx context.Context, userID string) (*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetMechanicByUserID")
	defer span.End()

	m, err := findOne[MechanicProfile](ctx, r.MechanicCollection, bson.M{"userId": userID}, ErrMechanicNotFound)
	if err != nil {
		recordError(span, err, "Failed to find mechanic")
		return nil, err
	}
	span.SetAttributes(attribute.String("mechanicID", m.ID))
	return m, nil
}

func (r *MongoRepository) GetMechanicsByIDs(ctx context.Context, ids []string) (map[string]*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetMechanicsByIDs")
	defer span.End()

	mechanics, err := findMany[MechanicProfile](ctx, r.MechanicCollection, byIDs(ids))
	if err != nil {
		recordError(span, err, "Failed to find mechanics")
		return nil, fmt.Errorf("failed to find mechanics: %w", err)
	}
	out := make(map[string]*MechanicProfile, len(mechanics))
	for _, m := range mechanics {
		out[m.ID] = m
	}
	return out, nil
}

// UpdateMechanicLocation overwrites the stored coordinates
func (r *MongoRepository) UpdateMechanicLocation(ctx context.Context, userID string, location Coordinates) (*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoUpdateMechanicLocation")
	defer span.End()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m MechanicProfile
	err := r.MechanicCollection.FindOneAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"currentLocation": location}},
		opts,
	).Decode(&m)
	if err != nil {
		recordError(span, err, "Failed to update mechanic location")
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMechanicNotFound
		}
		return nil, fmt.Errorf("failed to update mechanic location: %w", err)
	}
	span.SetAttributes(
		attribute.String("mechanicID", m.ID),
		attribute.Float64("latitude", location.Latitude),
		attribute.Float64("longitude", location.Longitude),
	)
	return &m, nil
}

// ToggleMechanicAvailability flips isAvailable server-side so concurrent
// toggles never read a stale value.
func (r *MongoRepository) ToggleMechanicAvailability(ctx context.Context, userID string) (*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoToggleMechanicAvailability")
	defer span.End()

	flip := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "isAvailable", Value: bson.D{{Key: "$not", Value: bson.A{"$isAvailable"}}}}}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m MechanicProfile
	err := r.MechanicCollection.FindOneAndUpdate(ctx, bson.M{"userId": userID}, flip, opts).Decode(&m)
	if err != nil {
		recordError(span, err, "Failed to toggle availability")
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMechanicNotFound
		}
		return nil, fmt.Errorf("failed to toggle availability: %w", err)
	}
	span.SetAttributes(
		attribute.String("mechanicID", m.ID),
		attribute.Bool("isAvailable", m.IsAvailable),
	)
	return &m, nil
}

// ReserveMechanic is the compare-and-swap on the availability flag
func (r *MongoRepository) ReserveMechanic(ctx context.Context, mechanicID string) (*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoReserveMechanic")
	defer span.End()

	m, err := swap[MechanicProfile](ctx, r.MechanicCollection, mechanicID,
		bson.M{"_id": mechanicID, "isAvailable": true},
		bson.M{"$set": bson.M{"isAvailable": false}},
		ErrMechanicNotFound, ErrMechanicUnavailable,
	)
	if err != nil {
		recordError(span, err, "Failed to reserve mechanic")
		return nil, err
	}
	span.SetAttributes(attribute.String("mechanicID", mechanicID))
	return m, nil
}

// ReleaseMechanic hands a reservation back
func (r *MongoRepository) ReleaseMechanic(ctx context.Context, mechanicID string) (*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoReleaseMechanic")
	defer span.End()

	m, err := swap[MechanicProfile](ctx, r.MechanicCollection, mechanicID,
		bson.M{"_id": mechanicID, "isAvailable": false},
		bson.M{"$set": bson.M{"isAvailable": true}},
		ErrMechanicNotFound, ErrMechanicNotReserved,
	)
	if err != nil {
		recordError(span, err, "Failed to release mechanic")
		return nil, err
	}
	span.SetAttributes(attribute.String("mechanicID", mechanicID))
	return m, nil
}

// FindAvailableMechanicsInBox returns available mechanics whose stored
// location lies inside box. Profiles without a location never match.
func (r *MongoRepository) FindAvailableMechanicsInBox(ctx context.Context, box BoundingBox) ([]*MechanicProfile, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoFindAvailableMechanicsInBox")
	defer span.End()

	filter := bson.M{
		"isAvailable":               true,
		"currentLocation.latitude":  bson.M{"$gte": box.MinLatitude, "$lte": box.MaxLatitude},
		"currentLocation.longitude": bson.M{"$gte": box.MinLongitude, "$lte": box.MaxLongitude},
	}
	mechanics, err := findMany[MechanicProfile](ctx, r.MechanicCollection, filter)
	if err != nil {
		recordError(span, err, "Failed to find nearby mechanics")
		return nil, fmt.Errorf("failed to find nearby mechanics: %w", err)
	}
	span.SetAttributes(attribute.Int("mechanicCount", len(mechanics)))
	return mechanics, nil
}

func (r *MongoRepository) ListMechanics(ctx context.Context, page Page) ([]*MechanicProfile, int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListMechanics")
	defer span.End()

	mechanics, total, err := findPage[MechanicProfile](ctx, r.MechanicCollection, page)
	if err != nil {
		recordError(span, err, "Failed to list mechanics")
		return nil, 0, fmt.Errorf("failed to list mechanics: %w", err)
	}
	return mechanics, total, nil
}

func (r *MongoRepository) CountMechanics(ctx context.Context) (int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCountMechanics")
	defer span.End()

	n, err := r.MechanicCollection.CountDocuments(ctx, bson.M{})
	if err != nil {
		recordError(span, err, "Failed to count mechanics")
		return 0, fmt.Errorf("failed to count mechanics: %w", err)
	}
	return n, nil
}
