package domain

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "roadassist"

var newestFirst = bson.D{{Key: "createdAt", Value: -1}}

// MongoRepository implements Repository on top of a MongoDB database
type MongoRepository struct {
	client             *mongo.Client
	UserCollection     *mongo.Collection
	MechanicCollection *mongo.Collection
	RequestCollection  *mongo.Collection
	PaymentCollection  *mongo.Collection
	OutboxCollection   *mongo.Collection
	transactions       bool
}

// NewMongoRepository creates a new MongoRepository. Multi-document
// transactions need a replica set; with transactions disabled the callbacks
// passed to WithTransaction run as plain sequential writes.
func NewMongoRepository(client *mongo.Client, database string, transactions bool) *MongoRepository {
	db := client.Database(database)
	return &MongoRepository{
		client:             client,
		UserCollection:     db.Collection("users"),
		MechanicCollection: db.Collection("mechanics"),
		RequestCollection:  db.Collection("service_requests"),
		PaymentCollection:  db.Collection("payments"),
		OutboxCollection:   db.Collection("outbox"),
		transactions:       transactions,
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes the repository relies on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoEnsureIndexes")
	defer span.End()

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		r.UserCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		r.MechanicCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "isAvailable", Value: 1}, {Key: "currentLocation.latitude", Value: 1}}},
		},
		r.RequestCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "mechanicId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		r.PaymentCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		r.OutboxCollection: {
			{Keys: bson.D{{Key: "processed", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			recordError(span, err, "Failed to create indexes")
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a MongoDB session transaction. Calls that
// already carry a session join it instead of nesting.
func (r *MongoRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

// Ping checks the primary is reachable.
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func recordError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// findOne decodes the single document matching filter, translating a miss
// into notFound.
func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any, notFound error) (*T, error) {
	var doc T
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound
		}
		return nil, err
	}
	return &doc, nil
}

// findMany decodes every document matching filter.
func findMany[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]*T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]*T, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// findPage returns one newest-first page plus the total document count.
func findPage[T any](ctx context.Context, coll *mongo.Collection, page Page) ([]*T, int64, error) {
	total, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(newestFirst).SetSkip(page.Skip()).SetLimit(int64(page.Limit))
	docs, err := findMany[T](ctx, coll, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// swap applies update to the document matching filter and returns the
// updated document. On a miss it distinguishes an absent document (notFound)
// from one whose guard fields no longer match (stale).
func swap[T any](ctx context.Context, coll *mongo.Collection, id string, filter, update any, notFound, stale error) (*T, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc T
	err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return &doc, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	n, countErr := coll.CountDocuments(ctx, bson.M{"_id": id})
	if countErr != nil {
		return nil, countErr
	}
	if n == 0 {
		return nil, notFound
	}
	return nil, stale
}

func byIDs(ids []string) bson.M {
	return bson.M{"_id": bson.M{"$in": ids}}
}
