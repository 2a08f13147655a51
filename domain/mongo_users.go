package domain

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CreateUser inserts a user, rejecting a duplicate email
func (r *MongoRepository) CreateUser(ctx context.Context, user *User) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCreateUser")
	defer span.End()

	if _, err := r.UserCollection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		recordError(span, err, "Failed to insert user")
		return fmt.Errorf("failed to insert user: %w", err)
	}
	span.SetAttributes(
		attribute.String("userID", user.ID),
		attribute.String("role", string(user.Role)),
	)
	return nil
}

// GetUserByID retrieves a user by ID
func (r *MongoRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetUserByID")
	defer span.End()

	user, err := findOne[User](ctx, r.UserCollection, bson.M{"_id": id}, ErrUserNotFound)
	if err != nil {
		recordError(span, err, "Failed to find user")
		return nil, err
	}
	span.SetAttributes(attribute.String("userID", id))
	return user, nil
}

// GetUserByEmail retrieves a user by normalized email
func (r *MongoRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetUserByEmail")
	defer span.End()

	user, err := findOne[User](ctx, r.UserCollection, bson.M{"email": NormalizeEmail(email)}, ErrUserNotFound)
	if err != nil {
		recordError(span, err, "Failed to find user")
		return nil, err
	}
	return user, nil
}

func (r *MongoRepository) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoGetUsersByIDs")
	defer span.End()

	users, err := findMany[User](ctx, r.UserCollection, byIDs(ids))
	if err != nil {
		recordError(span, err, "Failed to find users")
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	out := make(map[string]*User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	span.SetAttributes(attribute.Int("userCount", len(out)))
	return out, nil
}

func (r *MongoRepository) ListUsers(ctx context.Context, page Page) ([]*User, int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoListUsers")
	defer span.End()

	users, total, err := findPage[User](ctx, r.UserCollection, page)
	if err != nil {
		recordError(span, err, "Failed to list users")
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	span.SetAttributes(attribute.Int64("total", total))
	return users, total, nil
}

func (r *MongoRepository) CountUsersByRole(ctx context.Context, role Role) (int64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoCountUsersByRole")
	defer span.End()

	n, err := r.UserCollection.CountDocuments(ctx, bson.M{"role": role})
	if err != nil {
		recordError(span, err, "Failed to count users")
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// DeleteUser removes a user. Documents referencing it are left as they are.
func (r *MongoRepository) DeleteUser(ctx context.Context, id string) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "MongoDeleteUser")
	defer span.End()

	res, err := r.UserCollection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		recordError(span, err, "Failed to delete user")
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrUserNotFound
	}
	span.SetAttributes(attribute.String("userID", id))
	return nil
}
