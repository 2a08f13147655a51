package domain

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// newMongoTestRepo connects to MONGO_TEST_URI and returns a repository on a
// throwaway database. Tests skip when the variable is unset.
func newMongoTestRepo(t *testing.T, transactions bool) *MongoRepository {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	database := "roadassist_test_" + primitive.NewObjectID().Hex()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Database(database).Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	repo := NewMongoRepository(client, database, transactions)
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

// ms truncates to the millisecond precision Mongo stores.
func ms(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func TestMongoRepository_ReserveAndReleaseMechanic(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	require.NoError(t, repo.CreateMechanic(ctx, NewMechanicProfile("m1", "u1", "", 0, ms(time.Now()))))

	m, err := repo.ReserveMechanic(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, m.IsAvailable)

	_, err = repo.ReserveMechanic(ctx, "m1")
	assert.ErrorIs(t, err, ErrMechanicUnavailable)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = repo.ReserveMechanic(ctx, "missing")
	assert.ErrorIs(t, err, ErrMechanicNotFound)

	m, err = repo.ReleaseMechanic(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsAvailable)

	_, err = repo.ReleaseMechanic(ctx, "m1")
	assert.ErrorIs(t, err, ErrMechanicNotReserved)
}

func TestMongoRepository_MechanicProfileUniquePerUser(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	require.NoError(t, repo.CreateMechanic(ctx, NewMechanicProfile("m1", "u1", "", 0, ms(time.Now()))))

	err := repo.CreateMechanic(ctx, NewMechanicProfile("m2", "u1", "", 0, ms(time.Now())))
	assert.ErrorIs(t, err, ErrMechanicProfileExists)
}

func TestMongoRepository_ToggleMechanicAvailability(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	require.NoError(t, repo.CreateMechanic(ctx, NewMechanicProfile("m1", "u1", "", 0, ms(time.Now()))))

	m, err := repo.ToggleMechanicAvailability(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, m.IsAvailable)

	m, err = repo.ToggleMechanicAvailability(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, m.IsAvailable)

	_, err = repo.ToggleMechanicAvailability(ctx, "nobody")
	assert.ErrorIs(t, err, ErrMechanicNotFound)
}

func TestMongoRepository_FindAvailableMechanicsInBox(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	for id, loc := range map[string]*Coordinates{
		"near":    {Latitude: 12.95, Longitude: 77.55},
		"far":     {Latitude: 13.50, Longitude: 77.60},
		"nowhere": nil,
	} {
		m := NewMechanicProfile(id, "u-"+id, "", 0, ms(time.Now()))
		m.CurrentLocation = loc
		require.NoError(t, repo.CreateMechanic(ctx, m))
	}

	box := NewBoundingBox(Coordinates{Latitude: 12.90, Longitude: 77.60}, 0.1)
	found, err := repo.FindAvailableMechanicsInBox(ctx, box)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "near", found[0].ID)

	_, err = repo.ReserveMechanic(ctx, "near")
	require.NoError(t, err)
	found, err = repo.FindAvailableMechanicsInBox(ctx, box)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMongoRepository_AssignAndTransitionSwap(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "r1", UserID: "u1", Status: StatusPending, CreatedAt: ms(time.Now())}))

	req, err := repo.AssignRequest(ctx, "r1", "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, req.Status)
	assert.Equal(t, "m1", req.MechanicID)

	_, err = repo.AssignRequest(ctx, "r1", "m2")
	assert.ErrorIs(t, err, ErrStaleStatus)
	_, err = repo.AssignRequest(ctx, "missing", "m1")
	assert.ErrorIs(t, err, ErrServiceRequestNotFound)

	_, err = repo.TransitionRequest(ctx, "r1", StatusPending, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrStaleStatus)

	req, err = repo.TransitionRequest(ctx, "r1", StatusAssigned, StatusInProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, req.Status)
	assert.Nil(t, req.CompletedAt)
}

func TestMongoRepository_SettleRequest(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	created := ms(time.Now().Add(-time.Hour))
	stamped := ms(time.Now().Add(-30 * time.Minute))
	later := ms(time.Now())

	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "done", Status: StatusCompleted, CreatedAt: created, CompletedAt: &stamped}))
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "working", Status: StatusInProgress, CreatedAt: created}))
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "waiting", Status: StatusPending, CreatedAt: created}))

	req, err := repo.SettleRequest(ctx, "done", 750, later)
	require.NoError(t, err)
	require.NotNil(t, req.CompletedAt)
	assert.True(t, stamped.Equal(*req.CompletedAt), "existing completedAt must be kept")
	require.NotNil(t, req.ActualCost)
	assert.Equal(t, 750.0, *req.ActualCost)

	req, err = repo.SettleRequest(ctx, "working", 500, later)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, req.Status)
	require.NotNil(t, req.CompletedAt)
	assert.True(t, later.Equal(*req.CompletedAt))

	_, err = repo.SettleRequest(ctx, "waiting", 500, later)
	assert.ErrorIs(t, err, ErrStaleStatus)
	_, err = repo.SettleRequest(ctx, "missing", 500, later)
	assert.ErrorIs(t, err, ErrServiceRequestNotFound)
}

func TestMongoRepository_OverrideRequest(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "r1", Status: StatusPending, CreatedAt: ms(time.Now())}))

	status, cost := StatusCancelled, 900.0
	req, err := repo.OverrideRequest(ctx, "r1", RequestOverride{Status: &status, EstimatedCost: &cost})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, req.Status)
	require.NotNil(t, req.EstimatedCost)
	assert.Equal(t, 900.0, *req.EstimatedCost)

	_, err = repo.OverrideRequest(ctx, "missing", RequestOverride{Status: &status})
	assert.ErrorIs(t, err, ErrServiceRequestNotFound)
}

func TestMongoRepository_PaymentsCompleteOnceAndSum(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	now := ms(time.Now())
	for id, amount := range map[string]float64{"p1": 0.1, "p2": 0.2, "p3": 99} {
		require.NoError(t, repo.CreatePayment(ctx, &Payment{ID: id, Amount: amount, Currency: "INR", Status: PaymentPending, CreatedAt: now}))
	}

	p, err := repo.CompletePayment(ctx, "p1", "pay_1", now)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, p.Status)
	assert.Equal(t, "pay_1", p.GatewayPaymentID)

	_, err = repo.CompletePayment(ctx, "p1", "pay_other", now)
	assert.ErrorIs(t, err, ErrPaymentNotPending)
	_, err = repo.CompletePayment(ctx, "missing", "pay_x", now)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = repo.CompletePayment(ctx, "p2", "pay_2", now)
	require.NoError(t, err)

	total, err := repo.SumPayments(ctx, PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, "0.3", total.String())

	completed, err := repo.ListPaymentsByStatus(ctx, PaymentCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 2)
}

func TestMongoRepository_UsersUniqueEmailAndDelete(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	user := &User{ID: "u1", Name: "Asha", Email: "asha@example.com", Role: RoleUser, CreatedAt: ms(time.Now())}
	require.NoError(t, repo.CreateUser(ctx, user))

	dup := *user
	dup.ID = "u2"
	assert.ErrorIs(t, repo.CreateUser(ctx, &dup), ErrDuplicateEmail)

	got, err := repo.GetUserByEmail(ctx, "asha@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	require.NoError(t, repo.DeleteUser(ctx, "u1"))
	assert.ErrorIs(t, repo.DeleteUser(ctx, "u1"), ErrUserNotFound)
}

func TestMongoRepository_OutboxOldestFirst(t *testing.T) {
	repo := newMongoTestRepo(t, false)
	ctx := context.Background()
	base := ms(time.Now())
	req := &ServiceRequest{ID: "r1", UserID: "u1", Status: StatusPending}
	require.NoError(t, repo.SaveOutboxEvent(ctx, NewRequestEvent("e2", EventRequestAssigned, req, base.Add(time.Second))))
	require.NoError(t, repo.SaveOutboxEvent(ctx, NewRequestEvent("e1", EventRequestCreated, req, base)))
	require.NoError(t, repo.SaveOutboxEvent(ctx, NewRequestEvent("e3", EventRequestStatusChanged, req, base.Add(time.Second))))

	events, err := repo.GetUnprocessedOutboxEvents(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids)

	require.NoError(t, repo.MarkOutboxEventProcessed(ctx, "e1"))
	events, err = repo.GetUnprocessedOutboxEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
}

func TestMongoRepository_WithTransactionRollsBack(t *testing.T) {
	if os.Getenv("MONGO_TEST_TRANSACTIONS") == "" {
		t.Skip("MONGO_TEST_TRANSACTIONS not set; transactions need a replica set")
	}
	repo := newMongoTestRepo(t, true)
	ctx := context.Background()
	require.NoError(t, repo.CreateMechanic(ctx, NewMechanicProfile("m1", "u1", "", 0, ms(time.Now()))))
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "r1", Status: StatusAssigned, CreatedAt: ms(time.Now())}))

	err := repo.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := repo.ReserveMechanic(ctx, "m1"); err != nil {
			return err
		}
		_, err := repo.AssignRequest(ctx, "r1", "m1")
		return err
	})
	require.ErrorIs(t, err, ErrStaleStatus)

	m, err := repo.GetMechanicByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsAvailable, "reservation must be rolled back")
}
