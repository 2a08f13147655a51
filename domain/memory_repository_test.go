package domain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMechanic(t *testing.T, repo *MemoryRepository, id, userID string, loc *Coordinates) {
	t.Helper()
	m := NewMechanicProfile(id, userID, "Engine", 4, time.Now())
	m.CurrentLocation = loc
	require.NoError(t, repo.CreateMechanic(context.Background(), m))
}

func TestMemoryRepository_ReserveMechanic_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedMechanic(t, repo, "m1", "u1", nil)

	m, err := repo.ReserveMechanic(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, m.IsAvailable)

	_, err = repo.ReserveMechanic(ctx, "m1")
	assert.ErrorIs(t, err, ErrMechanicUnavailable)

	_, err = repo.ReserveMechanic(ctx, "missing")
	assert.ErrorIs(t, err, ErrMechanicNotFound)
}

func TestMemoryRepository_ReleaseMechanic_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedMechanic(t, repo, "m1", "u1", nil)

	_, err := repo.ReleaseMechanic(ctx, "m1")
	assert.ErrorIs(t, err, ErrMechanicNotReserved)

	_, err = repo.ReserveMechanic(ctx, "m1")
	require.NoError(t, err)
	m, err := repo.ReleaseMechanic(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsAvailable)

	_, err = repo.ReleaseMechanic(ctx, "missing")
	assert.ErrorIs(t, err, ErrMechanicNotFound)
}

func TestMemoryRepository_ReserveMechanic_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedMechanic(t, repo, "m1", "u1", nil)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ReserveMechanic(ctx, "m1"); err == nil {
				wins.Add(1)
			} else if errors.Is(err, ErrMechanicUnavailable) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), conflicts.Load())
}

func TestMemoryRepository_WithTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedMechanic(t, repo, "m1", "u1", nil)
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "r1", Status: StatusAssigned, CreatedAt: time.Now()}))

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

func TestMemoryRepository_FindAvailableMechanicsInBox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedMechanic(t, repo, "a", "ua", &Coordinates{Latitude: 12.95, Longitude: 77.55})
	seedMechanic(t, repo, "b", "ub", &Coordinates{Latitude: 13.50, Longitude: 77.60})
	seedMechanic(t, repo, "c", "uc", nil)
	seedMechanic(t, repo, "d", "ud", &Coordinates{Latitude: 12.91, Longitude: 77.61})
	_, err := repo.ToggleMechanicAvailability(ctx, "ud")
	require.NoError(t, err)

	found, err := repo.FindAvailableMechanicsInBox(ctx, NewBoundingBox(Coordinates{Latitude: 12.90, Longitude: 77.60}, ProximityDegrees))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)
}

func TestMemoryRepository_TransitionAndSettle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	created := time.Now().Add(-time.Hour)
	require.NoError(t, repo.CreateRequest(ctx, &ServiceRequest{ID: "r1", Status: StatusAssigned, CreatedAt: created}))

	_, err := repo.TransitionRequest(ctx, "r1", StatusPending, StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrStaleStatus)

	_, err = repo.SettleRequest(ctx, "r1", 500, time.Now())
	assert.ErrorIs(t, err, ErrStaleStatus, "assigned requests cannot be settled")

	_, err = repo.TransitionRequest(ctx, "r1", StatusAssigned, StatusInProgress, nil)
	require.NoError(t, err)

	first := time.Now()
	req, err := repo.SettleRequest(ctx, "r1", 500, first)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, req.Status)
	require.NotNil(t, req.ActualCost)
	assert.Equal(t, 500.0, *req.ActualCost)

	req, err = repo.SettleRequest(ctx, "r1", 500, first.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, *req.CompletedAt, "existing completion stamp is kept")
}

func TestMemoryRepository_PaymentsAndOutbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()
	require.NoError(t, repo.CreatePayment(ctx, &Payment{ID: "p1", Amount: 0.1, Status: PaymentPending, CreatedAt: now}))
	require.NoError(t, repo.CreatePayment(ctx, &Payment{ID: "p2", Amount: 0.2, Status: PaymentPending, CreatedAt: now.Add(time.Second)}))

	_, err := repo.CompletePayment(ctx, "p1", "pay_1", now)
	require.NoError(t, err)
	_, err = repo.CompletePayment(ctx, "p2", "pay_2", now)
	require.NoError(t, err)
	_, err = repo.CompletePayment(ctx, "p2", "pay_2", now)
	assert.ErrorIs(t, err, ErrPaymentNotPending)

	total, err := repo.SumPayments(ctx, PaymentCompleted)
	require.NoError(t, err)
	assert.Equal(t, "0.3", total.String())

	require.NoError(t, repo.SaveOutboxEvent(ctx, &OutboxEvent{ID: "e2", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.SaveOutboxEvent(ctx, &OutboxEvent{ID: "e1", CreatedAt: now}))
	events, err := repo.GetUnprocessedOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)

	require.NoError(t, repo.MarkOutboxEventProcessed(ctx, "e1"))
	events, err = repo.GetUnprocessedOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
}

func TestMemoryRepository_ListUsers_NewestFirstPaged(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateUser(ctx, &User{ID: id, Email: id + "@x.io", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	assert.ErrorIs(t, repo.CreateUser(ctx, &User{ID: "d", Email: "a@x.io"}), ErrDuplicateEmail)

	users, total, err := repo.ListUsers(ctx, NewPage(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, users, 2)
	assert.Equal(t, "c", users[0].ID)
	assert.Equal(t, "b", users[1].ID)

	users, _, err = repo.ListUsers(ctx, NewPage(2, 2))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].ID)
}
