package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fadedreams/roadassist/domain"
)

func TestAdminListings_DeletedUserPlaceholders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mechanic, profile := f.mechanicAt(t, "ravi", 10, 20)
	requester := f.register(t, "asha", domain.RoleUser)
	req := f.inProgress(t, requester, mechanic, profile)
	order, err := f.svc.CreateOrder(ctx, requester, req.ID, 150)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, requester.UserID))
	require.NoError(t, f.svc.DeleteUser(ctx, mechanic.UserID))
	err = f.svc.DeleteUser(ctx, requester.UserID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	page := domain.NewPage(1, 20)
	reqs, err := f.svc.ListRequests(ctx, page)
	require.NoError(t, err)
	require.Len(t, reqs.Items, 1)
	assert.Equal(t, int64(1), reqs.Total)
	assert.Equal(t, domain.UnknownUser, reqs.Items[0].User.Name)
	assert.Equal(t, domain.NotAvailable, reqs.Items[0].User.Phone)
	require.NotNil(t, reqs.Items[0].Mechanic, "profiles survive their user")
	assert.Equal(t, domain.UnknownUser, reqs.Items[0].Mechanic.User.Name)

	pays, err := f.svc.ListPayments(ctx, page)
	require.NoError(t, err)
	require.Len(t, pays.Items, 1)
	assert.Equal(t, order.PaymentID, pays.Items[0].ID)
	assert.Equal(t, domain.UnknownUser, pays.Items[0].User.Name)
	assert.Equal(t, "car", pays.Items[0].ServiceRequest.VehicleType)

	mechs, err := f.svc.ListMechanics(ctx, page)
	require.NoError(t, err)
	require.Len(t, mechs.Items, 1)
	assert.Equal(t, domain.UnknownUser, mechs.Items[0].User.Name)

	users, err := f.svc.ListUsers(ctx, page)
	require.NoError(t, err)
	assert.Empty(t, users.Items)
	assert.Zero(t, users.Total)
}

func TestAdminListings_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.register(t, "user"+name, domain.RoleUser)
	}

	first, err := f.svc.ListUsers(ctx, domain.NewPage(1, 2))
	require.NoError(t, err)
	second, err := f.svc.ListUsers(ctx, domain.NewPage(3, 2))
	require.NoError(t, err)

	assert.Len(t, first.Items, 2)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, int64(5), first.Total)
	assert.Equal(t, 3, second.Page.Page)
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mechanic, profile := f.mechanicAt(t, "ravi", 10, 20)
	requester := f.register(t, "asha", domain.RoleUser)
	f.register(t, "bala", domain.RoleUser)
	require.NoError(t, f.svc.EnsureAdmin(ctx, "", "admin@example.com", "adminpass"))

	req := f.inProgress(t, requester, mechanic, profile)
	f.request(t, requester, 10, 20)
	for _, amount := range []float64{0.1, 0.2} {
		order, err := f.svc.CreateOrder(ctx, requester, req.ID, amount)
		require.NoError(t, err)
		_, err = f.repo.CompletePayment(ctx, order.PaymentID, "pay_"+order.PaymentID, f.svc.now())
		require.NoError(t, err)
	}
	_, err := f.svc.CreateOrder(ctx, requester, req.ID, 99)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.TotalMechanics)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.CompletedRequests)
	assert.Equal(t, int64(1), stats.PendingRequests)
	assert.Equal(t, 0.3, stats.TotalRevenue)
}

func TestAdminOverrideRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requester := f.register(t, "asha", domain.RoleUser)
	req := f.request(t, requester, 10, 20)

	completed := string(domain.StatusCompleted)
	cost := 1200.0
	updated, err := f.svc.OverrideRequest(ctx, req.ID, OverrideInput{Status: &completed, EstimatedCost: &cost})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	require.NotNil(t, updated.EstimatedCost)
	assert.Equal(t, cost, *updated.EstimatedCost)
	require.NotNil(t, updated.CompletedAt)
	assert.False(t, updated.CompletedAt.Before(updated.CreatedAt))
	assert.Nil(t, updated.ActualCost)
	assert.Contains(t, f.outboxTypes(t), domain.EventRequestOverridden)

	// the override ignores the state machine
	pending := string(domain.StatusPending)
	back, err := f.svc.OverrideRequest(ctx, req.ID, OverrideInput{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, back.Status)

	bogus := "done"
	_, err = f.svc.OverrideRequest(ctx, req.ID, OverrideInput{Status: &bogus})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	negative := -1.0
	_, err = f.svc.OverrideRequest(ctx, req.ID, OverrideInput{EstimatedCost: &negative})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.svc.OverrideRequest(ctx, req.ID, OverrideInput{})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.svc.OverrideRequest(ctx, "missing", OverrideInput{Status: &pending})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
