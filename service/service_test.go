package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fadedreams/roadassist/auth"
	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/payments"
)

const gatewaySecret = "test-gateway-secret"

type fixture struct {
	svc  *Service
	repo *domain.MemoryRepository
}

func newFixture(t *testing.T) *fixture {
	return newFixtureOver(t, func(repo *domain.MemoryRepository) domain.Repository { return repo })
}

// newFixtureOver builds the service on top of wrap(repo) while keeping
// direct access to the underlying memory store.
func newFixtureOver(t *testing.T, wrap func(*domain.MemoryRepository) domain.Repository) *fixture {
	t.Helper()
	repo := domain.NewMemoryRepository()
	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(wrap(repo), payments.NewSandbox(gatewaySecret), tokens, Config{BcryptCost: bcrypt.MinCost}, logger)
	return &fixture{svc: svc, repo: repo}
}

func (f *fixture) register(t *testing.T, name string, role domain.Role) domain.Actor {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     name,
		Email:    name + "@example.com",
		Phone:    "98450" + name,
		Password: "password1",
		Role:     string(role),
	})
	require.NoError(t, err)
	return domain.Actor{UserID: res.User.ID, Role: res.User.Role}
}

// mechanicAt registers a mechanic with a stored location and returns the
// actor and profile.
func (f *fixture) mechanicAt(t *testing.T, name string, lat, lon float64) (domain.Actor, *domain.MechanicProfile) {
	t.Helper()
	actor := f.register(t, name, domain.RoleMechanic)
	profile, err := f.svc.UpdateLocation(context.Background(), actor, domain.Coordinates{Latitude: lat, Longitude: lon})
	require.NoError(t, err)
	return actor, profile
}

func (f *fixture) request(t *testing.T, requester domain.Actor, lat, lon float64) *domain.ServiceRequest {
	t.Helper()
	req, _, err := f.svc.CreateRequest(context.Background(), requester, CreateRequestInput{
		VehicleType:        "car",
		ProblemDescription: "flat tyre",
		Location:           at(lat, lon),
	})
	require.NoError(t, err)
	return req
}

// inProgress walks a fresh request through assignment and start.
func (f *fixture) inProgress(t *testing.T, requester, mechanic domain.Actor, profile *domain.MechanicProfile) *domain.ServiceRequest {
	t.Helper()
	ctx := context.Background()
	req := f.request(t, requester, 10, 20)
	_, err := f.svc.AssignRequest(ctx, requester, req.ID, profile.ID)
	require.NoError(t, err)
	req, err = f.svc.UpdateStatus(ctx, mechanic, req.ID, string(domain.StatusInProgress))
	require.NoError(t, err)
	return req
}

func ptr[T any](v T) *T { return &v }

func at(lat, lon float64) *LocationInput {
	return &LocationInput{Latitude: &lat, Longitude: &lon}
}

func (f *fixture) outboxTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.repo.GetUnprocessedOutboxEvents(context.Background(), 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}
