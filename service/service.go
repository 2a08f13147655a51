package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/auth"
	"fadedreams/roadassist/domain"
)

const appName = "roadassist"

// PaymentGateway is the external processor that issues orders and signs
// checkout callbacks.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.GatewayOrder, error)
	VerifyCallback(orderID, paymentID, signature string) bool
}

type Config struct {
	Currency     string
	SearchRadius float64
	BcryptCost   int
}

// Service implements the request lifecycle, mechanic registry, payment
// ledger and admin operations.
type Service struct {
	repo    domain.Repository
	gateway PaymentGateway
	tokens  *auth.TokenManager
	tracer  trace.Tracer
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService creates a new instance of the roadside assistance service
func NewService(repo domain.Repository, gateway PaymentGateway, tokens *auth.TokenManager, cfg Config, logger *slog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = domain.ProximityDegrees
	}
	return &Service{
		repo:    repo,
		gateway: gateway,
		tokens:  tokens,
		tracer:  otel.Tracer(appName),
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

// fail records err on span and logs it. Errors without a domain kind are
// wrapped as internal so storage details stay out of responses.
func (s *Service) fail(span trace.Span, err error, msg string, args ...any) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	args = append(args, "error", err, "app", appName)

	var de *domain.Error
	if !errors.As(err, &de) {
		s.logger.Error(msg, args...)
		return domain.NewInternalError(msg, err)
	}
	if de.Kind == domain.KindInternal || de.Kind == domain.KindGateway {
		s.logger.Error(msg, args...)
	} else {
		s.logger.Warn(msg, args...)
	}
	return err
}

// emit stores an outbox event describing req. Callers run it inside the
// transaction that changed req.
func (s *Service) emit(ctx context.Context, eventType string, req *domain.ServiceRequest, mutate func(*domain.ServiceEvent)) error {
	event := domain.NewRequestEvent(newID(), eventType, req, s.now())
	if mutate != nil {
		mutate(&event.Event)
	}
	return s.repo.SaveOutboxEvent(ctx, event)
}

// userContacts resolves ids to contacts; ids with no user get the placeholder.
func (s *Service) userContacts(ctx context.Context, ids []string) (map[string]domain.UserContact, error) {
	users, err := s.repo.GetUsersByIDs(ctx, uniq(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.UserContact, len(ids))
	for _, id := range ids {
		out[id] = domain.ContactOf(id, users[id])
	}
	return out, nil
}

// mechanicsWithUsers joins profiles with their owners' contacts.
func (s *Service) mechanicsWithUsers(ctx context.Context, profiles []*domain.MechanicProfile) ([]domain.MechanicWithUser, error) {
	ids := make([]string, 0, len(profiles))
	for _, m := range profiles {
		ids = append(ids, m.UserID)
	}
	contacts, err := s.userContacts(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MechanicWithUser, 0, len(profiles))
	for _, m := range profiles {
		out = append(out, domain.MechanicWithUser{MechanicProfile: m, User: contacts[m.UserID]})
	}
	return out, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// namePhone trims a contact to the fields shown to the other party of a job.
func namePhone(c domain.UserContact) domain.UserContact {
	return domain.UserContact{ID: c.ID, Name: c.Name, Phone: c.Phone}
}
