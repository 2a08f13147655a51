package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Page selects a window of a newest-first listing.
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NewPage clamps page and limit into their accepted ranges.
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Page: page, Limit: limit}
}

func (p Page) Skip() int64 {
	return int64((p.Page - 1) * p.Limit)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*User, error)
	ListUsers(ctx context.Context, page Page) ([]*User, int64, error)
	CountUsersByRole(ctx context.Context, role Role) (int64, error)
	DeleteUser(ctx context.Context, id string) error
}

type MechanicRepository interface {
	CreateMechanic(ctx context.Context, profile *MechanicProfile) error
	GetMechanicByID(ctx context.Context, id string) (*MechanicProfile, error)
	GetMechanicByUserID(ctx context.Context, userID string) (*MechanicProfile, error)
	GetMechanicsByIDs(ctx context.Context, ids []string) (map[string]*MechanicProfile, error)
	UpdateMechanicLocation(ctx context.Context, userID string, location Coordinates) (*MechanicProfile, error)
	ToggleMechanicAvailability(ctx context.Context, userID string) (*MechanicProfile, error)
	// ReserveMechanic flips isAvailable from true to false, failing with
	// ErrMechanicUnavailable when the mechanic is already committed.
	ReserveMechanic(ctx context.Context, mechanicID string) (*MechanicProfile, error)
	// ReleaseMechanic undoes a reservation, flipping isAvailable from false
	// back to true. ErrMechanicNotReserved when the mechanic is available.
	ReleaseMechanic(ctx context.Context, mechanicID string) (*MechanicProfile, error)
	FindAvailableMechanicsInBox(ctx context.Context, box BoundingBox) ([]*MechanicProfile, error)
	ListMechanics(ctx context.Context, page Page) ([]*MechanicProfile, int64, error)
	CountMechanics(ctx context.Context) (int64, error)
}

type ServiceRequestRepository interface {
	CreateRequest(ctx context.Context, req *ServiceRequest) error
	GetRequestByID(ctx context.Context, id string) (*ServiceRequest, error)
	GetRequestsByIDs(ctx context.Context, ids []string) (map[string]*ServiceRequest, error)
	ListRequestsByUser(ctx context.Context, userID string) ([]*ServiceRequest, error)
	ListRequestsByMechanic(ctx context.Context, mechanicID string) ([]*ServiceRequest, error)
	ListRequests(ctx context.Context, page Page) ([]*ServiceRequest, int64, error)
	// AssignRequest moves a pending request to assigned. ErrStaleStatus when
	// the request is no longer pending.
	AssignRequest(ctx context.Context, id, mechanicID string) (*ServiceRequest, error)
	// TransitionRequest swaps the status from -> to. completedAt is written
	// when non-nil. ErrStaleStatus when the stored status is not from.
	TransitionRequest(ctx context.Context, id string, from, to RequestStatus, completedAt *time.Time) (*ServiceRequest, error)
	// SettleRequest records the paid amount and completes an in-progress or
	// completed request, keeping an existing completion stamp.
	SettleRequest(ctx context.Context, id string, amount float64, completedAt time.Time) (*ServiceRequest, error)
	OverrideRequest(ctx context.Context, id string, override RequestOverride) (*ServiceRequest, error)
	CountRequests(ctx context.Context, status *RequestStatus) (int64, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByID(ctx context.Context, id string) (*Payment, error)
	// CompletePayment swaps a pending payment to completed. ErrPaymentNotPending
	// when it was not pending.
	CompletePayment(ctx context.Context, id, gatewayPaymentID string, at time.Time) (*Payment, error)
	ListPayments(ctx context.Context, page Page) ([]*Payment, int64, error)
	ListPaymentsByStatus(ctx context.Context, status PaymentStatus) ([]*Payment, error)
	SumPayments(ctx context.Context, status PaymentStatus) (decimal.Decimal, error)
}

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedOutboxEvents(ctx context.Context, limit int64) ([]*OutboxEvent, error)
	MarkOutboxEventProcessed(ctx context.Context, eventID string) error
}

// Transactor runs fn atomically. Repository calls made with the ctx handed
// to fn join the transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Repository is the full storage surface of the service
type Repository interface {
	UserRepository
	MechanicRepository
	ServiceRequestRepository
	PaymentRepository
	OutboxRepository
	Transactor
	Pinger
}
