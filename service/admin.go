package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/domain"
)

// Paged is one page of an admin listing
type Paged[T any] struct {
	Items []T
	Total int64
	Page  domain.Page
}

// AdminRequestView joins a request with its requester and the assigned
// mechanic's profile and user.
type AdminRequestView struct {
	*domain.ServiceRequest
	User     domain.UserContact       `json:"user"`
	Mechanic *domain.MechanicWithUser `json:"mechanic"`
}

// RequestSummary is the slice of a request shown next to its payments
type RequestSummary struct {
	ID          string               `json:"id"`
	VehicleType string               `json:"vehicleType"`
	Status      domain.RequestStatus `json:"status"`
}

type AdminPaymentView struct {
	*domain.Payment
	User           domain.UserContact `json:"user"`
	ServiceRequest RequestSummary     `json:"serviceRequest"`
}

type Stats struct {
	TotalUsers        int64   `json:"totalUsers"`
	TotalMechanics    int64   `json:"totalMechanics"`
	TotalRequests     int64   `json:"totalRequests"`
	CompletedRequests int64   `json:"completedRequests"`
	PendingRequests   int64   `json:"pendingRequests"`
	TotalRevenue      float64 `json:"totalRevenue"`
}

// OverrideInput is the admin escape hatch on a request. It bypasses the
// state machine.
type OverrideInput struct {
	Status        *string
	EstimatedCost *float64
}

func (s *Service) ListUsers(ctx context.Context, page domain.Page) (*Paged[*domain.User], error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminListUsers")
	defer span.End()

	users, total, err := s.repo.ListUsers(ctx, page)
	if err != nil {
		return nil, s.fail(span, err, "Failed to list users")
	}
	return &Paged[*domain.User]{Items: users, Total: total, Page: page}, nil
}

func (s *Service) ListMechanics(ctx context.Context, page domain.Page) (*Paged[domain.MechanicWithUser], error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminListMechanics")
	defer span.End()

	profiles, total, err := s.repo.ListMechanics(ctx, page)
	if err != nil {
		return nil, s.fail(span, err, "Failed to list mechanics")
	}
	joined, err := s.mechanicsWithUsers(ctx, profiles)
	if err != nil {
		return nil, s.fail(span, err, "Failed to join mechanic users")
	}
	return &Paged[domain.MechanicWithUser]{Items: joined, Total: total, Page: page}, nil
}

// ListRequests resolves requester and mechanic for each request. References
// to deleted users or profiles degrade to placeholders.
func (s *Service) ListRequests(ctx context.Context, page domain.Page) (*Paged[AdminRequestView], error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminListRequests")
	defer span.End()

	reqs, total, err := s.repo.ListRequests(ctx, page)
	if err != nil {
		return nil, s.fail(span, err, "Failed to list service requests")
	}
	withMechanics, err := s.withMechanics(ctx, reqs)
	if err != nil {
		return nil, s.fail(span, err, "Failed to join mechanics")
	}
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.UserID)
	}
	contacts, err := s.userContacts(ctx, ids)
	if err != nil {
		return nil, s.fail(span, err, "Failed to join requesters")
	}

	views := make([]AdminRequestView, 0, len(reqs))
	for _, v := range withMechanics {
		views = append(views, AdminRequestView{
			ServiceRequest: v.ServiceRequest,
			User:           contacts[v.UserID],
			Mechanic:       v.Mechanic,
		})
	}
	return &Paged[AdminRequestView]{Items: views, Total: total, Page: page}, nil
}

func (s *Service) ListPayments(ctx context.Context, page domain.Page) (*Paged[AdminPaymentView], error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminListPayments")
	defer span.End()

	list, total, err := s.repo.ListPayments(ctx, page)
	if err != nil {
		return nil, s.fail(span, err, "Failed to list payments")
	}
	userIDs := make([]string, 0, len(list))
	reqIDs := make([]string, 0, len(list))
	for _, p := range list {
		userIDs = append(userIDs, p.UserID)
		reqIDs = append(reqIDs, p.ServiceRequestID)
	}
	contacts, err := s.userContacts(ctx, userIDs)
	if err != nil {
		return nil, s.fail(span, err, "Failed to join payers")
	}
	reqs, err := s.repo.GetRequestsByIDs(ctx, uniq(reqIDs))
	if err != nil {
		return nil, s.fail(span, err, "Failed to join service requests")
	}

	views := make([]AdminPaymentView, 0, len(list))
	for _, p := range list {
		c := contacts[p.UserID]
		summary := RequestSummary{ID: p.ServiceRequestID, VehicleType: domain.NotAvailable, Status: domain.NotAvailable}
		if r, ok := reqs[p.ServiceRequestID]; ok {
			summary = RequestSummary{ID: r.ID, VehicleType: r.VehicleType, Status: r.Status}
		}
		views = append(views, AdminPaymentView{
			Payment:        p,
			User:           domain.UserContact{ID: c.ID, Name: c.Name, Email: c.Email},
			ServiceRequest: summary,
		})
	}
	return &Paged[AdminPaymentView]{Items: views, Total: total, Page: page}, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminStats")
	defer span.End()

	var (
		stats     Stats
		err       error
		completed = domain.StatusCompleted
		pending   = domain.StatusPending
	)
	if stats.TotalUsers, err = s.repo.CountUsersByRole(ctx, domain.RoleUser); err != nil {
		return nil, s.fail(span, err, "Failed to count users")
	}
	if stats.TotalMechanics, err = s.repo.CountMechanics(ctx); err != nil {
		return nil, s.fail(span, err, "Failed to count mechanics")
	}
	if stats.TotalRequests, err = s.repo.CountRequests(ctx, nil); err != nil {
		return nil, s.fail(span, err, "Failed to count service requests")
	}
	if stats.CompletedRequests, err = s.repo.CountRequests(ctx, &completed); err != nil {
		return nil, s.fail(span, err, "Failed to count completed requests")
	}
	if stats.PendingRequests, err = s.repo.CountRequests(ctx, &pending); err != nil {
		return nil, s.fail(span, err, "Failed to count pending requests")
	}
	revenue, err := s.repo.SumPayments(ctx, domain.PaymentCompleted)
	if err != nil {
		return nil, s.fail(span, err, "Failed to sum revenue")
	}
	stats.TotalRevenue = revenue.InexactFloat64()
	span.SetAttributes(attribute.String("totalRevenue", revenue.String()))
	return &stats, nil
}

// DeleteUser removes a user and leaves everything that references it in place.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminDeleteUser")
	defer span.End()
	span.SetAttributes(attribute.String("userID", userID))

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return s.fail(span, err, "Failed to delete user", "userID", userID)
	}
	s.logger.Info("Deleted user", "userID", userID, "app", appName)
	return nil
}

// OverrideRequest sets any valid status and/or the estimated cost. Reaching
// completed stamps completedAt when it is unset; actualCost is left to
// payment settlement.
func (s *Service) OverrideRequest(ctx context.Context, requestID string, in OverrideInput) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAdminOverrideRequest")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID))

	if in.Status == nil && in.EstimatedCost == nil {
		return nil, s.fail(span, domain.NewValidationError("status or estimatedCost is required"), "Invalid override")
	}
	var override domain.RequestOverride
	if in.Status != nil {
		status, err := domain.ParseRequestStatus(*in.Status)
		if err != nil {
			return nil, s.fail(span, err, "Invalid override")
		}
		override.Status = &status
	}
	if in.EstimatedCost != nil {
		if *in.EstimatedCost < 0 {
			return nil, s.fail(span, domain.NewValidationError("estimatedCost must not be negative"), "Invalid override")
		}
		override.EstimatedCost = in.EstimatedCost
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find service request", "requestID", requestID)
	}
	if override.Status != nil && *override.Status == domain.StatusCompleted && req.CompletedAt == nil {
		at := req.CompletionTime(s.now())
		override.CompletedAt = &at
	}

	var updated *domain.ServiceRequest
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.OverrideRequest(ctx, requestID, override)
		if err != nil {
			return err
		}
		return s.emit(ctx, domain.EventRequestOverridden, updated, nil)
	})
	if err != nil {
		return nil, s.fail(span, err, "Failed to override service request", "requestID", requestID)
	}
	s.logger.Info("Overrode service request", "requestID", requestID, "status", updated.Status, "app", appName)
	return updated, nil
}
