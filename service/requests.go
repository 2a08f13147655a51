package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/metrics"
)

type CreateRequestInput struct {
	VehicleType        string
	ProblemDescription string
	Location           *LocationInput
	Urgency            string
}

// LocationInput is a breakdown location as submitted. Both coordinates must
// be present; a zero value is a real point and cannot stand in for a missing one.
type LocationInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

func (l *LocationInput) location() (domain.Location, error) {
	if l == nil || l.Latitude == nil || l.Longitude == nil {
		return domain.Location{}, domain.NewValidationError("location.latitude and location.longitude are required")
	}
	loc := domain.Location{
		Latitude:  *l.Latitude,
		Longitude: *l.Longitude,
		Address:   strings.TrimSpace(l.Address),
	}
	if err := loc.Coordinates().Validate(); err != nil {
		return domain.Location{}, err
	}
	return loc, nil
}

// RequestView is a service request joined with its assigned mechanic
type RequestView struct {
	*domain.ServiceRequest
	Mechanic *domain.MechanicWithUser `json:"mechanic"`
}

// CreateRequest persists a pending request and returns the available
// mechanics inside the proximity box around it. The match is advisory;
// nobody is reserved.
func (s *Service) CreateRequest(ctx context.Context, actor domain.Actor, in CreateRequestInput) (*domain.ServiceRequest, []domain.MechanicWithUser, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceCreateRequest")
	defer span.End()

	if strings.TrimSpace(in.VehicleType) == "" || strings.TrimSpace(in.ProblemDescription) == "" || in.Location == nil {
		return nil, nil, s.fail(span, domain.NewValidationError("vehicleType, problemDescription and location are required"), "Invalid service request")
	}
	location, err := in.Location.location()
	if err != nil {
		return nil, nil, s.fail(span, err, "Invalid service request location")
	}
	urgency, err := domain.ParseUrgency(in.Urgency)
	if err != nil {
		return nil, nil, s.fail(span, err, "Invalid service request urgency")
	}

	req := &domain.ServiceRequest{
		ID:                 newID(),
		UserID:             actor.UserID,
		VehicleType:        strings.TrimSpace(in.VehicleType),
		ProblemDescription: strings.TrimSpace(in.ProblemDescription),
		Location:           location,
		Status:             domain.StatusPending,
		Urgency:            urgency,
		CreatedAt:          s.now(),
	}
	span.SetAttributes(
		attribute.String("requestID", req.ID),
		attribute.String("userID", req.UserID),
		attribute.String("urgency", string(urgency)),
	)

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateRequest(ctx, req); err != nil {
			return err
		}
		return s.emit(ctx, domain.EventRequestCreated, req, nil)
	})
	if err != nil {
		return nil, nil, s.fail(span, err, "Failed to create service request", "userID", actor.UserID)
	}
	metrics.ServiceRequestsCreated.WithLabelValues(string(urgency)).Inc()
	s.logger.Info("Created service request", "requestID", req.ID, "userID", req.UserID, "app", appName)

	box := domain.NewBoundingBox(req.Location.Coordinates(), s.cfg.SearchRadius)
	profiles, err := s.repo.FindAvailableMechanicsInBox(ctx, box)
	if err != nil {
		return nil, nil, s.fail(span, err, "Failed to find nearby mechanics", "requestID", req.ID)
	}
	nearby, err := s.mechanicsWithUsers(ctx, profiles)
	if err != nil {
		return nil, nil, s.fail(span, err, "Failed to join mechanic contacts", "requestID", req.ID)
	}
	for i := range nearby {
		nearby[i].User = namePhone(nearby[i].User)
	}
	metrics.NearbyMechanicsFound.Observe(float64(len(nearby)))
	span.SetAttributes(attribute.Int("nearbyMechanics", len(nearby)))
	return req, nearby, nil
}

// UpdateStatus applies a user-driven transition. Only the edges of the
// request state machine are accepted, each as a compare-and-swap on the
// status read here.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, requestID, status string) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceUpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID), attribute.String("status", status))

	to, err := domain.ParseRequestStatus(status)
	if err != nil {
		return nil, s.fail(span, err, "Invalid status")
	}
	if to == domain.StatusAssigned {
		return nil, s.fail(span, domain.NewValidationError("use the assign operation to assign a mechanic"), "Invalid status")
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find service request", "requestID", requestID)
	}
	if err := s.authorizeTransition(ctx, actor, req, to); err != nil {
		return nil, s.fail(span, err, "Status change not permitted", "requestID", requestID, "userID", actor.UserID)
	}
	if !req.Status.CanTransitionTo(to) {
		metrics.StatusTransitions.WithLabelValues(string(to), metrics.OutcomeRejected).Inc()
		return nil, s.fail(span, domain.NewConflictError("cannot change status from %s to %s", req.Status, to), "Illegal status transition", "requestID", requestID)
	}

	var completedAt *time.Time
	if to == domain.StatusCompleted {
		at := req.CompletionTime(s.now())
		completedAt = &at
	}

	var updated *domain.ServiceRequest
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.TransitionRequest(ctx, requestID, req.Status, to, completedAt)
		if err != nil {
			return err
		}
		return s.emit(ctx, domain.EventRequestStatusChanged, updated, nil)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			metrics.StatusTransitions.WithLabelValues(string(to), metrics.OutcomeConflict).Inc()
		}
		return nil, s.fail(span, err, "Failed to update service request status", "requestID", requestID)
	}
	metrics.StatusTransitions.WithLabelValues(string(to), metrics.OutcomeOK).Inc()
	s.logger.Info("Updated service request status", "requestID", requestID, "from", req.Status, "to", to, "app", appName)
	return updated, nil
}

// authorizeTransition checks actor may drive req to status: the requester
// cancels, the assigned mechanic starts and completes.
func (s *Service) authorizeTransition(ctx context.Context, actor domain.Actor, req *domain.ServiceRequest, to domain.RequestStatus) error {
	switch to {
	case domain.StatusCancelled:
		if actor.UserID == req.UserID {
			return nil
		}
	case domain.StatusInProgress, domain.StatusCompleted:
		if actor.Role != domain.RoleMechanic || req.MechanicID == "" {
			break
		}
		profile, err := s.repo.GetMechanicByUserID(ctx, actor.UserID)
		if errors.Is(err, domain.ErrMechanicNotFound) {
			break
		}
		if err != nil {
			return err
		}
		if profile.ID == req.MechanicID {
			return nil
		}
	case domain.StatusPending:
		// pending is never a target; let the state machine report it
		if actor.UserID == req.UserID {
			return nil
		}
	}
	return domain.NewForbiddenError("not allowed to set this status on the service request")
}

// AssignRequest commits a mechanic to a pending request. The availability
// flag is taken with a compare-and-swap inside the same transaction as the
// request update, so a mechanic is never committed to two requests.
func (s *Service) AssignRequest(ctx context.Context, actor domain.Actor, requestID, mechanicID string) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAssignRequest")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID), attribute.String("mechanicID", mechanicID))

	if strings.TrimSpace(mechanicID) == "" {
		return nil, s.fail(span, domain.NewValidationError("mechanicId is required"), "Invalid assignment")
	}
	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find service request", "requestID", requestID)
	}
	mechanic, err := s.repo.GetMechanicByID(ctx, mechanicID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find mechanic", "mechanicID", mechanicID)
	}
	if actor.UserID != req.UserID && actor.UserID != mechanic.UserID {
		return nil, s.fail(span, domain.NewForbiddenError("only the requester or the mechanic can assign this request"), "Assignment not permitted", "requestID", requestID)
	}
	if req.Status != domain.StatusPending {
		metrics.Assignments.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, s.fail(span, domain.NewConflictError("cannot assign a %s request", req.Status), "Illegal assignment", "requestID", requestID)
	}

	var assigned *domain.ServiceRequest
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.ReserveMechanic(ctx, mechanicID); err != nil {
			return err
		}
		var err error
		assigned, err = s.repo.AssignRequest(ctx, requestID, mechanicID)
		if err != nil {
			s.releaseMechanic(ctx, mechanicID)
			return err
		}
		return s.emit(ctx, domain.EventRequestAssigned, assigned, nil)
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			metrics.Assignments.WithLabelValues(metrics.OutcomeConflict).Inc()
		} else {
			metrics.Assignments.WithLabelValues(metrics.OutcomeError).Inc()
		}
		return nil, s.fail(span, err, "Failed to assign mechanic", "requestID", requestID, "mechanicID", mechanicID)
	}
	metrics.Assignments.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("Assigned mechanic", "requestID", requestID, "mechanicID", mechanicID, "app", appName)
	return assigned, nil
}

// releaseMechanic hands back a reservation whose request swap failed. Inside
// a transaction the rollback already covers it; stores that run the callback
// as plain writes would otherwise keep the mechanic locked with no request
// pointing at them.
func (s *Service) releaseMechanic(ctx context.Context, mechanicID string) {
	if _, err := s.repo.ReleaseMechanic(ctx, mechanicID); err != nil {
		s.logger.Error("Failed to release mechanic reservation", "mechanicID", mechanicID, "error", err, "app", appName)
		return
	}
	s.logger.Warn("Released mechanic after failed assignment", "mechanicID", mechanicID, "app", appName)
}

// MyRequests lists the caller's requests newest first with the assigned
// mechanic joined in. A dangling mechanic reference joins as nil.
func (s *Service) MyRequests(ctx context.Context, actor domain.Actor) ([]RequestView, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceMyRequests")
	defer span.End()

	reqs, err := s.repo.ListRequestsByUser(ctx, actor.UserID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to list service requests", "userID", actor.UserID)
	}
	views, err := s.withMechanics(ctx, reqs)
	if err != nil {
		return nil, s.fail(span, err, "Failed to join mechanics", "userID", actor.UserID)
	}
	span.SetAttributes(attribute.Int("requestCount", len(views)))
	return views, nil
}

// GetRequest returns one request to its requester, its assigned mechanic or an admin.
func (s *Service) GetRequest(ctx context.Context, actor domain.Actor, requestID string) (*RequestView, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceGetRequest")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID))

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find service request", "requestID", requestID)
	}
	views, err := s.withMechanics(ctx, []*domain.ServiceRequest{req})
	if err != nil {
		return nil, s.fail(span, err, "Failed to join mechanic", "requestID", requestID)
	}
	view := views[0]

	allowed := actor.IsAdmin() || actor.UserID == req.UserID ||
		(view.Mechanic != nil && view.Mechanic.UserID == actor.UserID)
	if !allowed {
		return nil, s.fail(span, domain.NewForbiddenError("not allowed to view this service request"), "Request access denied", "requestID", requestID)
	}
	return &view, nil
}

func (s *Service) withMechanics(ctx context.Context, reqs []*domain.ServiceRequest) ([]RequestView, error) {
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.MechanicID)
	}
	profiles, err := s.repo.GetMechanicsByIDs(ctx, uniq(ids))
	if err != nil {
		return nil, err
	}
	list := make([]*domain.MechanicProfile, 0, len(profiles))
	for _, p := range profiles {
		list = append(list, p)
	}
	joined, err := s.mechanicsWithUsers(ctx, list)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.MechanicWithUser, len(joined))
	for i := range joined {
		joined[i].User = namePhone(joined[i].User)
		byID[joined[i].ID] = &joined[i]
	}

	views := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		views = append(views, RequestView{ServiceRequest: r, Mechanic: byID[r.MechanicID]})
	}
	return views, nil
}
