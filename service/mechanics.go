package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/domain"
)

// JobView is a service request as its mechanic sees it
type JobView struct {
	*domain.ServiceRequest
	User domain.UserContact `json:"user"`
}

// CreateProfile registers the mechanic profile of a mechanic user that has none yet.
func (s *Service) CreateProfile(ctx context.Context, actor domain.Actor, specialization string, experience int) (*domain.MechanicProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceCreateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("userID", actor.UserID))

	if actor.Role != domain.RoleMechanic {
		return nil, s.fail(span, domain.NewForbiddenError("only mechanics can create a mechanic profile"), "Profile creation not permitted")
	}
	if experience < 0 {
		return nil, s.fail(span, domain.NewValidationError("experience must not be negative"), "Invalid mechanic profile")
	}
	if _, err := s.repo.GetUserByID(ctx, actor.UserID); err != nil {
		return nil, s.fail(span, err, "Failed to find user", "userID", actor.UserID)
	}

	profile := domain.NewMechanicProfile(newID(), actor.UserID, strings.TrimSpace(specialization), experience, s.now())
	if err := s.repo.CreateMechanic(ctx, profile); err != nil {
		return nil, s.fail(span, err, "Failed to create mechanic profile", "userID", actor.UserID)
	}
	s.logger.Info("Created mechanic profile", "mechanicID", profile.ID, "userID", actor.UserID, "app", appName)
	return profile, nil
}

// UpdateLocation overwrites the caller's stored coordinates.
func (s *Service) UpdateLocation(ctx context.Context, actor domain.Actor, location domain.Coordinates) (*domain.MechanicProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceUpdateLocation")
	defer span.End()
	span.SetAttributes(
		attribute.String("userID", actor.UserID),
		attribute.Float64("latitude", location.Latitude),
		attribute.Float64("longitude", location.Longitude),
	)

	if err := location.Validate(); err != nil {
		return nil, s.fail(span, err, "Invalid location")
	}
	profile, err := s.repo.UpdateMechanicLocation(ctx, actor.UserID, location)
	if err != nil {
		return nil, s.fail(span, err, "Failed to update mechanic location", "userID", actor.UserID)
	}
	s.logger.Info("Updated mechanic location", "mechanicID", profile.ID, "app", appName)
	return profile, nil
}

// ToggleAvailability flips the caller's availability flag. It does not
// check for jobs in progress.
func (s *Service) ToggleAvailability(ctx context.Context, actor domain.Actor) (*domain.MechanicProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceToggleAvailability")
	defer span.End()

	profile, err := s.repo.ToggleMechanicAvailability(ctx, actor.UserID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to toggle availability", "userID", actor.UserID)
	}
	span.SetAttributes(attribute.Bool("isAvailable", profile.IsAvailable))
	s.logger.Info("Toggled mechanic availability", "mechanicID", profile.ID, "isAvailable", profile.IsAvailable, "app", appName)
	return profile, nil
}

// ListJobs returns the requests assigned to the caller's profile, newest
// first, joined with the requester's name and phone.
func (s *Service) ListJobs(ctx context.Context, actor domain.Actor) ([]JobView, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceListJobs")
	defer span.End()

	profile, err := s.repo.GetMechanicByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find mechanic profile", "userID", actor.UserID)
	}
	reqs, err := s.repo.ListRequestsByMechanic(ctx, profile.ID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to list jobs", "mechanicID", profile.ID)
	}

	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.UserID)
	}
	contacts, err := s.userContacts(ctx, ids)
	if err != nil {
		return nil, s.fail(span, err, "Failed to join requesters", "mechanicID", profile.ID)
	}

	jobs := make([]JobView, 0, len(reqs))
	for _, r := range reqs {
		jobs = append(jobs, JobView{ServiceRequest: r, User: namePhone(contacts[r.UserID])})
	}
	span.SetAttributes(attribute.Int("jobCount", len(jobs)))
	return jobs, nil
}
