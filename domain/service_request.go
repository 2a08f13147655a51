package domain

import (
	"strings"
	"time"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusAssigned   RequestStatus = "assigned"
	StatusInProgress RequestStatus = "in-progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

// requestTransitions lists the user-driven edges of the request lifecycle.
// Admin overrides do not consult it.
var requestTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", NewValidationError("invalid status %q", s)
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no user-driven transition leaves s.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// Settleable reports whether a payment may complete a request in status s.
func (s RequestStatus) Settleable() bool {
	return s == StatusInProgress || s == StatusCompleted
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency defaults an empty value to medium.
func ParseUrgency(s string) (Urgency, error) {
	switch Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return UrgencyMedium, nil
	case UrgencyLow:
		return UrgencyLow, nil
	case UrgencyMedium:
		return UrgencyMedium, nil
	case UrgencyHigh:
		return UrgencyHigh, nil
	}
	return "", NewValidationError("invalid urgency %q", s)
}

// Location is where the breakdown happened
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Address   string  `json:"address,omitempty" bson:"address,omitempty"`
}

func (l Location) Coordinates() Coordinates {
	return Coordinates{Latitude: l.Latitude, Longitude: l.Longitude}
}

// ServiceRequest is a single breakdown-assistance job
type ServiceRequest struct {
	ID                 string        `json:"id" bson:"_id"`
	UserID             string        `json:"userId" bson:"userId"`
	MechanicID         string        `json:"mechanicId,omitempty" bson:"mechanicId,omitempty"`
	VehicleType        string        `json:"vehicleType" bson:"vehicleType"`
	ProblemDescription string        `json:"problemDescription" bson:"problemDescription"`
	Location           Location      `json:"location" bson:"location"`
	Status             RequestStatus `json:"status" bson:"status"`
	Urgency            Urgency       `json:"urgency" bson:"urgency"`
	EstimatedCost      *float64      `json:"estimatedCost,omitempty" bson:"estimatedCost,omitempty"`
	ActualCost         *float64      `json:"actualCost,omitempty" bson:"actualCost,omitempty"`
	CreatedAt          time.Time     `json:"createdAt" bson:"createdAt"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// CompletionTime returns the timestamp to stamp when r becomes completed: an
// existing stamp is kept, and a fresh one never precedes creation.
func (r *ServiceRequest) CompletionTime(now time.Time) time.Time {
	if r.CompletedAt != nil {
		return *r.CompletedAt
	}
	if now.Before(r.CreatedAt) {
		return r.CreatedAt
	}
	return now
}

// RequestOverride carries the admin escape-hatch fields. Nil fields are untouched.
type RequestOverride struct {
	Status        *RequestStatus
	EstimatedCost *float64
	ActualCost    *float64
	CompletedAt   *time.Time
}
