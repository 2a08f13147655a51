package handlers

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/service"
)

// MechanicHandler handles the mechanic registry endpoints
type MechanicHandler struct {
	service *service.Service
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewMechanicHandler creates a new MechanicHandler
func NewMechanicHandler(service *service.Service, logger *slog.Logger) *MechanicHandler {
	return &MechanicHandler{
		service: service,
		tracer:  otel.Tracer(appName),
		logger:  logger,
	}
}

func (h *MechanicHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateMechanicProfile")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	var input struct {
		Specialization string `json:"specialization"`
		Experience     int    `json:"experience"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	profile, err := h.service.CreateProfile(ctx, actor, input.Specialization, input.Experience)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.String("mechanicID", profile.ID))
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Mechanic profile created", "mechanic": profile})
}

// UpdateLocation stores the caller's current coordinates
func (h *MechanicHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateMechanicLocation")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	var input struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}
	if input.Latitude == nil || input.Longitude == nil {
		failed(span, w, domain.NewValidationError("latitude and longitude are required"))
		return
	}

	profile, err := h.service.UpdateLocation(ctx, actor, domain.Coordinates{Latitude: *input.Latitude, Longitude: *input.Longitude})
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Location updated successfully", "mechanic": profile})
}

func (h *MechanicHandler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ToggleMechanicAvailability")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	profile, err := h.service.ToggleAvailability(ctx, actor)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.Bool("isAvailable", profile.IsAvailable))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Availability updated", "mechanic": profile})
}

// MyJobs lists the requests assigned to the caller
func (h *MechanicHandler) MyJobs(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "MyMechanicJobs")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	jobs, err := h.service.ListJobs(ctx, actor)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.Int("jobCount", len(jobs)))
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
