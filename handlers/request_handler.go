package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/service"
)

// ServiceRequestHandler handles the service request lifecycle endpoints
type ServiceRequestHandler struct {
	service *service.Service
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewServiceRequestHandler(service *service.Service, logger *slog.Logger) *ServiceRequestHandler {
	return &ServiceRequestHandler{
		service: service,
		tracer:  otel.Tracer(appName),
		logger:  logger,
	}
}

// CreateRequest stores a breakdown request and answers with nearby mechanics
func (h *ServiceRequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateServiceRequest")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	var input struct {
		VehicleType        string                 `json:"vehicleType"`
		ProblemDescription string                 `json:"problemDescription"`
		Location           *service.LocationInput `json:"location"`
		Urgency            string                 `json:"urgency"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	req, nearby, err := h.service.CreateRequest(ctx, actor, service.CreateRequestInput{
		VehicleType:        input.VehicleType,
		ProblemDescription: input.ProblemDescription,
		Location:           input.Location,
		Urgency:            input.Urgency,
	})
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(
		attribute.String("requestID", req.ID),
		attribute.Int("nearbyMechanicCount", len(nearby)),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":         "Service request created",
		"serviceRequest":  req,
		"nearbyMechanics": nearby,
	})
}

func (h *ServiceRequestHandler) MyRequests(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "MyServiceRequests")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	requests, err := h.service.MyRequests(ctx, actor)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.Int("requestCount", len(requests)))
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *ServiceRequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetServiceRequest")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	requestID := mux.Vars(r)["id"]
	view, err := h.service.GetRequest(ctx, actor, requestID)
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": view})
}

// UpdateStatus applies a state machine transition on behalf of the caller
func (h *ServiceRequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateServiceRequestStatus")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	requestID := mux.Vars(r)["id"]
	var input struct {
		Status string `json:"status"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	req, err := h.service.UpdateStatus(ctx, actor, requestID, input.Status)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.String("requestID", requestID), attribute.String("status", string(req.Status)))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Status updated successfully", "request": req})
}

// AssignMechanic commits a mechanic to a pending request
func (h *ServiceRequestHandler) AssignMechanic(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AssignMechanic")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	requestID := mux.Vars(r)["id"]
	var input struct {
		MechanicID string `json:"mechanicId"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	req, err := h.service.AssignRequest(ctx, actor, requestID, input.MechanicID)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(
		attribute.String("requestID", requestID),
		attribute.String("mechanicID", input.MechanicID),
	)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Mechanic assigned successfully", "request": req})
}
