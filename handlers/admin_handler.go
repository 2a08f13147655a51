package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/service"
)

// AdminHandler serves the admin listings, stats and overrides
type AdminHandler struct {
	service *service.Service
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewAdminHandler(service *service.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		tracer:  otel.Tracer(appName),
		logger:  logger,
	}
}

// pageOf reads ?page=&limit=. Malformed values fall back to the defaults.
func pageOf(r *http.Request) domain.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return domain.NewPage(page, limit)
}

func paged[T any](key string, p *service.Paged[T]) map[string]any {
	return map[string]any{
		key:     p.Items,
		"total": p.Total,
		"page":  p.Page.Page,
		"limit": p.Page.Limit,
	}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminListUsers")
	defer span.End()

	res, err := h.service.ListUsers(ctx, pageOf(r))
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, paged("users", res))
}

func (h *AdminHandler) ListMechanics(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminListMechanics")
	defer span.End()

	res, err := h.service.ListMechanics(ctx, pageOf(r))
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, paged("mechanics", res))
}

func (h *AdminHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminListRequests")
	defer span.End()

	res, err := h.service.ListRequests(ctx, pageOf(r))
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, paged("requests", res))
}

func (h *AdminHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminListPayments")
	defer span.End()

	res, err := h.service.ListPayments(ctx, pageOf(r))
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, paged("payments", res))
}

// Stats returns the dashboard counters
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminStats")
	defer span.End()

	stats, err := h.service.Stats(ctx)
	if err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminDeleteUser")
	defer span.End()

	userID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("userID", userID))
	if err := h.service.DeleteUser(ctx, userID); err != nil {
		failed(span, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User deleted successfully"})
}

// OverrideRequest sets status and/or estimated cost outside the state machine
func (h *AdminHandler) OverrideRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminOverrideRequest")
	defer span.End()

	requestID := mux.Vars(r)["id"]
	var input struct {
		Status        *string  `json:"status"`
		EstimatedCost *float64 `json:"estimatedCost"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	req, err := h.service.OverrideRequest(ctx, requestID, service.OverrideInput{
		Status:        input.Status,
		EstimatedCost: input.EstimatedCost,
	})
	if err != nil {
		failed(span, w, err)
		return
	}
	actor, _ := ActorFrom(ctx)
	h.logger.Info("Admin override applied", "requestID", requestID, "adminID", actor.UserID, "status", req.Status, "app", appName)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Request updated", "request": req})
}
