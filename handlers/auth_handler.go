package handlers

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/service"
)

// AuthHandler handles registration and login
type AuthHandler struct {
	service *service.Service
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service *service.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		tracer:  otel.Tracer(appName),
		logger:  logger,
	}
}

// failed records err on the span and writes the error response. The service
// layer has already logged it.
func failed(span trace.Span, w http.ResponseWriter, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	writeError(w, err)
}

// Register creates an account and returns a token for it
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Register")
	defer span.End()

	var input struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		Phone          string `json:"phone"`
		Password       string `json:"password"`
		Role           string `json:"role"`
		Specialization string `json:"specialization"`
		Experience     int    `json:"experience"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	res, err := h.service.Register(ctx, service.RegisterInput{
		Name:           input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		Password:       input.Password,
		Role:           input.Role,
		Specialization: input.Specialization,
		Experience:     input.Experience,
	})
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.String("userID", res.User.ID))
	writeJSON(w, http.StatusCreated, res)
}

// Login exchanges credentials for a token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Login")
	defer span.End()

	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	res, err := h.service.Login(ctx, input.Email, input.Password)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.String("userID", res.User.ID))
	h.logger.Info("User logged in", "userID", res.User.ID, "requestID", RequestIDFrom(ctx), "app", appName)
	writeJSON(w, http.StatusOK, res)
}
