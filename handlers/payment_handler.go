package handlers

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/service"
)

// PaymentHandler handles gateway orders and checkout callbacks
type PaymentHandler struct {
	service *service.Service
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewPaymentHandler(service *service.Service, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		tracer:  otel.Tracer(appName),
		logger:  logger,
	}
}

func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreatePaymentOrder")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	var input struct {
		ServiceRequestID string  `json:"serviceRequestId"`
		Amount           float64 `json:"amount"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	res, err := h.service.CreateOrder(ctx, actor, input.ServiceRequestID, input.Amount)
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.String("paymentID", res.PaymentID))
	writeJSON(w, http.StatusOK, res)
}

// VerifyPayment checks the checkout callback signature and settles the payment
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "VerifyPayment")
	defer span.End()

	actor, _ := ActorFrom(ctx)
	var input struct {
		PaymentID         string `json:"paymentId"`
		RazorpayPaymentID string `json:"razorpayPaymentId"`
		RazorpayOrderID   string `json:"razorpayOrderId"`
		RazorpaySignature string `json:"razorpaySignature"`
	}
	if err := decode(r, &input); err != nil {
		failed(span, w, err)
		return
	}

	payment, err := h.service.VerifyPayment(ctx, actor, service.VerifyInput{
		PaymentID:        input.PaymentID,
		GatewayPaymentID: input.RazorpayPaymentID,
		GatewayOrderID:   input.RazorpayOrderID,
		Signature:        input.RazorpaySignature,
	})
	if err != nil {
		failed(span, w, err)
		return
	}
	span.SetAttributes(attribute.String("paymentID", payment.ID))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Payment verified successfully", "payment": payment})
}
