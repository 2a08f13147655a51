package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"fadedreams/roadassist/domain"
)

const DefaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// Razorpay creates orders through the Razorpay Orders API and verifies
// checkout callbacks with the key secret.
type Razorpay struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRazorpay(keyID, keySecret, baseURL string, logger *slog.Logger) *Razorpay {
	if baseURL == "" {
		baseURL = DefaultRazorpayBaseURL
	}
	return &Razorpay{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type gatewayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder posts a new order. amountMinor is in the currency's minor unit.
func (r *Razorpay) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.GatewayOrder, error) {
	ctx, span := otel.Tracer("roadassist").Start(ctx, "RazorpayCreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("amount", amountMinor),
		attribute.String("currency", currency),
		attribute.String("receipt", receipt),
	)

	payload, err := json.Marshal(orderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.keyID, r.keySecret)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to reach payment gateway")
		r.logger.Error("Failed to reach payment gateway", "receipt", receipt, "error", err, "app", "roadassist")
		return nil, domain.NewGatewayError("payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewGatewayError("failed to read gateway response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gwErr gatewayErrorBody
		msg := fmt.Sprintf("payment gateway returned status %d", resp.StatusCode)
		if json.Unmarshal(body, &gwErr) == nil && gwErr.Error.Description != "" {
			msg = gwErr.Error.Description
		}
		err := fmt.Errorf("gateway status %d: %s", resp.StatusCode, gwErr.Error.Code)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Payment gateway rejected order")
		r.logger.Error("Payment gateway rejected order", "receipt", receipt, "status", resp.StatusCode, "code", gwErr.Error.Code, "app", "roadassist")
		return nil, domain.NewGatewayError(msg, err)
	}

	var order domain.GatewayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, domain.NewGatewayError("malformed gateway response", err)
	}
	if order.ID == "" {
		return nil, domain.NewGatewayError("gateway response has no order id", nil)
	}
	span.SetAttributes(attribute.String("orderID", order.ID))
	r.logger.Info("Created gateway order", "orderID", order.ID, "receipt", receipt, "app", "roadassist")
	return &order, nil
}

// VerifyCallback checks the checkout signature for orderID and paymentID.
func (r *Razorpay) VerifyCallback(orderID, paymentID, signature string) bool {
	return verify(r.keySecret, orderID, paymentID, signature)
}
