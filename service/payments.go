package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/metrics"
	"fadedreams/roadassist/payments"
)

// OrderResult is the gateway order handed to the client checkout together
// with the ledger entry that tracks it.
type OrderResult struct {
	Order     *domain.GatewayOrder `json:"order"`
	PaymentID string               `json:"paymentId"`
}

type VerifyInput struct {
	PaymentID        string
	GatewayPaymentID string
	GatewayOrderID   string
	Signature        string
}

// CreateOrder opens a gateway order for amount (major units) against a
// request the caller owns and records a pending payment for it.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, requestID string, amount float64) (*OrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceCreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", requestID), attribute.Float64("amount", amount))

	if strings.TrimSpace(requestID) == "" {
		return nil, s.fail(span, domain.NewValidationError("serviceRequestId is required"), "Invalid order")
	}
	amountMinor := payments.ToMinorUnits(amount)
	if amount <= 0 || amountMinor <= 0 {
		return nil, s.fail(span, domain.NewValidationError("amount must be positive"), "Invalid order")
	}
	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find service request", "requestID", requestID)
	}
	if req.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, s.fail(span, domain.NewForbiddenError("not allowed to pay for this service request"), "Order not permitted", "requestID", requestID)
	}

	order, err := s.gateway.CreateOrder(ctx, amountMinor, s.cfg.Currency, "receipt_"+req.ID)
	if err != nil {
		metrics.PaymentOrders.WithLabelValues(metrics.OutcomeError).Inc()
		if domain.KindOf(err) != domain.KindGateway {
			err = domain.NewGatewayError("failed to create payment order", err)
		}
		return nil, s.fail(span, err, "Failed to create gateway order", "requestID", requestID)
	}

	payment := &domain.Payment{
		ID:               newID(),
		ServiceRequestID: req.ID,
		UserID:           req.UserID,
		Amount:           amount,
		Currency:         s.cfg.Currency,
		GatewayOrderID:   order.ID,
		Status:           domain.PaymentPending,
		CreatedAt:        s.now(),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		metrics.PaymentOrders.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.fail(span, err, "Failed to save payment", "requestID", requestID, "orderID", order.ID)
	}
	metrics.PaymentOrders.WithLabelValues(metrics.OutcomeOK).Inc()
	span.SetAttributes(attribute.String("paymentID", payment.ID), attribute.String("orderID", order.ID))
	s.logger.Info("Created payment order", "paymentID", payment.ID, "orderID", order.ID, "requestID", req.ID, "app", appName)
	return &OrderResult{Order: order, PaymentID: payment.ID}, nil
}

// VerifyPayment settles a payment once the gateway callback signature checks
// out. The request write-back and the payment completion commit together,
// request first. Replaying a successful verification returns the stored
// payment without writing.
func (s *Service) VerifyPayment(ctx context.Context, actor domain.Actor, in VerifyInput) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceVerifyPayment")
	defer span.End()
	span.SetAttributes(attribute.String("paymentID", in.PaymentID), attribute.String("orderID", in.GatewayOrderID))

	if in.PaymentID == "" || in.GatewayPaymentID == "" || in.GatewayOrderID == "" {
		return nil, s.fail(span, domain.NewValidationError("paymentId, razorpayPaymentId and razorpayOrderId are required"), "Invalid verification")
	}
	payment, err := s.repo.GetPaymentByID(ctx, in.PaymentID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find payment", "paymentID", in.PaymentID)
	}
	if payment.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, s.fail(span, domain.NewForbiddenError("not allowed to verify this payment"), "Verification not permitted", "paymentID", in.PaymentID)
	}
	if payment.GatewayOrderID != in.GatewayOrderID {
		return nil, s.fail(span, domain.NewValidationError("order id does not match payment"), "Invalid verification", "paymentID", in.PaymentID)
	}
	if !s.gateway.VerifyCallback(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		metrics.PaymentVerifications.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, s.fail(span, domain.ErrPaymentSignatureInvalid, "Rejected payment callback", "paymentID", in.PaymentID)
	}

	if replay, err := s.settledPayment(payment, in.GatewayPaymentID); replay != nil || err != nil {
		if err != nil {
			return nil, s.fail(span, err, "Payment already settled", "paymentID", in.PaymentID)
		}
		metrics.PaymentVerifications.WithLabelValues(metrics.OutcomeReplay).Inc()
		return replay, nil
	}

	req, err := s.repo.GetRequestByID(ctx, payment.ServiceRequestID)
	if err != nil {
		return nil, s.fail(span, err, "Failed to find service request", "requestID", payment.ServiceRequestID)
	}
	if !req.Status.Settleable() {
		return nil, s.fail(span, domain.NewConflictError("service request is %s and cannot be paid yet", req.Status), "Payment not accepted", "requestID", req.ID)
	}

	now := s.now()
	var completed *domain.Payment
	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		settled, err := s.repo.SettleRequest(ctx, req.ID, payment.Amount, req.CompletionTime(now))
		if err != nil {
			return err
		}
		completed, err = s.repo.CompletePayment(ctx, payment.ID, in.GatewayPaymentID, now)
		if err != nil {
			return err
		}
		return s.emit(ctx, domain.EventPaymentCompleted, settled, func(e *domain.ServiceEvent) {
			e.PaymentID = payment.ID
		})
	})
	if errors.Is(err, domain.ErrPaymentNotPending) {
		// a concurrent verification won; answer as a replay if it was the same payment
		current, getErr := s.repo.GetPaymentByID(ctx, payment.ID)
		if getErr == nil {
			if replay, rerr := s.settledPayment(current, in.GatewayPaymentID); replay != nil {
				metrics.PaymentVerifications.WithLabelValues(metrics.OutcomeReplay).Inc()
				return replay, nil
			} else if rerr != nil {
				err = rerr
			}
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			err = domain.NewConflictError("service request changed before payment could be applied")
		}
		metrics.PaymentVerifications.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, s.fail(span, err, "Failed to verify payment", "paymentID", payment.ID)
	}
	metrics.PaymentVerifications.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("Verified payment", "paymentID", payment.ID, "requestID", req.ID, "amount", payment.Amount, "app", appName)
	return completed, nil
}

// settledPayment decides what a verification of an already settled payment
// means: the same gateway payment id is a replay, anything else a conflict.
// It returns nil, nil for a payment still pending.
func (s *Service) settledPayment(p *domain.Payment, gatewayPaymentID string) (*domain.Payment, error) {
	switch p.Status {
	case domain.PaymentPending:
		return nil, nil
	case domain.PaymentCompleted:
		if p.GatewayPaymentID == gatewayPaymentID {
			return p, nil
		}
		return nil, domain.NewConflictError("payment was settled with a different gateway payment")
	default:
		return nil, domain.NewConflictError("payment is %s", p.Status)
	}
}
