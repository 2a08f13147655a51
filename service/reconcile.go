package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/metrics"
)

// ReconcilePayments repairs requests whose completed payment was never
// written back: the request gets status completed, the paid amount as
// actualCost and a completion stamp. Only in-progress requests and completed
// ones missing actualCost are touched, so an admin override to another
// status stands. It returns the number of repairs.
func (s *Service) ReconcilePayments(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceReconcilePayments")
	defer span.End()

	paid, err := s.repo.ListPaymentsByStatus(ctx, domain.PaymentCompleted)
	if err != nil {
		return 0, s.fail(span, err, "Failed to list completed payments")
	}
	ids := make([]string, 0, len(paid))
	for _, p := range paid {
		ids = append(ids, p.ServiceRequestID)
	}
	reqs, err := s.repo.GetRequestsByIDs(ctx, uniq(ids))
	if err != nil {
		return 0, s.fail(span, err, "Failed to load paid requests")
	}

	repaired := 0
	for _, p := range paid {
		req, ok := reqs[p.ServiceRequestID]
		if !ok {
			s.logger.Warn("Completed payment references a missing service request", "paymentID", p.ID, "requestID", p.ServiceRequestID, "app", appName)
			continue
		}
		if req.Status == domain.StatusCompleted && req.ActualCost != nil {
			continue
		}
		if !req.Status.Settleable() {
			// an admin moved the request out of the payable states; leave it
			s.logger.Debug("Skipping paid request outside the settleable states", "paymentID", p.ID, "requestID", req.ID, "status", req.Status, "app", appName)
			continue
		}

		at := s.now()
		if p.CompletedAt != nil {
			at = *p.CompletedAt
		}
		err := s.repo.WithTransaction(ctx, func(ctx context.Context) error {
			updated, err := s.repo.SettleRequest(ctx, req.ID, p.Amount, req.CompletionTime(at))
			if err != nil {
				return err
			}
			return s.emit(ctx, domain.EventPaymentCompleted, updated, func(e *domain.ServiceEvent) {
				e.PaymentID = p.ID
			})
		})
		if err != nil {
			span.RecordError(err)
			s.logger.Error("Failed to reconcile payment", "paymentID", p.ID, "requestID", req.ID, "error", err, "app", appName)
			continue
		}
		repaired++
		metrics.ReconciliationRepairs.Inc()
		s.logger.Warn("Reconciled service request with its completed payment", "paymentID", p.ID, "requestID", req.ID, "amount", p.Amount, "app", appName)
	}
	span.SetAttributes(
		attribute.Int("paymentCount", len(paid)),
		attribute.Int("repaired", repaired),
	)
	return repaired, nil
}

// Reconciler runs ReconcilePayments on a fixed interval
type Reconciler struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(svc *Service, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{svc: svc, interval: interval, logger: logger}
}

// Start sweeps until ctx is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping payment reconciler", "app", appName)
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.svc.ReconcilePayments(ctx); err != nil {
				r.logger.Error("Payment reconciliation failed", "error", err, "app", appName)
			}
		}
	}
}
