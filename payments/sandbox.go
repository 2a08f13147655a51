package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"fadedreams/roadassist/domain"
)

// Sandbox issues orders locally. Callbacks are signed with the same scheme
// as the live gateway, so clients can produce them with Sign.
type Sandbox struct {
	secret string
	now    func() time.Time
}

func NewSandbox(secret string) *Sandbox {
	return &Sandbox{secret: secret, now: time.Now}
}

func (s *Sandbox) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewGatewayError("order creation cancelled", err)
	}
	if amountMinor <= 0 {
		return nil, domain.NewGatewayError("amount must be positive", nil)
	}
	return &domain.GatewayOrder{
		ID:        "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Entity:    "order",
		Amount:    amountMinor,
		Currency:  currency,
		Receipt:   receipt,
		Status:    "created",
		CreatedAt: s.now().Unix(),
	}, nil
}

func (s *Sandbox) VerifyCallback(orderID, paymentID, signature string) bool {
	return verify(s.secret, orderID, paymentID, signature)
}
