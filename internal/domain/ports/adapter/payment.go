package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
)

// ErrNoBillingCycle is returned by gateways when a remote subscription has no
// billing cycle to cancel at. Callers treat it like any other cancel error.
var ErrNoBillingCycle = errors.New("gateway subscription has no active billing cycle")

type VerifyRequest struct {
	PaymentID             string
	Signature             string
	GatewaySubscriptionID string
	OrderID               string
	// Amount and Currency are what the payment must cover. A zero Amount skips the check.
	Amount   decimal.Decimal
	Currency string
}

type CancelOptions struct {
	AtCycleEnd bool
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() model.PaymentGateway

	// VerifyPayment reports whether the payment is genuine. It must be safe to retry.
	// An error means the answer is unknown, false means the payment is rejected.
	VerifyPayment(ctx context.Context, req VerifyRequest) (bool, error)

	// CancelSubscription stops a remote recurring subscription, immediately or
	// at the end of the current cycle.
	CancelSubscription(ctx context.Context, reference string, opts CancelOptions) error
}

// GatewayRegistry selects a gateway implementation by name.
type GatewayRegistry map[model.PaymentGateway]PaymentGateway

func NewGatewayRegistry(gateways ...PaymentGateway) GatewayRegistry {
	r := make(GatewayRegistry, len(gateways))
	for _, g := range gateways {
		r[g.Name()] = g
	}
	return r
}

func (r GatewayRegistry) Get(name model.PaymentGateway) (PaymentGateway, error) {
	g, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedGateway, name)
	}
	return g, nil
}
