package payment

import (
	"context"
	"sync"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentGateway = (*NoneGateway)(nil)
	_ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)
)

// NoneGateway backs free subscriptions. There is nothing to verify and
// nothing remote to cancel.
type NoneGateway struct{}

func (NoneGateway) Name() model.PaymentGateway { return model.GatewayNone }

func (NoneGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (bool, error) {
	return false, nil
}

func (NoneGateway) CancelSubscription(ctx context.Context, reference string, opts adapter.CancelOptions) error {
	return nil
}

// NoopPaymentGateway stands in for Razorpay in dev mode. Every payment id is
// accepted unless marked rejected; cancellations are recorded.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	rejected  map[string]bool
	cancelled map[string]adapter.CancelOptions
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		rejected:  make(map[string]bool),
		cancelled: make(map[string]adapter.CancelOptions),
	}
}

func (g *NoopPaymentGateway) Name() model.PaymentGateway { return model.GatewayRazorpay }

// Reject makes later verifications of paymentID fail.
func (g *NoopPaymentGateway) Reject(paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejected[paymentID] = true
}

func (g *NoopPaymentGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return req.PaymentID != "" && !g.rejected[req.PaymentID], nil
}

func (g *NoopPaymentGateway) CancelSubscription(ctx context.Context, reference string, opts adapter.CancelOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[reference] = opts
	return nil
}

// Cancelled reports whether reference was cancelled and how.
func (g *NoopPaymentGateway) Cancelled(reference string) (adapter.CancelOptions, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	opts, ok := g.cancelled[reference]
	return opts, ok
}
