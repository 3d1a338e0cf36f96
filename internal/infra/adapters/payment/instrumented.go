package payment

import (
	"context"
	"time"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/infra/metrics"
)

type instrumentedGateway struct {
	inner adapter.PaymentGateway
}

// Instrument wraps a gateway so every call is counted and timed.
func Instrument(inner adapter.PaymentGateway) adapter.PaymentGateway {
	return &instrumentedGateway{inner: inner}
}

func (g *instrumentedGateway) Name() model.PaymentGateway { return g.inner.Name() }

func (g *instrumentedGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (bool, error) {
	start := time.Now()
	ok, err := g.inner.VerifyPayment(ctx, req)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "rejected"
	}
	metrics.ObserveGatewayCall(string(g.inner.Name()), "verify", result, time.Since(start))
	return ok, err
}

func (g *instrumentedGateway) CancelSubscription(ctx context.Context, reference string, opts adapter.CancelOptions) error {
	start := time.Now()
	err := g.inner.CancelSubscription(ctx, reference, opts)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveGatewayCall(string(g.inner.Name()), "cancel", result, time.Since(start))
	return err
}
