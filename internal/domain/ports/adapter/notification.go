package adapter

import (
	"context"

	"resume-billing/internal/domain/model"
)

// NotificationSink receives best-effort events. Errors are logged by the
// caller and never undo the mutation that produced the event.
type NotificationSink interface {
	CreateNotification(ctx context.Context, n model.Notification) error
	NotifyAdmins(ctx context.Context, e model.AdminEvent) error
}

// EffectDispatcher runs effects after the producing transaction committed.
type EffectDispatcher interface {
	Dispatch(ctx context.Context, effects []model.Effect)
}

// TokenCounter measures AI text in model tokens for usage metering.
type TokenCounter interface {
	Count(text string) int
}
