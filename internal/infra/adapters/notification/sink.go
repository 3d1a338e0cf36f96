// Package notification delivers lifecycle notifications: user messages go to
// the in-app inbox table, admin events to the configured admin channel.
package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/domain/ports/repository"
)

var _ adapter.NotificationSink = (*Sink)(nil)

// AdminChannel is implemented by the Telegram notifier.
type AdminChannel interface {
	NotifyAdmins(ctx context.Context, e model.AdminEvent) error
}

type Sink struct {
	inbox  repository.NotificationRepository
	admins AdminChannel
	log    *zerolog.Logger
}

// NewSink wires the inbox store and an optional admin channel. Without a
// channel admin events are only logged.
func NewSink(inbox repository.NotificationRepository, admins AdminChannel, logger *zerolog.Logger) *Sink {
	l := logger.With().Str("component", "NotificationSink").Logger()
	return &Sink{inbox: inbox, admins: admins, log: &l}
}

func (s *Sink) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Category == "" {
		n.Category = model.CategorySubscription
	}
	return s.inbox.Save(ctx, repository.NoTX, &n)
}

func (s *Sink) NotifyAdmins(ctx context.Context, e model.AdminEvent) error {
	s.log.Info().
		Str("event", e.Type).
		Str("user_id", e.UserID).
		Str("plan_id", e.PlanID).
		Str("subscription_id", e.SubscriptionID).
		Msg(e.Message)
	if s.admins == nil {
		return nil
	}
	return s.admins.NotifyAdmins(ctx, e)
}
