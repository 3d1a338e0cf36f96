package repository

import (
	"context"

	"resume-billing/internal/domain/model"
)

// NotificationRepository persists user notifications for the in-app inbox.
type NotificationRepository interface {
	Save(ctx context.Context, tx Tx, n *model.Notification) error
	ListByRecipient(ctx context.Context, tx Tx, recipientID string, limit int) ([]*model.Notification, error)
}

type AuditLogRepository interface {
	Append(ctx context.Context, tx Tx, e *model.AuditEntry) error
}
