package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

var (
	_ repository.NotificationRepository = (*notificationRepo)(nil)
	_ repository.AuditLogRepository     = (*auditLogRepo)(nil)
)

type notificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *notificationRepo {
	return &notificationRepo{pool: pool}
}

func (r *notificationRepo) Save(ctx context.Context, tx repository.Tx, n *model.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	const q = `
INSERT INTO notifications (recipient_id, type, category, data, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err = execSQL(ctx, r.pool, tx, q, n.RecipientID, n.Type, n.Category, string(data), n.CreatedAt)
	return err
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, tx repository.Tx, recipientID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT recipient_id, type, category, data, created_at
  FROM notifications
 WHERE recipient_id = $1
 ORDER BY created_at DESC
 LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Notification
	for rows.Next() {
		var (
			n    model.Notification
			data []byte
		)
		if err := rows.Scan(&n.RecipientID, &n.Type, &n.Category, &data, &n.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification data: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, storeErr(rows.Err())
}

type auditLogRepo struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepo(pool *pgxpool.Pool) *auditLogRepo {
	return &auditLogRepo{pool: pool}
}

// Append never updates; entries are write-once.
func (r *auditLogRepo) Append(ctx context.Context, tx repository.Tx, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	const q = `
INSERT INTO subscription_audit_log (id, user_id, subscription_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`
	_, err = execSQL(ctx, r.pool, tx, q, e.ID, e.UserID, nullString(e.SubscriptionID), e.Action, string(details), e.CreatedAt)
	return err
}
