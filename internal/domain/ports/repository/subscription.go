package repository

import (
	"context"
	"time"

	"resume-billing/internal/domain/model"
)

// SubscriptionRepository is the port for subscription rows. Rows are never deleted.
type SubscriptionRepository interface {
	Insert(ctx context.Context, tx Tx, s *model.Subscription) error
	Update(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)

	// ListActiveByUser returns every ACTIVE row; more than one is an integrity violation.
	ListActiveByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
	// FindEntitledByUser returns the ACTIVE row, or else the GRACE_PERIOD row.
	FindEntitledByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	// FindLatestByUserAndPlan returns the newest row for (user, plan) in any status.
	FindLatestByUserAndPlan(ctx context.Context, tx Tx, userID, planID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)

	// Sweep queries.
	ListRenewable(ctx context.Context, tx Tx, before time.Time) ([]*model.Subscription, error)
	ListLapsed(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	ListGraceExpired(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	ListDueScheduledChanges(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	ListUsersWithMultipleActive(ctx context.Context, tx Tx) ([]string, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
