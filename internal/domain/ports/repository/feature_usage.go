package repository

import (
	"context"
	"time"

	"resume-billing/internal/domain/model"
)

type FeatureUsageRepository interface {
	// InsertIfMissing never overwrites an existing (user, feature) counter.
	InsertIfMissing(ctx context.Context, tx Tx, u *model.FeatureUsage) (inserted bool, err error)
	Find(ctx context.Context, tx Tx, userID, featureID string) (*model.FeatureUsage, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.FeatureUsage, error)
	Increment(ctx context.Context, tx Tx, userID, featureID string, count, tokens int64) (*model.FeatureUsage, error)
	// ResetCounters zeroes the counters of the given features for a user.
	ResetCounters(ctx context.Context, tx Tx, userID string, featureIDs []string) (int, error)
	// ListDueForReset returns counters whose reset date is strictly before now.
	ListDueForReset(ctx context.Context, tx Tx, now time.Time) ([]*model.FeatureUsage, error)
	// SaveReset writes u only while the stored reset date still equals prev,
	// and returns ErrNotFound otherwise.
	SaveReset(ctx context.Context, tx Tx, u *model.FeatureUsage, prev time.Time) error
}
