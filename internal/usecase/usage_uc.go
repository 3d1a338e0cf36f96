// File: internal/usecase/usage_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/domain/ports/repository"
)

var _ UsageUseCase = (*usageUC)(nil)

// UsageUseCase meters feature consumption against the caller's plan.
type UsageUseCase interface {
	CheckFeatureAccess(ctx context.Context, userID, featureID string) (*model.FeatureAccess, error)
	ConsumeFeature(ctx context.Context, req ConsumeRequest) (*model.FeatureUsage, error)
	ListUsage(ctx context.Context, userID string) ([]*model.FeatureUsage, error)
	ResetFeatureUsage(ctx context.Context) (int, error)
}

type ConsumeRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	FeatureID string `json:"feature_id" validate:"required"`
	Units     int64  `json:"units" validate:"gte=0"`
	// AIText is counted in model tokens and added to the AI token counter.
	AIText string `json:"ai_text,omitempty"`
}

type usageUC struct {
	subs   repository.SubscriptionRepository
	plans  repository.PlanRepository
	usage  repository.FeatureUsageRepository
	locker repository.UserLocker
	tokens adapter.TokenCounter
	tm     repository.TransactionManager
	now    func() time.Time
	log    *zerolog.Logger
}

func NewUsageUseCase(subs repository.SubscriptionRepository, plans repository.PlanRepository, usage repository.FeatureUsageRepository, locker repository.UserLocker, tokens adapter.TokenCounter, tm repository.TransactionManager, now func() time.Time, logger *zerolog.Logger) *usageUC {
	if now == nil {
		now = time.Now
	}
	usageLog := logger.With().Str("component", "UsageUC").Logger()
	return &usageUC{subs: subs, plans: plans, usage: usage, locker: locker, tokens: tokens, tm: tm, now: now, log: &usageLog}
}

// entitlement resolves the plan feature that governs userID's access.
func (u *usageUC) entitlement(ctx context.Context, tx repository.Tx, userID, featureID string) (*model.Subscription, model.PlanFeature, error) {
	sub, err := u.subs.FindEntitledByUser(ctx, tx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, model.PlanFeature{}, domain.ErrNoActiveSubscription
	}
	if err != nil {
		return nil, model.PlanFeature{}, fmt.Errorf("load subscription: %w", err)
	}
	plan, err := u.plans.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, model.PlanFeature{}, fmt.Errorf("load plan %s: %w", sub.PlanID, err)
	}
	f, ok := plan.Feature(featureID)
	if !ok {
		return sub, model.PlanFeature{}, fmt.Errorf("%w: %s", domain.ErrFeatureNotInPlan, featureID)
	}
	return sub, f, nil
}

func (u *usageUC) CheckFeatureAccess(ctx context.Context, userID, featureID string) (*model.FeatureAccess, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(featureID) == "" {
		return nil, fmt.Errorf("%w: user id and feature id are required", domain.ErrInvalidArgument)
	}
	access := &model.FeatureAccess{UserID: userID, FeatureID: featureID}
	sub, f, err := u.entitlement(ctx, repository.NoTX, userID, featureID)
	switch {
	case errors.Is(err, domain.ErrNoActiveSubscription), errors.Is(err, domain.ErrFeatureNotInPlan):
		access.DeniedBecause = err.Error()
		if sub != nil {
			access.PlanID = sub.PlanID
		}
		return access, nil
	case err != nil:
		return nil, err
	}
	access.PlanID = sub.PlanID
	access.InGracePeriod = sub.Status == model.SubscriptionStatusGracePeriod
	access.LimitType = f.LimitType
	access.Limit = f.LimitValue

	if !f.Enabled {
		access.DeniedBecause = domain.ErrFeatureDisabled.Error()
		return access, nil
	}
	switch f.LimitType {
	case model.LimitUnlimited:
		access.Allowed = true
		access.Remaining = -1
	case model.LimitBoolean:
		access.Allowed = f.LimitValue != 0
		if !access.Allowed {
			access.DeniedBecause = domain.ErrFeatureDisabled.Error()
		}
	case model.LimitCount:
		row, err := u.usage.Find(ctx, repository.NoTX, userID, featureID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if row != nil {
			access.Used = row.UsageCount
		}
		access.Remaining = max(f.LimitValue-access.Used, 0)
		access.Allowed = access.Remaining > 0
		if !access.Allowed {
			access.DeniedBecause = domain.ErrFeatureLimitReached.Error()
		}
	}
	return access, nil
}

// ConsumeFeature records usage. COUNT features are checked against their
// limit under the user lock so concurrent requests cannot overshoot it.
func (u *usageUC) ConsumeFeature(ctx context.Context, req ConsumeRequest) (*model.FeatureUsage, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.FeatureID) == "" || req.Units < 0 {
		return nil, fmt.Errorf("%w: user id, feature id and non-negative units are required", domain.ErrInvalidArgument)
	}
	var tokens int64
	if req.AIText != "" && u.tokens != nil {
		tokens = int64(u.tokens.Count(req.AIText))
	}

	var out *model.FeatureUsage
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.locker.LockUser(ctx, tx, req.UserID); err != nil {
			return err
		}
		_, f, err := u.entitlement(ctx, tx, req.UserID, req.FeatureID)
		if err != nil {
			return err
		}
		if !f.Enabled || (f.LimitType == model.LimitBoolean && f.LimitValue == 0) {
			return fmt.Errorf("%w: %s", domain.ErrFeatureDisabled, f.FeatureID)
		}
		if f.LimitType != model.LimitCount {
			// Only COUNT features keep a ledger row.
			return nil
		}

		now := u.now().UTC()
		if _, err := u.usage.InsertIfMissing(ctx, tx, model.NewFeatureUsage(req.UserID, f, now)); err != nil {
			return err
		}
		row, err := u.usage.Find(ctx, tx, req.UserID, req.FeatureID)
		if err != nil {
			return err
		}
		if row.UsageCount+req.Units > f.LimitValue {
			return fmt.Errorf("%w: %s used %d of %d", domain.ErrFeatureLimitReached, f.FeatureID, row.UsageCount, f.LimitValue)
		}
		out, err = u.usage.Increment(ctx, tx, req.UserID, req.FeatureID, req.Units, tokens)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *usageUC) ListUsage(ctx context.Context, userID string) ([]*model.FeatureUsage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return u.usage.ListByUser(ctx, repository.NoTX, userID)
}

// ResetFeatureUsage zeroes every counter whose reset date has passed and
// moves the reset date one increment past its previous value, keeping the
// cadence stable when the sweep runs late.
func (u *usageUC) ResetFeatureUsage(ctx context.Context) (int, error) {
	now := u.now().UTC()
	due, err := u.usage.ListDueForReset(ctx, repository.NoTX, now)
	if err != nil {
		return 0, fmt.Errorf("list usage due for reset: %w", err)
	}
	n := 0
	for _, row := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		reset, err := u.resetCounter(ctx, row.UserID, row.FeatureID, now)
		if err != nil {
			u.log.Error().Err(err).Str("user_id", row.UserID).Str("feature_id", row.FeatureID).Msg("usage reset failed")
			continue
		}
		if reset {
			n++
		}
	}
	return n, nil
}

// resetCounter re-reads the counter under the user lock. A counter another
// worker already advanced is left alone, as is usage recorded since then.
func (u *usageUC) resetCounter(ctx context.Context, userID, featureID string, now time.Time) (bool, error) {
	reset := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.locker.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		live, err := u.usage.Find(ctx, tx, userID, featureID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if live.ResetFrequency == model.ResetNever || live.ResetDate == nil || !live.ResetDate.Before(now) {
			return nil
		}
		prev := *live.ResetDate
		live.AdvanceReset(now)
		if err := u.usage.SaveReset(ctx, tx, live, prev); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		reset = true
		return nil
	})
	return reset, err
}
