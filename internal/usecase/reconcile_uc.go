// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

// StepStats counts one sweep step's outcome.
type StepStats struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	// ListError is set when the step could not even load its candidates.
	ListError string `json:"list_error,omitempty"`
}

type ScheduledChangeStats struct {
	DowngradesProcessed int    `json:"downgrades_processed"`
	DowngradesFailed    int    `json:"downgrades_failed"`
	DowngradesDeferred  int    `json:"downgrades_deferred"`
	UpgradesProcessed   int    `json:"upgrades_processed"`
	UpgradesFailed      int    `json:"upgrades_failed"`
	Stale               int    `json:"stale"`
	ListError           string `json:"list_error,omitempty"`
}

// CycleReport summarizes one reconciliation sweep.
type CycleReport struct {
	StartedAt        time.Time            `json:"started_at"`
	Duration         time.Duration        `json:"duration"`
	Renewed          StepStats            `json:"renewed"`
	GracePeriod      StepStats            `json:"grace_period"`
	Expired          StepStats            `json:"expired"`
	ScheduledChanges ScheduledChangeStats `json:"scheduled_changes"`
	// IntegrityViolations lists users holding more than one ACTIVE row.
	IntegrityViolations []string `json:"integrity_violations,omitempty"`
}

// ProcessSubscriptionCycle runs renewals, grace periods, expirations and due
// scheduled changes in that order. It never fails as a whole; per-row errors
// are logged and counted.
func (uc *subscriptionUC) ProcessSubscriptionCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: uc.now()}
	log := uc.log.With().Str("op", "ProcessSubscriptionCycle").Logger()

	report.Renewed = uc.sweep(ctx, "renew", func(now time.Time) ([]*model.Subscription, error) {
		return uc.repos.Subscriptions.ListRenewable(ctx, repository.NoTX, now.Add(uc.opts.RenewalWindow))
	}, uc.renew)
	report.GracePeriod = uc.sweep(ctx, "grace_period", func(now time.Time) ([]*model.Subscription, error) {
		return uc.repos.Subscriptions.ListLapsed(ctx, repository.NoTX, now)
	}, uc.enterGracePeriod)
	report.Expired = uc.sweep(ctx, "expire", func(now time.Time) ([]*model.Subscription, error) {
		return uc.repos.Subscriptions.ListGraceExpired(ctx, repository.NoTX, now)
	}, uc.expire)
	report.ScheduledChanges = uc.ProcessScheduledChanges(ctx)

	users, err := uc.repos.Subscriptions.ListUsersWithMultipleActive(ctx, repository.NoTX)
	if err != nil {
		log.Error().Err(err).Msg("integrity scan failed")
	} else if len(users) > 0 {
		report.IntegrityViolations = users
		log.Error().Strs("user_ids", users).Msg("integrity violation: users with multiple active subscriptions need manual reconciliation")
	}

	report.Duration = uc.now().Sub(report.StartedAt)
	log.Info().
		Int("renewed", report.Renewed.Processed).
		Int("grace_period", report.GracePeriod.Processed).
		Int("expired", report.Expired.Processed).
		Int("downgrades", report.ScheduledChanges.DowngradesProcessed).
		Int("deferred", report.ScheduledChanges.DowngradesDeferred).
		Dur("duration", report.Duration).
		Msg("subscription cycle finished")
	return report
}

// sweep loads candidates for one step and processes them one by one.
func (uc *subscriptionUC) sweep(ctx context.Context, step string, list func(now time.Time) ([]*model.Subscription, error), handle func(ctx context.Context, id string) (bool, error)) StepStats {
	var stats StepStats
	candidates, err := list(uc.now())
	if err != nil {
		uc.log.Error().Err(err).Str("step", step).Msg("sweep step could not list subscriptions")
		stats.ListError = err.Error()
		return stats
	}
	for _, s := range candidates {
		if ctx.Err() != nil {
			break
		}
		done, err := guard(func() (bool, error) { return handle(ctx, s.ID) })
		switch {
		case err != nil:
			stats.Failed++
			uc.log.Error().Err(err).Str("step", step).Str("subscription_id", s.ID).Str("user_id", s.UserID).Msg("sweep item failed")
		case done:
			stats.Processed++
		}
	}
	return stats
}

// guard turns a panic in one item into an error so the batch keeps going.
func guard(fn func() (bool, error)) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// withLockedRow reloads a row under the owner's lock and hands it to fn.
func (uc *subscriptionUC) withLockedRow(ctx context.Context, id string, fn func(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time) (bool, []model.Effect, error)) (bool, error) {
	var (
		done    bool
		effects []model.Effect
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		sub, err := uc.repos.Subscriptions.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := uc.repos.Locker.LockUser(ctx, tx, sub.UserID); err != nil {
			return err
		}
		// Re-read after the lock so we act on the live row.
		if sub, err = uc.repos.Subscriptions.FindByID(ctx, tx, id); err != nil {
			return err
		}
		done, effects, err = fn(ctx, tx, sub, uc.now())
		return err
	})
	if err != nil {
		return false, err
	}
	uc.effects.Dispatch(ctx, effects)
	return done, nil
}

// renew extends a free auto-renewing subscription by one cycle. The new
// period is counted from the old end date; a row left behind by several
// missed sweeps is advanced until its end date is in the future.
func (uc *subscriptionUC) renew(ctx context.Context, id string) (bool, error) {
	return uc.withLockedRow(ctx, id, func(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time) (bool, []model.Effect, error) {
		if sub.Status != model.SubscriptionStatusActive || !sub.AutoRenew || sub.PaymentGateway != model.GatewayNone ||
			sub.HasPendingChange() || sub.EndDate.After(now.Add(uc.opts.RenewalWindow)) {
			return false, nil, nil
		}
		plan, err := uc.loadPlan(ctx, tx, sub.PlanID)
		if err != nil {
			return false, nil, err
		}
		if err := sub.TransitionTo(model.StateActive); err != nil {
			return false, nil, err
		}
		prevEnd := sub.EndDate
		start, end := prevEnd, plan.BillingCycle.Advance(prevEnd)
		for !end.After(now) {
			start, end = end, plan.BillingCycle.Advance(end)
		}
		sub.StartDate = start
		sub.EndDate = end
		sub.UpdatedAt = now
		sub.Record(model.NewRenewalEvent(now, model.RenewalEvent{PreviousEndDate: prevEnd, NewEndDate: end}))
		if err := uc.repos.Subscriptions.Update(ctx, tx, sub); err != nil {
			return false, nil, err
		}

		txn, err := model.NewPaymentTransaction(sub.UserID, sub.ID, decimal.Zero, plan.RegionalCurrency(uc.regionFor(ctx, sub.UserID)),
			model.GatewayNone, model.SyntheticTransactionID("renewal", now), model.PaymentStatusCompleted, now)
		if err != nil {
			return false, nil, err
		}
		txn.Metadata["kind"] = "renewal"
		txn.Metadata["plan_id"] = plan.ID
		if _, err := uc.repos.Payments.Insert(ctx, tx, txn); err != nil {
			return false, nil, err
		}

		counted := plan.CountFeatures()
		ids := make([]string, 0, len(counted))
		for _, f := range counted {
			ids = append(ids, f.FeatureID)
		}
		if len(ids) > 0 {
			if _, err := initFeatureUsage(ctx, tx, uc.repos.Usage, sub.UserID, plan, now); err != nil {
				return false, nil, err
			}
			if _, err := uc.repos.Usage.ResetCounters(ctx, tx, sub.UserID, ids); err != nil {
				return false, nil, err
			}
		}

		return true, []model.Effect{
			model.NotifyUser(model.Notification{
				RecipientID: sub.UserID,
				Type:        model.NotificationSubscriptionRenewed,
				Category:    model.CategorySubscription,
				Data: map[string]string{
					"subscription_id": sub.ID,
					"plan_id":         plan.ID,
					"end_date":        end.Format(time.RFC3339),
				},
				CreatedAt: now,
			}),
			auditEffect(sub.UserID, sub.ID, "renewed", now, map[string]string{"new_end_date": end.Format(time.RFC3339)}),
		}, nil
	})
}

func (uc *subscriptionUC) enterGracePeriod(ctx context.Context, id string) (bool, error) {
	return uc.withLockedRow(ctx, id, func(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time) (bool, []model.Effect, error) {
		if sub.Status != model.SubscriptionStatusActive || !sub.EndDate.Before(now) {
			return false, nil, nil
		}
		from := sub.State()
		if err := sub.TransitionTo(model.StateGracePeriod); err != nil {
			return false, nil, err
		}
		graceEnd := now.Add(uc.opts.GracePeriod)
		sub.GracePeriodEnd = &graceEnd
		sub.UpdatedAt = now
		sub.Record(model.NewStateChangeEvent(now, from, model.StateGracePeriod, "end date passed"))
		if err := uc.repos.Subscriptions.Update(ctx, tx, sub); err != nil {
			return false, nil, err
		}
		return true, []model.Effect{
			model.NotifyUser(model.Notification{
				RecipientID: sub.UserID,
				Type:        model.NotificationSubscriptionGracePeriod,
				Category:    model.CategoryBilling,
				Data: map[string]string{
					"subscription_id":  sub.ID,
					"plan_id":          sub.PlanID,
					"grace_period_end": graceEnd.Format(time.RFC3339),
				},
				CreatedAt: now,
			}),
			auditEffect(sub.UserID, sub.ID, "grace_period", now, nil),
		}, nil
	})
}

func (uc *subscriptionUC) expire(ctx context.Context, id string) (bool, error) {
	return uc.withLockedRow(ctx, id, func(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time) (bool, []model.Effect, error) {
		if sub.Status != model.SubscriptionStatusGracePeriod || sub.GracePeriodEnd == nil || !sub.GracePeriodEnd.Before(now) {
			return false, nil, nil
		}
		if err := sub.TransitionTo(model.StateExpired); err != nil {
			return false, nil, err
		}
		sub.AutoRenew = false
		sub.UpdatedAt = now
		sub.Record(model.NewStateChangeEvent(now, model.StateGracePeriod, model.StateExpired, "grace period ended"))
		if err := uc.repos.Subscriptions.Update(ctx, tx, sub); err != nil {
			return false, nil, err
		}
		return true, []model.Effect{
			model.NotifyUser(model.Notification{
				RecipientID: sub.UserID,
				Type:        model.NotificationSubscriptionExpired,
				Category:    model.CategoryBilling,
				Data:        map[string]string{"subscription_id": sub.ID, "plan_id": sub.PlanID},
				CreatedAt:   now,
			}),
			auditEffect(sub.UserID, sub.ID, "expired", now, nil),
		}, nil
	})
}

// ProcessScheduledChanges materializes due downgrades. A change whose row
// still has paid time left is deferred to the row's end date instead.
func (uc *subscriptionUC) ProcessScheduledChanges(ctx context.Context) ScheduledChangeStats {
	var stats ScheduledChangeStats
	due, err := uc.repos.Subscriptions.ListDueScheduledChanges(ctx, repository.NoTX, uc.now())
	if err != nil {
		uc.log.Error().Err(err).Msg("could not list due plan changes")
		stats.ListError = err.Error()
		return stats
	}
	for _, s := range due {
		if ctx.Err() != nil {
			break
		}
		if s.PendingPlanChangeType == model.PlanChangeUpgrade {
			if _, err := guard(func() (bool, error) { return uc.clearUnexpectedUpgrade(ctx, s.ID) }); err != nil {
				stats.UpgradesFailed++
				uc.log.Error().Err(err).Str("subscription_id", s.ID).Msg("could not clear scheduled upgrade")
			} else {
				stats.UpgradesProcessed++
			}
			continue
		}

		var outcome changeOutcome
		_, err := guard(func() (bool, error) {
			var err error
			outcome, err = uc.applyDowngrade(ctx, s.ID)
			return outcome == changeApplied, err
		})
		switch {
		case err != nil:
			stats.DowngradesFailed++
			uc.log.Error().Err(err).Str("subscription_id", s.ID).Str("user_id", s.UserID).Msg("scheduled downgrade failed")
		case outcome == changeApplied:
			stats.DowngradesProcessed++
		case outcome == changeDeferred:
			stats.DowngradesDeferred++
		case outcome == changeStale:
			stats.Stale++
		}
	}
	return stats
}

type changeOutcome int

const (
	changeSkipped changeOutcome = iota
	changeApplied
	changeDeferred
	changeStale
)

func (uc *subscriptionUC) clearUnexpectedUpgrade(ctx context.Context, id string) (bool, error) {
	return uc.withLockedRow(ctx, id, func(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time) (bool, []model.Effect, error) {
		if sub.PendingPlanChangeType != model.PlanChangeUpgrade {
			return false, nil, nil
		}
		uc.log.Warn().Str("subscription_id", sub.ID).Str("pending_plan", sub.PendingPlanChangeTo).
			Msg("unexpected scheduled upgrade found, upgrades are processed at payment time; clearing")
		sub.ClearPendingChange()
		sub.UpdatedAt = now
		if err := uc.repos.Subscriptions.Update(ctx, tx, sub); err != nil {
			return false, nil, err
		}
		return true, []model.Effect{auditEffect(sub.UserID, sub.ID, "scheduled_upgrade_cleared", now, nil)}, nil
	})
}

func (uc *subscriptionUC) applyDowngrade(ctx context.Context, id string) (changeOutcome, error) {
	outcome := changeSkipped
	_, err := uc.withLockedRow(ctx, id, func(ctx context.Context, tx repository.Tx, old *model.Subscription, now time.Time) (bool, []model.Effect, error) {
		if old.PendingPlanChangeType != model.PlanChangeDowngrade || old.PendingPlanChangeTo == "" ||
			old.PendingPlanChangeDate == nil || old.PendingPlanChangeDate.After(now) {
			return false, nil, nil
		}
		if old.Status == model.SubscriptionStatusExpired || old.Status == model.SubscriptionStatusCancelled {
			uc.log.Warn().Str("subscription_id", old.ID).Str("status", string(old.Status)).Msg("dropping pending change on closed subscription")
			old.ClearPendingChange()
			old.UpdatedAt = now
			outcome = changeStale
			return false, nil, uc.repos.Subscriptions.Update(ctx, tx, old)
		}

		// The paid period has not actually lapsed yet.
		if old.EndDate.After(now) {
			end := old.EndDate
			old.PendingPlanChangeDate = &end
			old.UpdatedAt = now
			outcome = changeDeferred
			return false, nil, uc.repos.Subscriptions.Update(ctx, tx, old)
		}

		target, err := uc.loadPlan(ctx, tx, old.PendingPlanChangeTo)
		if err != nil {
			return false, nil, err
		}
		others, err := uc.repos.Subscriptions.ListActiveByUser(ctx, tx, old.UserID)
		if err != nil {
			return false, nil, err
		}
		for _, o := range others {
			if o.ID != old.ID {
				return false, nil, fmt.Errorf("%w: user %s already has active subscription %s", domain.ErrMultipleActiveSubscriptions, old.UserID, o.ID)
			}
		}

		gateway := model.GatewayNone
		if !target.IsFree() && old.PaymentGateway != "" {
			gateway = old.PaymentGateway
		}
		sub, err := model.NewSubscription(old.UserID, target, gateway, now)
		if err != nil {
			return false, nil, err
		}
		sub.PreviousPlanID = old.PlanID
		fromPlan := old.PlanID
		if err := uc.closeRow(ctx, tx, old, now, model.NewScheduledDowngradeEvent(now, model.ScheduledDowngradeEvent{
			FromPlanID:  fromPlan,
			ToPlanID:    target.ID,
			EffectiveAt: now,
			Applied:     true,
			ReplacedBy:  sub.ID,
		})); err != nil {
			return false, nil, err
		}

		price := target.PriceFor(uc.regionFor(ctx, old.UserID))
		amount, status, txnID := decimal.Zero, model.PaymentStatusCompleted, model.SyntheticTransactionID("downgrade", now)
		if target.IsFree() {
			if _, err := initFeatureUsage(ctx, tx, uc.repos.Usage, sub.UserID, target, now); err != nil {
				return false, nil, err
			}
		} else {
			// Paid targets wait for the gateway to confirm the first charge.
			amount, status = price.Amount, model.PaymentStatusPending
			txnID = model.SyntheticTransactionID("scheduled", now)
			sub.PaymentReference = txnID
		}
		sub.Record(model.NewScheduledDowngradeEvent(now, model.ScheduledDowngradeEvent{
			FromPlanID:  fromPlan,
			ToPlanID:    target.ID,
			EffectiveAt: now,
			Applied:     true,
			Replaces:    old.ID,
		}))
		if err := uc.repos.Subscriptions.Insert(ctx, tx, sub); err != nil {
			return false, nil, err
		}

		txn, err := model.NewPaymentTransaction(sub.UserID, sub.ID, amount, price.Currency, gateway, txnID, status, now)
		if err != nil {
			return false, nil, err
		}
		txn.Metadata["kind"] = "scheduled_downgrade"
		txn.Metadata["plan_id"] = target.ID
		txn.Metadata["previous_plan_id"] = fromPlan
		if _, err := uc.repos.Payments.Insert(ctx, tx, txn); err != nil {
			return false, nil, err
		}

		outcome = changeApplied
		return true, []model.Effect{
			model.NotifyUser(model.Notification{
				RecipientID: sub.UserID,
				Type:        model.NotificationSubscriptionDowngraded,
				Category:    model.CategorySubscription,
				Data: map[string]string{
					"subscription_id":  sub.ID,
					"plan_id":          target.ID,
					"plan_name":        target.Name,
					"previous_plan_id": fromPlan,
					"end_date":         sub.EndDate.Format(time.RFC3339),
				},
				CreatedAt: now,
			}),
			auditEffect(sub.UserID, sub.ID, "downgrade_applied", now, map[string]string{"previous_plan_id": fromPlan}),
		}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return changeSkipped, nil
		}
		return changeSkipped, err
	}
	return outcome, nil
}
