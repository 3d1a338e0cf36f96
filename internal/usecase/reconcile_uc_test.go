//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
	"resume-billing/internal/usecase"
)

func TestSubscriptionUseCase_ScheduledDowngradeSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("should move a lapsed paid row to the free plan", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		pro, err := f.uc.ActivatePaidPlan(ctx, f.paid("user-1", proPlanID, "pay_1"))
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := f.uc.ScheduleDowngrade(ctx, "user-1", freePlanID); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		f.clock.Set(pro.Subscription.EndDate.Add(time.Hour))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.ScheduledChanges.DowngradesProcessed != 1 || report.ScheduledChanges.DowngradesFailed != 0 {
			t.Fatalf("expected one applied downgrade, got %+v", report.ScheduledChanges)
		}
		old := f.sub(t, pro.Subscription.ID)
		if old.Status != model.SubscriptionStatusCancelled || old.HasPendingChange() {
			t.Errorf("expected the pro row closed without pending fields, got %s pending=%v", old.Status, old.HasPendingChange())
		}
		rows := f.active("user-1")
		if len(rows) != 1 {
			t.Fatalf("expected one ACTIVE row, got %d", len(rows))
		}
		next := rows[0]
		if next.PlanID != freePlanID || next.PaymentGateway != model.GatewayNone || !next.AutoRenew || next.PreviousPlanID != proPlanID {
			t.Errorf("unexpected new row: %+v", next)
		}
		if old.ReplacedBy() != next.ID {
			t.Errorf("expected the old row to point at %s, got %s", next.ID, old.ReplacedBy())
		}
		usage, _ := f.meter.ListUsage(ctx, "user-1")
		if len(usage) < 2 {
			t.Errorf("expected counters for the free plan, got %d", len(usage))
		}
	})

	t.Run("should defer a change whose row still has paid time", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		pro, err := f.uc.ActivatePaidPlan(ctx, f.paid("user-1", proPlanID, "pay_1"))
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := f.uc.ScheduleDowngrade(ctx, "user-1", basicPlanID); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		early := f.clock.Now().Add(-time.Hour)
		f.mutate(pro.Subscription.ID, func(s *model.Subscription) { s.PendingPlanChangeDate = &early })

		// --- Act ---
		stats := f.uc.ProcessScheduledChanges(ctx)

		// --- Assert ---
		if stats.DowngradesDeferred != 1 || stats.DowngradesProcessed != 0 {
			t.Fatalf("expected one deferral, got %+v", stats)
		}
		row := f.sub(t, pro.Subscription.ID)
		if row.Status != model.SubscriptionStatusActive || !row.PendingPlanChangeDate.Equal(row.EndDate) {
			t.Errorf("expected the change pushed to the end date, got %v", row.PendingPlanChangeDate)
		}
	})

	t.Run("should create a pending charge for a cheaper paid target", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		pro, err := f.uc.ActivatePaidPlan(ctx, f.paid("user-1", proPlanID, "pay_1"))
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := f.uc.ScheduleDowngrade(ctx, "user-1", basicPlanID); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		f.clock.Set(pro.Subscription.EndDate.Add(time.Minute))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.ScheduledChanges.DowngradesProcessed != 1 {
			t.Fatalf("expected one applied downgrade, got %+v", report.ScheduledChanges)
		}
		next := f.active("user-1")[0]
		if next.PlanID != basicPlanID || next.PaymentGateway != model.GatewayRazorpay || !strings.HasPrefix(next.PaymentReference, "scheduled_") {
			t.Errorf("unexpected new row: %+v", next)
		}
		var pending *model.PaymentTransaction
		for _, txn := range f.txns("user-1") {
			if txn.SubscriptionID == next.ID {
				pending = txn
			}
		}
		if pending == nil || pending.Status != model.PaymentStatusPending || pending.Amount.StringFixed(2) != "9.99" {
			t.Errorf("expected a PENDING 9.99 transaction, got %+v", pending)
		}
	})

	t.Run("should drop a pending change left on a closed row", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		pro, _ := f.uc.ActivatePaidPlan(ctx, f.paid("user-1", proPlanID, "pay_1"))
		due := f.clock.Now().Add(-time.Minute)
		f.mutate(pro.Subscription.ID, func(s *model.Subscription) {
			s.Status = model.SubscriptionStatusExpired
			s.PendingPlanChangeTo = freePlanID
			s.PendingPlanChangeType = model.PlanChangeDowngrade
			s.PendingPlanChangeDate = &due
		})

		// --- Act ---
		stats := f.uc.ProcessScheduledChanges(ctx)

		// --- Assert ---
		if stats.Stale != 1 {
			t.Fatalf("expected one stale change, got %+v", stats)
		}
		if f.sub(t, pro.Subscription.ID).HasPendingChange() {
			t.Error("expected the pending fields to be cleared")
		}
	})

	t.Run("should clear a scheduled upgrade", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		free, _ := f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		due := f.clock.Now().Add(-time.Minute)
		f.mutate(free.ID, func(s *model.Subscription) {
			s.PendingPlanChangeTo = proPlanID
			s.PendingPlanChangeType = model.PlanChangeUpgrade
			s.PendingPlanChangeDate = &due
		})

		// --- Act ---
		stats := f.uc.ProcessScheduledChanges(ctx)

		// --- Assert ---
		if stats.UpgradesProcessed != 1 {
			t.Fatalf("expected one cleared upgrade, got %+v", stats)
		}
		row := f.sub(t, free.ID)
		if row.HasPendingChange() || row.Status != model.SubscriptionStatusActive || row.PlanID != freePlanID {
			t.Errorf("expected the row unchanged apart from the pending fields, got %+v", row)
		}
	})
}

func TestSubscriptionUseCase_GraceAndExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("should move a cancelled row to grace and then expire it", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		pro, err := f.uc.ActivatePaidPlan(ctx, f.paid("user-1", proPlanID, "pay_1"))
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := f.uc.CancelSubscription(ctx, "user-1"); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}

		// --- Act: before the end date nothing happens ---
		f.clock.Set(pro.Subscription.EndDate.Add(-time.Hour))
		before := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if before.GracePeriod.Processed != 0 || f.sub(t, pro.Subscription.ID).Status != model.SubscriptionStatusActive {
			t.Fatalf("expected the row to stay ACTIVE before its end date")
		}

		// --- Act: after the end date ---
		f.clock.Set(pro.Subscription.EndDate.Add(time.Hour))
		lapsed := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		row := f.sub(t, pro.Subscription.ID)
		if lapsed.GracePeriod.Processed != 1 || row.Status != model.SubscriptionStatusGracePeriod {
			t.Fatalf("expected GRACE_PERIOD, got %s (%+v)", row.Status, lapsed.GracePeriod)
		}
		if row.GracePeriodEnd == nil || !row.GracePeriodEnd.Equal(f.clock.Now().Add(usecase.DefaultGracePeriod)) {
			t.Errorf("expected a seven day grace window, got %v", row.GracePeriodEnd)
		}
		access, err := f.meter.CheckFeatureAccess(ctx, "user-1", "premium_templates")
		if err != nil || !access.Allowed || !access.InGracePeriod {
			t.Errorf("expected access during grace, got %+v (%v)", access, err)
		}

		// --- Act: after the grace window ---
		f.clock.Advance(usecase.DefaultGracePeriod + time.Hour)
		expired := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		row = f.sub(t, pro.Subscription.ID)
		if expired.Expired.Processed != 1 || row.Status != model.SubscriptionStatusExpired || row.AutoRenew {
			t.Fatalf("expected EXPIRED, got %s (%+v)", row.Status, expired.Expired)
		}
		access, _ = f.meter.CheckFeatureAccess(ctx, "user-1", "premium_templates")
		if access.Allowed || access.DeniedBecause == "" {
			t.Errorf("expected access to be denied after expiry, got %+v", access)
		}
		want := []string{
			model.NotificationSubscriptionActivated,
			model.NotificationSubscriptionCancelled,
			model.NotificationSubscriptionGracePeriod,
			model.NotificationSubscriptionExpired,
		}
		got := f.effects.notifications()
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("expected notifications %v, got %v", want, got)
		}
	})

	t.Run("should not renew a cancelled free row", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		free, _ := f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		if _, err := f.uc.CancelSubscription(ctx, "user-1"); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		f.clock.Set(free.EndDate.Add(time.Hour))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.Renewed.Processed != 0 || report.GracePeriod.Processed != 1 {
			t.Errorf("expected grace instead of renewal, got %+v / %+v", report.Renewed, report.GracePeriod)
		}
	})
}

func TestSubscriptionUseCase_FreemiumRenewal(t *testing.T) {
	ctx := context.Background()

	t.Run("should extend the period from the old end date and reset counters", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		free, err := f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if _, err := f.meter.ConsumeFeature(ctx, usecase.ConsumeRequest{UserID: "user-1", FeatureID: "resume_export", Units: 2}); err != nil {
			t.Fatalf("consume failed: %v", err)
		}
		f.clock.Set(free.EndDate.Add(-time.Hour))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.Renewed.Processed != 1 {
			t.Fatalf("expected one renewal, got %+v", report.Renewed)
		}
		row := f.sub(t, free.ID)
		if !row.StartDate.Equal(free.EndDate) || !row.EndDate.Equal(free.EndDate.AddDate(0, 1, 0)) {
			t.Errorf("expected the next period to start at the old end date, got %s - %s", row.StartDate, row.EndDate)
		}
		if row.Status != model.SubscriptionStatusActive || row.Events[len(row.Events)-1].Kind != model.EventRenewal {
			t.Errorf("expected an ACTIVE row with a renewal event, got %+v", row)
		}
		u, _ := f.usage.Find(ctx, repository.NoTX, "user-1", "resume_export")
		if u.UsageCount != 0 {
			t.Errorf("expected counters reset, got %d", u.UsageCount)
		}
		renewals := 0
		for _, txn := range f.txns("user-1") {
			if txn.Metadata["kind"] == "renewal" && txn.Amount.IsZero() {
				renewals++
			}
		}
		if renewals != 1 {
			t.Errorf("expected one zero renewal transaction, got %d", renewals)
		}
	})

	t.Run("should label the renewal in the user's regional currency", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		f.setCountry("user-in", "IN")
		free, err := f.uc.ActivateFreePlan(ctx, "user-in", freePlanID)
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		f.clock.Set(free.EndDate.Add(-time.Hour))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.Renewed.Processed != 1 {
			t.Fatalf("expected one renewal, got %+v", report.Renewed)
		}
		for _, txn := range f.txns("user-in") {
			if txn.Currency != "INR" {
				t.Errorf("expected INR for %v, got %s", txn.Metadata["kind"], txn.Currency)
			}
		}
	})

	t.Run("should catch up on several missed periods", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		free, _ := f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		f.clock.Set(free.EndDate.AddDate(0, 3, 1))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		row := f.sub(t, free.ID)
		if report.Renewed.Processed != 1 || report.GracePeriod.Processed != 0 {
			t.Fatalf("expected a renewal and no grace, got %+v / %+v", report.Renewed, report.GracePeriod)
		}
		if !row.EndDate.After(f.clock.Now()) || row.StartDate.After(f.clock.Now()) {
			t.Errorf("expected the current period to contain now, got %s - %s", row.StartDate, row.EndDate)
		}
	})

	t.Run("should leave rows outside the renewal window alone", func(t *testing.T) {
		f := newFixture(t)
		_, _ = f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		f.clock.Advance(24 * time.Hour)

		report := f.uc.ProcessSubscriptionCycle(ctx)

		if report.Renewed.Processed != 0 {
			t.Errorf("expected no renewals, got %+v", report.Renewed)
		}
	})
}

func TestSubscriptionUseCase_CycleFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("should record a list error and run the remaining steps", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		free, _ := f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		f.subs.ListLapsedFunc = func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
			return nil, errors.New("connection refused")
		}
		f.clock.Set(free.EndDate.Add(-time.Hour))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.GracePeriod.ListError == "" {
			t.Error("expected the grace step to report its list error")
		}
		if report.Renewed.Processed != 1 {
			t.Errorf("expected the renewal step to run, got %+v", report.Renewed)
		}
	})

	t.Run("should count a failing row and keep going", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(t)
		pro, _ := f.uc.ActivatePaidPlan(ctx, f.paid("user-1", proPlanID, "pay_1"))
		f.subs.ListLapsedFunc = func(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
			ghost := pro.Subscription.Clone()
			ghost.ID = "missing"
			return []*model.Subscription{ghost, pro.Subscription}, nil
		}
		f.clock.Set(pro.Subscription.EndDate.Add(time.Hour))

		// --- Act ---
		report := f.uc.ProcessSubscriptionCycle(ctx)

		// --- Assert ---
		if report.GracePeriod.Failed != 1 || report.GracePeriod.Processed != 1 {
			t.Errorf("expected one failure and one success, got %+v", report.GracePeriod)
		}
	})

	t.Run("should count subscriptions by status", func(t *testing.T) {
		f := newFixture(t)
		_, _ = f.uc.ActivateFreePlan(ctx, "user-1", freePlanID)
		_, _ = f.uc.ActivatePaidPlan(ctx, f.paid("user-2", proPlanID, "pay_2"))

		counts, err := f.uc.CountByStatus(ctx)

		if err != nil || counts[model.SubscriptionStatusActive] != 2 {
			t.Errorf("expected two ACTIVE rows, got %v (%v)", counts, err)
		}
	})
}
