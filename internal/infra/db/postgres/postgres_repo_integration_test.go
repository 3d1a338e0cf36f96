//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

func seedPlan(t *testing.T, ctx context.Context, id string, price string) *model.Plan {
	t.Helper()
	plan, err := model.NewPlan(id, id, model.BillingCycleMonthly, decimal.RequireFromString(price), price == "0")
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}
	plan.Pricing = []model.PlanPricing{{Region: model.RegionIndia, Currency: "INR", Price: decimal.RequireFromString("499")}}
	plan.Features = []model.PlanFeature{{FeatureID: "resume_export", LimitType: model.LimitCount, LimitValue: 3, ResetFrequency: model.ResetMonthly, Enabled: true}}
	if err := NewPostgresPlanRepo(testPool).Save(ctx, nil, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	return plan
}

func TestPlanRepo_Integration(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgresPlanRepo(testPool)

	t.Run("should save a plan with its pricing and features", func(t *testing.T) {
		cleanup(t)
		seedPlan(t, ctx, "pro", "9.99")

		got, err := repo.FindByID(ctx, nil, "pro")
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if !got.BasePrice.Equal(decimal.RequireFromString("9.99")) {
			t.Errorf("expected base price 9.99, got %s", got.BasePrice)
		}
		if len(got.Pricing) != 1 || len(got.Features) != 1 {
			t.Fatalf("expected one pricing and one feature row, got %d and %d", len(got.Pricing), len(got.Features))
		}
		if _, err := repo.FindByID(ctx, nil, "absent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSubscriptionRepo_Integration(t *testing.T) {
	ctx := context.Background()
	repo := NewSubscriptionRepo(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("should round trip a subscription with events and pending fields", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, ctx, "pro", "9.99")
		sub, _ := model.NewSubscription("user-1", plan, model.GatewayNone, now)
		due := sub.EndDate
		sub.PendingPlanChangeTo = "pro"
		sub.PendingPlanChangeDate = &due
		sub.PendingPlanChangeType = model.PlanChangeDowngrade
		sub.Record(model.NewStateChangeEvent(now, model.StateActive, model.StateActivePendingDowngrade, "test"))

		if err := repo.Insert(ctx, nil, sub); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		got, err := repo.FindByID(ctx, nil, sub.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if got.State() != model.StateActivePendingDowngrade || len(got.Events) != 1 {
			t.Errorf("unexpected row: state=%s events=%d", got.State(), len(got.Events))
		}

		due, err = time.Parse(time.RFC3339, "2000-01-01T00:00:00Z")
		if err != nil {
			t.Fatal(err)
		}
		got.PendingPlanChangeDate = &due
		if err := repo.Update(ctx, nil, got); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		list, err := repo.ListDueScheduledChanges(ctx, nil, now)
		if err != nil || len(list) != 1 {
			t.Fatalf("expected one due change, got %d (%v)", len(list), err)
		}
	})

	t.Run("should report users with more than one ACTIVE row", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, ctx, "pro", "9.99")
		for i := 0; i < 2; i++ {
			sub, _ := model.NewSubscription("user-dup", plan, model.GatewayNone, now)
			if err := repo.Insert(ctx, nil, sub); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
		}

		users, err := repo.ListUsersWithMultipleActive(ctx, nil)
		if err != nil {
			t.Fatalf("ListUsersWithMultipleActive failed: %v", err)
		}
		if len(users) != 1 || users[0] != "user-dup" {
			t.Errorf("expected user-dup, got %v", users)
		}
	})
}

func TestPaymentRepo_Integration(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepo(testPool)

	t.Run("should insert a gateway transaction id only once", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, ctx, "pro", "9.99")
		sub, _ := model.NewSubscription("user-1", plan, model.GatewayRazorpay, time.Now().UTC())
		if err := NewSubscriptionRepo(testPool).Insert(ctx, nil, sub); err != nil {
			t.Fatalf("Insert subscription failed: %v", err)
		}

		first, _ := model.NewPaymentTransaction("user-1", sub.ID, decimal.RequireFromString("9.99"), "USD", model.GatewayRazorpay, "pay_1", model.PaymentStatusCompleted, time.Now().UTC())
		second, _ := model.NewPaymentTransaction("user-1", sub.ID, decimal.RequireFromString("9.99"), "USD", model.GatewayRazorpay, "pay_1", model.PaymentStatusCompleted, time.Now().UTC())

		ok1, err1 := repo.Insert(ctx, nil, first)
		ok2, err2 := repo.Insert(ctx, nil, second)

		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v %v", err1, err2)
		}
		if !ok1 || ok2 {
			t.Errorf("expected first insert to win and second to be skipped, got %v %v", ok1, ok2)
		}
		got, err := repo.FindByGatewayTransactionID(ctx, nil, "pay_1")
		if err != nil || got.ID != first.ID || !got.Amount.Equal(first.Amount) {
			t.Errorf("unexpected row %+v (%v)", got, err)
		}
	})
}

func TestAdvisoryLocker_Integration(t *testing.T) {
	ctx := context.Background()
	tm := NewTxManager(testPool)
	locker := NewAdvisoryLocker()

	t.Run("should serialize two transactions for the same user", func(t *testing.T) {
		var (
			mu    sync.Mutex
			order []string
			wg    sync.WaitGroup
		)
		hold := make(chan struct{})
		locked := make(chan struct{})

		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
				if err := locker.LockUser(ctx, tx, "user-1"); err != nil {
					return err
				}
				close(locked)
				<-hold
				mu.Lock()
				order = append(order, "first")
				mu.Unlock()
				return nil
			})
		}()
		<-locked
		go func() {
			defer wg.Done()
			_ = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
				if err := locker.LockUser(ctx, tx, "user-1"); err != nil {
					return err
				}
				mu.Lock()
				order = append(order, "second")
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(100 * time.Millisecond)
		close(hold)
		wg.Wait()

		if len(order) != 2 || order[0] != "first" {
			t.Errorf("expected first then second, got %v", order)
		}
	})

	t.Run("should refuse to lock outside a transaction", func(t *testing.T) {
		if err := locker.LockUser(ctx, nil, "user-1"); !errors.Is(err, domain.ErrInvalidExecContext) {
			t.Errorf("expected ErrInvalidExecContext, got %v", err)
		}
	})
}
