// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase owns the subscription state machine.
type SubscriptionUseCase interface {
	GetActiveSubscription(ctx context.Context, userID string) (*model.SubscriptionDetails, error)
	ListSubscriptionHistory(ctx context.Context, userID string) ([]*model.Subscription, error)

	AssociateUserWithPlan(ctx context.Context, userID, planID string) (*AssociationResult, error)
	ActivateFreePlan(ctx context.Context, userID, planID string) (*model.Subscription, error)
	CalculateProration(ctx context.Context, userID, newPlanID string) (*model.PricingDecision, error)

	// UpgradeToPaidPlan is the checkout entry point; it behaves like ProcessUpgrade.
	UpgradeToPaidPlan(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error)
	ProcessUpgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error)
	ActivatePaidPlan(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error)

	ScheduleDowngrade(ctx context.Context, userID, newPlanID string) (*DowngradeResult, error)
	CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error)

	// Periodic reconciliation.
	ProcessScheduledChanges(ctx context.Context) ScheduledChangeStats
	ProcessSubscriptionCycle(ctx context.Context) CycleReport
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

// LifecycleOptions tunes timing. Zero values fall back to defaults.
type LifecycleOptions struct {
	GracePeriod    time.Duration
	RenewalWindow  time.Duration
	GatewayTimeout time.Duration
	Now            func() time.Time
}

const (
	DefaultGracePeriod    = 7 * 24 * time.Hour
	DefaultRenewalWindow  = 24 * time.Hour
	DefaultGatewayTimeout = 15 * time.Second
)

func (o LifecycleOptions) withDefaults() LifecycleOptions {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.RenewalWindow <= 0 {
		o.RenewalWindow = DefaultRenewalWindow
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = DefaultGatewayTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Repositories groups the stores the engine writes through.
type Repositories struct {
	Subscriptions repository.SubscriptionRepository
	Plans         repository.PlanRepository
	Payments      repository.PaymentTransactionRepository
	Usage         repository.FeatureUsageRepository
	Billing       repository.BillingDetailsRepository
	Selections    repository.PlanSelectionRepository
	Locker        repository.UserLocker
}

type AssociationResult struct {
	Subscription   *model.Subscription         `json:"subscription,omitempty"`
	Selection      *model.PendingPlanSelection `json:"selection,omitempty"`
	PendingPayment bool                        `json:"pending_payment"`
}

type UpgradeRequest struct {
	UserID                string               `json:"user_id" validate:"required"`
	NewPlanID             string               `json:"plan_id" validate:"required"`
	PaymentID             string               `json:"payment_id" validate:"required"`
	Gateway               model.PaymentGateway `json:"gateway"`
	Signature             string               `json:"signature,omitempty"`
	GatewaySubscriptionID string               `json:"gateway_subscription_id,omitempty"`
	OrderID               string               `json:"order_id,omitempty"`
	// IsUpgrade overrides the price based classification used for messaging.
	IsUpgrade *bool `json:"is_upgrade,omitempty"`
}

func (r UpgradeRequest) validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	case strings.TrimSpace(r.NewPlanID) == "":
		return fmt.Errorf("%w: plan id is required", domain.ErrInvalidArgument)
	case strings.TrimSpace(r.PaymentID) == "":
		return fmt.Errorf("%w: payment id is required", domain.ErrInvalidArgument)
	}
	return nil
}

// reference is what the new row stores as its remote handle.
func (r UpgradeRequest) reference() string {
	if r.GatewaySubscriptionID != "" {
		return r.GatewaySubscriptionID
	}
	return r.PaymentID
}

type UpgradeResult struct {
	Subscription          *model.Subscription       `json:"subscription"`
	Previous              *model.Subscription       `json:"previous,omitempty"`
	Transaction           *model.PaymentTransaction `json:"transaction"`
	Pricing               *model.PricingDecision    `json:"pricing,omitempty"`
	IsUpgrade             bool                      `json:"is_upgrade"`
	ConvertedFromFreemium bool                      `json:"converted_from_freemium"`
	// Duplicate is set when the payment id was already processed.
	Duplicate bool `json:"duplicate"`
}

type DowngradeResult struct {
	Subscription  *model.Subscription `json:"subscription"`
	TargetPlanID  string              `json:"target_plan_id"`
	EffectiveDate time.Time           `json:"effective_date"`
	Message       string              `json:"message"`
}

// errDuplicatePayment aborts a transaction that lost an insert race on the
// gateway transaction id.
var errDuplicatePayment = errors.New("payment already recorded")

type subscriptionUC struct {
	repos    Repositories
	gateways adapter.GatewayRegistry
	effects  adapter.EffectDispatcher
	tm       repository.TransactionManager
	opts     LifecycleOptions
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(repos Repositories, gateways adapter.GatewayRegistry, effects adapter.EffectDispatcher, tm repository.TransactionManager, opts LifecycleOptions, logger *zerolog.Logger) *subscriptionUC {
	subLog := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		repos:    repos,
		gateways: gateways,
		effects:  effects,
		tm:       tm,
		opts:     opts.withDefaults(),
		log:      &subLog,
	}
}

func (uc *subscriptionUC) now() time.Time { return uc.opts.Now().UTC() }

func (uc *subscriptionUC) GetActiveSubscription(ctx context.Context, userID string) (*model.SubscriptionDetails, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	sub, err := uc.activeFor(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	plan, err := uc.loadPlan(ctx, repository.NoTX, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return &model.SubscriptionDetails{
		Subscription:    sub,
		PlanName:        plan.Name,
		PlanDescription: plan.Description,
		BillingCycle:    plan.BillingCycle,
		IsFreemium:      plan.IsFreemium,
		State:           sub.State(),
	}, nil
}

func (uc *subscriptionUC) ListSubscriptionHistory(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return uc.repos.Subscriptions.ListByUser(ctx, repository.NoTX, userID)
}

// AssociateUserWithPlan activates freemium plans right away and records a
// pending payment intent for everything else.
func (uc *subscriptionUC) AssociateUserWithPlan(ctx context.Context, userID, planID string) (*AssociationResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	plan, err := uc.loadPlan(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanInactive, plan.ID)
	}
	if plan.IsFreemium {
		sub, err := uc.ActivateFreePlan(ctx, userID, planID)
		if err != nil {
			return nil, err
		}
		return &AssociationResult{Subscription: sub}, nil
	}

	sel := &model.PendingPlanSelection{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    model.SelectionPendingPayment,
		UpdatedAt: uc.now(),
	}
	if err := uc.repos.Selections.Upsert(ctx, repository.NoTX, sel); err != nil {
		return nil, fmt.Errorf("record plan selection: %w", err)
	}
	uc.log.Info().Str("user_id", userID).Str("plan_id", plan.ID).Msg("paid plan selected, awaiting payment")
	return &AssociationResult{Selection: sel, PendingPayment: true}, nil
}

func (uc *subscriptionUC) ActivateFreePlan(ctx context.Context, userID, planID string) (*model.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	plan, err := uc.loadPlan(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanInactive, plan.ID)
	}
	if !plan.IsFree() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFree, plan.ID)
	}
	region := uc.regionFor(ctx, userID)

	var (
		sub     *model.Subscription
		effects []model.Effect
	)
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.repos.Locker.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		now := uc.now()

		current, err := uc.activeFor(ctx, tx, userID)
		if err != nil && !errors.Is(err, domain.ErrNoActiveSubscription) {
			return err
		}
		var superseded *model.Subscription
		if current != nil && current.PlanID != plan.ID {
			currentPlan, err := uc.loadPlan(ctx, tx, current.PlanID)
			if err != nil {
				return err
			}
			if !currentPlan.IsFree() {
				return fmt.Errorf("%w: schedule a downgrade instead", domain.ErrPaidSubscriptionActive)
			}
			superseded = current
		}

		existing := current
		if existing == nil || existing.PlanID != plan.ID {
			existing, err = uc.repos.Subscriptions.FindLatestByUserAndPlan(ctx, tx, userID, plan.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		event := model.FreemiumActivationEvent{PlanID: plan.ID}
		if superseded != nil {
			event.SupersededID = superseded.ID
		}
		if existing != nil {
			if err := existing.TransitionTo(model.StateActive); err != nil {
				return err
			}
			existing.StartDate = now
			existing.EndDate = plan.BillingCycle.Advance(now)
			existing.AutoRenew = true
			existing.PaymentGateway = model.GatewayNone
			existing.PaymentReference = ""
			existing.CancelDate = nil
			existing.GracePeriodEnd = nil
			existing.ClearPendingChange()
			existing.UpdatedAt = now
			event.Reactivated = true
			existing.Record(model.NewFreemiumActivationEvent(now, event))
			sub = existing
		} else {
			sub, err = model.NewSubscription(userID, plan, model.GatewayNone, now)
			if err != nil {
				return err
			}
			sub.Record(model.NewFreemiumActivationEvent(now, event))
		}

		// The superseded row is closed before the new one becomes visible.
		if superseded != nil {
			if err := uc.closeRow(ctx, tx, superseded, now, model.NewFreemiumActivationEvent(now, model.FreemiumActivationEvent{
				PlanID:     superseded.PlanID,
				ReplacedBy: sub.ID,
			})); err != nil {
				return err
			}
		}
		if existing != nil {
			err = uc.repos.Subscriptions.Update(ctx, tx, sub)
		} else {
			err = uc.repos.Subscriptions.Insert(ctx, tx, sub)
		}
		if err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}

		if _, err := initFeatureUsage(ctx, tx, uc.repos.Usage, userID, plan, now); err != nil {
			return err
		}

		txn, err := model.NewPaymentTransaction(userID, sub.ID, decimal.Zero, plan.RegionalCurrency(region), model.GatewayNone,
			model.SyntheticTransactionID("free", now), model.PaymentStatusCompleted, now)
		if err != nil {
			return err
		}
		txn.Metadata["kind"] = "freemium_activation"
		txn.Metadata["plan_id"] = plan.ID
		if _, err := uc.repos.Payments.Insert(ctx, tx, txn); err != nil {
			return fmt.Errorf("record free activation: %w", err)
		}
		if err := uc.clearSelection(ctx, tx, userID); err != nil {
			return err
		}

		effects = activationEffects(sub, plan, event.Reactivated, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("user_id", userID).Str("plan_id", plan.ID).Str("subscription_id", sub.ID).Msg("free plan activated")
	uc.effects.Dispatch(ctx, effects)
	return sub, nil
}

// CalculateProration never prorates: the amount due is the full new price
// and the credit is always zero.
func (uc *subscriptionUC) CalculateProration(ctx context.Context, userID, newPlanID string) (*model.PricingDecision, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	newPlan, err := uc.loadPlan(ctx, repository.NoTX, newPlanID)
	if err != nil {
		return nil, err
	}
	current, err := uc.activeFor(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNoActiveSubscription) {
		return nil, err
	}
	var currentPlan *model.Plan
	if current != nil {
		if currentPlan, err = uc.loadPlan(ctx, repository.NoTX, current.PlanID); err != nil {
			return nil, err
		}
	}
	return priceDecision(userID, uc.regionFor(ctx, userID), currentPlan, newPlan)
}

// priceDecision compares both plans in a single currency. NewPrice and
// AmountDue are what the user is charged in that currency.
func priceDecision(userID string, region model.Region, current, next *model.Plan) (*model.PricingDecision, error) {
	d := &model.PricingDecision{
		UserID:       userID,
		NewPlanID:    next.ID,
		Region:       region,
		Credit:       decimal.Zero,
		CurrentPrice: decimal.Zero,
	}
	var np model.Price
	if current == nil {
		np = next.PriceFor(region)
		d.IsUpgrade = true
		d.NoCurrentSubscription = true
	} else {
		cp, p, err := model.ComparablePrices(region, current, next)
		if err != nil {
			return nil, err
		}
		np = p
		d.CurrentPlanID = current.ID
		d.CurrentPrice = cp.Amount
		d.IsUpgrade = np.Amount.GreaterThan(cp.Amount)
	}
	// Prices compare in one currency but the charge is the regional checkout price.
	due := next.PriceFor(region)
	d.NewPrice = np.Amount
	d.Currency = np.Currency
	d.AmountDue = due.Amount
	d.DueCurrency = due.Currency
	return d, nil
}

func (uc *subscriptionUC) UpgradeToPaidPlan(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error) {
	return uc.ProcessUpgrade(ctx, req)
}

// ProcessUpgrade moves a user onto a paid plan after verifying the payment.
// Users without an active subscription go through ActivatePaidPlan.
func (uc *subscriptionUC) ProcessUpgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if res, err := uc.findProcessedPayment(ctx, repository.NoTX, req.UserID, req.PaymentID); err != nil || res != nil {
		return res, err
	}
	current, err := uc.activeFor(ctx, repository.NoTX, req.UserID)
	if errors.Is(err, domain.ErrNoActiveSubscription) {
		return uc.ActivatePaidPlan(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return uc.commitPaid(ctx, req, current)
}

// ActivatePaidPlan creates the first paid subscription for a user.
func (uc *subscriptionUC) ActivatePaidPlan(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if res, err := uc.findProcessedPayment(ctx, repository.NoTX, req.UserID, req.PaymentID); err != nil || res != nil {
		return res, err
	}
	return uc.commitPaid(ctx, req, nil)
}

func (uc *subscriptionUC) commitPaid(ctx context.Context, req UpgradeRequest, current *model.Subscription) (*UpgradeResult, error) {
	if req.Gateway == "" {
		req.Gateway = model.GatewayRazorpay
	}
	log := uc.log.With().Str("user_id", req.UserID).Str("plan_id", req.NewPlanID).Str("payment_id", req.PaymentID).Logger()

	newPlan, err := uc.loadPlan(ctx, repository.NoTX, req.NewPlanID)
	if err != nil {
		return nil, err
	}
	if !newPlan.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanInactive, newPlan.ID)
	}
	var currentPlan *model.Plan
	if current != nil {
		if currentPlan, err = uc.loadPlan(ctx, repository.NoTX, current.PlanID); err != nil {
			return nil, err
		}
	}
	region := uc.regionFor(ctx, req.UserID)
	quote, err := priceDecision(req.UserID, region, currentPlan, newPlan)
	if err != nil {
		return nil, err
	}

	gw, err := uc.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}
	if err := uc.verifyPayment(ctx, gw, req, model.Price{Amount: quote.AmountDue, Currency: quote.DueCurrency}); err != nil {
		log.Warn().Err(err).Msg("payment not verified, nothing changed")
		return nil, err
	}

	// The old paid period is forfeited; the remote subscription stops now.
	if current != nil && current.IsGatewayBacked() && current.PaymentReference != req.reference() {
		uc.cancelRemote(ctx, current, false)
	}

	var (
		res       *UpgradeResult
		effects   []model.Effect
		unplanned *model.Subscription
	)
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.repos.Locker.LockUser(ctx, tx, req.UserID); err != nil {
			return err
		}
		dup, err := uc.findProcessedPayment(ctx, tx, req.UserID, req.PaymentID)
		if err != nil {
			return err
		}
		if dup != nil {
			res = dup
			return nil
		}
		now := uc.now()

		live, err := uc.activeFor(ctx, tx, req.UserID)
		if err != nil && !errors.Is(err, domain.ErrNoActiveSubscription) {
			return err
		}
		livePlan := currentPlan
		if live != nil && (current == nil || live.ID != current.ID) {
			if livePlan, err = uc.loadPlan(ctx, tx, live.PlanID); err != nil {
				return err
			}
			if live.IsGatewayBacked() && live.PaymentReference != req.reference() {
				unplanned = live.Clone()
			}
		}
		if live == nil {
			livePlan = nil
		}
		decision, err := priceDecision(req.UserID, region, livePlan, newPlan)
		if err != nil {
			return err
		}
		isUpgrade := decision.IsUpgrade
		if req.IsUpgrade != nil {
			isUpgrade = *req.IsUpgrade
		}
		converted := livePlan != nil && livePlan.IsFree()

		sub, err := model.NewSubscription(req.UserID, newPlan, req.Gateway, now)
		if err != nil {
			return err
		}
		sub.PaymentReference = req.reference()
		upgrade := model.UpgradeEvent{
			ToPlanID:  newPlan.ID,
			PaymentID: req.PaymentID,
			Amount:    decision.AmountDue.StringFixed(2),
			Currency:  decision.DueCurrency,
			IsUpgrade: isUpgrade,
		}
		if live != nil {
			sub.PreviousPlanID = live.PlanID
			sub.UpgradeDate = &now
			upgrade.FromPlanID = live.PlanID
			upgrade.Replaces = live.ID

			var closing model.LifecycleEvent
			if converted {
				closing = model.NewFreemiumConversionEvent(now, model.FreemiumConversionEvent{
					ReplacedBy:      sub.ID,
					NewPlanID:       newPlan.ID,
					ConvertedToPaid: true,
				})
			} else {
				old := upgrade
				old.Replaces = ""
				old.ReplacedBy = sub.ID
				closing = model.NewUpgradeEvent(now, old)
			}
			if err := uc.closeRow(ctx, tx, live, now, closing); err != nil {
				return err
			}
		}
		sub.Record(model.NewUpgradeEvent(now, upgrade))
		if err := uc.repos.Subscriptions.Insert(ctx, tx, sub); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}

		txn, err := model.NewPaymentTransaction(req.UserID, sub.ID, decision.AmountDue, decision.DueCurrency, req.Gateway,
			req.PaymentID, model.PaymentStatusCompleted, now)
		if err != nil {
			return err
		}
		txn.Metadata["plan_id"] = newPlan.ID
		txn.Metadata["kind"] = "first_paid"
		if live != nil {
			txn.Metadata["kind"] = "upgrade"
			txn.Metadata["previous_plan_id"] = live.PlanID
		}
		if req.GatewaySubscriptionID != "" {
			txn.Metadata["gateway_subscription_id"] = req.GatewaySubscriptionID
		}
		inserted, err := uc.repos.Payments.Insert(ctx, tx, txn)
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		if !inserted {
			return errDuplicatePayment
		}
		if err := uc.clearSelection(ctx, tx, req.UserID); err != nil {
			return err
		}

		res = &UpgradeResult{
			Subscription:          sub,
			Previous:              live,
			Transaction:           txn,
			Pricing:               decision,
			IsUpgrade:             isUpgrade,
			ConvertedFromFreemium: converted,
		}
		effects = paidEffects(res, newPlan)
		return nil
	})
	if errors.Is(err, errDuplicatePayment) {
		log.Info().Msg("payment recorded concurrently, returning existing subscription")
		return uc.findProcessedPayment(ctx, repository.NoTX, req.UserID, req.PaymentID)
	}
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		log.Info().Msg("payment already processed")
		return res, nil
	}
	if unplanned != nil {
		uc.cancelRemote(ctx, unplanned, false)
	}
	log.Info().Str("subscription_id", res.Subscription.ID).Bool("is_upgrade", res.IsUpgrade).
		Bool("converted_from_freemium", res.ConvertedFromFreemium).Msg("paid subscription activated")
	uc.effects.Dispatch(ctx, effects)
	return res, nil
}

// ScheduleDowngrade marks the current row to switch plans at its end date.
func (uc *subscriptionUC) ScheduleDowngrade(ctx context.Context, userID, newPlanID string) (*DowngradeResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	target, err := uc.loadPlan(ctx, repository.NoTX, newPlanID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanInactive, target.ID)
	}

	var (
		res      *DowngradeResult
		effects  []model.Effect
		snapshot *model.Subscription
	)
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.repos.Locker.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		current, err := uc.activeFor(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current.PlanID == target.ID {
			return fmt.Errorf("%w: already on plan %s", domain.ErrInvalidDowngrade, target.ID)
		}
		currentPlan, err := uc.loadPlan(ctx, tx, current.PlanID)
		if err != nil {
			return err
		}
		decision, err := priceDecision(userID, uc.regionFor(ctx, userID), currentPlan, target)
		if err != nil {
			return err
		}
		if !decision.NewPrice.LessThan(decision.CurrentPrice) && !target.IsFreemium {
			return fmt.Errorf("%w: %s is not cheaper than %s", domain.ErrInvalidDowngrade, target.ID, currentPlan.ID)
		}
		if err := current.Ensure(model.StateActivePendingDowngrade); err != nil {
			return err
		}

		now := uc.now()
		effective := current.EndDate
		current.PendingPlanChangeTo = target.ID
		current.PendingPlanChangeDate = &effective
		current.PendingPlanChangeType = model.PlanChangeDowngrade
		current.UpdatedAt = now
		current.Record(model.NewScheduledDowngradeEvent(now, model.ScheduledDowngradeEvent{
			FromPlanID:  current.PlanID,
			ToPlanID:    target.ID,
			EffectiveAt: effective,
		}))
		if err := uc.repos.Subscriptions.Update(ctx, tx, current); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		res = &DowngradeResult{
			Subscription:  current,
			TargetPlanID:  target.ID,
			EffectiveDate: effective,
			Message: fmt.Sprintf("Your plan will change from %s to %s on %s. You keep %s features until then.",
				currentPlan.Name, target.Name, effective.Format("January 2, 2006"), currentPlan.Name),
		}
		snapshot = current.Clone()
		effects = []model.Effect{
			model.NotifyUser(model.Notification{
				RecipientID: userID,
				Type:        model.NotificationSubscriptionDowngradeScheduled,
				Category:    model.CategorySubscription,
				Data: map[string]string{
					"subscription_id": current.ID,
					"from_plan_id":    current.PlanID,
					"to_plan_id":      target.ID,
					"effective_date":  effective.Format(time.RFC3339),
					"message":         res.Message,
				},
				CreatedAt: now,
			}),
			auditEffect(userID, current.ID, "downgrade_scheduled", now, map[string]string{"to_plan_id": target.ID}),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Paid periods run out on the gateway side instead of renewing.
	if snapshot.IsGatewayBacked() {
		uc.cancelRemote(ctx, snapshot, true)
	}
	uc.log.Info().Str("user_id", userID).Str("to_plan_id", target.ID).Time("effective", res.EffectiveDate).Msg("downgrade scheduled")
	uc.effects.Dispatch(ctx, effects)
	return res, nil
}

// CancelSubscription stops auto-renewal. The row stays ACTIVE until its end
// date and the sweep expires it from there.
func (uc *subscriptionUC) CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	current, err := uc.activeFor(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	var gatewayErr error
	if current.IsGatewayBacked() {
		gatewayErr = uc.cancelRemote(ctx, current, true)
	}

	var (
		sub     *model.Subscription
		effects []model.Effect
	)
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.repos.Locker.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		live, err := uc.activeFor(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := uc.now()
		if err := live.Ensure(live.State()); err != nil {
			return err
		}
		live.AutoRenew = false
		live.CancelDate = &now
		live.UpdatedAt = now
		event := model.CancellationEvent{AtCycleEnd: true, EffectiveAt: live.EndDate}
		if gatewayErr != nil {
			event.GatewayError = gatewayErr.Error()
		}
		live.Record(model.NewCancellationEvent(now, event))
		if err := uc.repos.Subscriptions.Update(ctx, tx, live); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		sub = live
		effects = []model.Effect{
			model.NotifyUser(model.Notification{
				RecipientID: userID,
				Type:        model.NotificationSubscriptionCancelled,
				Category:    model.CategorySubscription,
				Data: map[string]string{
					"subscription_id": live.ID,
					"plan_id":         live.PlanID,
					"access_until":    live.EndDate.Format(time.RFC3339),
				},
				CreatedAt: now,
			}),
			model.NotifyAdmins(model.AdminEvent{
				Type:           "subscription_cancelled",
				UserID:         userID,
				PlanID:         live.PlanID,
				SubscriptionID: live.ID,
				Message:        fmt.Sprintf("User %s cancelled plan %s (access until %s)", userID, live.PlanID, live.EndDate.Format("2006-01-02")),
			}),
			auditEffect(userID, live.ID, "cancelled", now, nil),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Msg("subscription cancelled at cycle end")
	uc.effects.Dispatch(ctx, effects)
	return sub, nil
}

func (uc *subscriptionUC) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	return uc.repos.Subscriptions.CountByStatus(ctx, repository.NoTX)
}

// --- helpers ---

func (uc *subscriptionUC) loadPlan(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: plan id is required", domain.ErrInvalidArgument)
	}
	plan, err := uc.repos.Plans.FindByID(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && plan.IsZero()) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}
	return plan, nil
}

// activeFor returns the single ACTIVE row. Two rows is an integrity violation
// that needs manual reconciliation.
func (uc *subscriptionUC) activeFor(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	subs, err := uc.repos.Subscriptions.ListActiveByUser(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load active subscription: %w", err)
	}
	switch len(subs) {
	case 0:
		return nil, domain.ErrNoActiveSubscription
	case 1:
		return subs[0], nil
	default:
		uc.log.Error().Str("user_id", userID).Int("active_rows", len(subs)).Msg("integrity violation: multiple active subscriptions")
		return nil, fmt.Errorf("%w: user %s has %d", domain.ErrMultipleActiveSubscriptions, userID, len(subs))
	}
}

func (uc *subscriptionUC) regionFor(ctx context.Context, userID string) model.Region {
	details, err := uc.repos.Billing.FindByUserID(ctx, repository.NoTX, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			uc.log.Warn().Err(err).Str("user_id", userID).Msg("billing details unavailable, using global pricing")
		}
		return model.RegionGlobal
	}
	return details.Region()
}

// findProcessedPayment returns the outcome of an already recorded payment id.
func (uc *subscriptionUC) findProcessedPayment(ctx context.Context, tx repository.Tx, userID, paymentID string) (*UpgradeResult, error) {
	txn, err := uc.repos.Payments.FindByGatewayTransactionID(ctx, tx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check payment %s: %w", paymentID, err)
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("%w: payment %s belongs to another user", domain.ErrPaymentVerificationFailed, paymentID)
	}
	sub, err := uc.repos.Subscriptions.FindByID(ctx, tx, txn.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("load subscription for payment %s: %w", paymentID, err)
	}
	return &UpgradeResult{Subscription: sub, Transaction: txn, Duplicate: true}, nil
}

// verifyPayment asks the gateway to confirm the payment covers due.
func (uc *subscriptionUC) verifyPayment(ctx context.Context, gw adapter.PaymentGateway, req UpgradeRequest, due model.Price) error {
	vctx, cancel := context.WithTimeout(ctx, uc.opts.GatewayTimeout)
	defer cancel()
	ok, err := gw.VerifyPayment(vctx, adapter.VerifyRequest{
		PaymentID:             req.PaymentID,
		Signature:             req.Signature,
		GatewaySubscriptionID: req.GatewaySubscriptionID,
		OrderID:               req.OrderID,
		Amount:                due.Amount,
		Currency:              due.Currency,
	})
	if err != nil {
		return fmt.Errorf("%w: verify %s: %v", domain.ErrGatewayUnavailable, req.PaymentID, err)
	}
	if !ok {
		return fmt.Errorf("%w: payment %s", domain.ErrPaymentVerificationFailed, req.PaymentID)
	}
	return nil
}

// cancelRemote asks the gateway to stop a remote subscription. Failures are
// logged and returned for the audit trail; they never block local changes.
func (uc *subscriptionUC) cancelRemote(ctx context.Context, sub *model.Subscription, atCycleEnd bool) error {
	log := uc.log.With().Str("subscription_id", sub.ID).Str("reference", sub.PaymentReference).Bool("at_cycle_end", atCycleEnd).Logger()
	gw, err := uc.gateways.Get(sub.PaymentGateway)
	if err != nil {
		log.Warn().Err(err).Msg("no gateway to cancel remote subscription")
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, uc.opts.GatewayTimeout)
	defer cancel()
	if err := gw.CancelSubscription(cctx, sub.PaymentReference, adapter.CancelOptions{AtCycleEnd: atCycleEnd}); err != nil {
		if errors.Is(err, adapter.ErrNoBillingCycle) {
			log.Info().Err(err).Msg("remote subscription has no billing cycle to cancel")
		} else {
			log.Warn().Err(err).Msg("remote cancellation failed, continuing with local state")
		}
		return err
	}
	return nil
}

// closeRow cancels a superseded row and clears any pending change on it.
func (uc *subscriptionUC) closeRow(ctx context.Context, tx repository.Tx, sub *model.Subscription, now time.Time, event model.LifecycleEvent) error {
	if err := sub.TransitionTo(model.StateCancelled); err != nil {
		return err
	}
	sub.AutoRenew = false
	sub.CancelDate = &now
	sub.ClearPendingChange()
	sub.UpdatedAt = now
	sub.Record(event)
	if err := uc.repos.Subscriptions.Update(ctx, tx, sub); err != nil {
		return fmt.Errorf("close subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (uc *subscriptionUC) clearSelection(ctx context.Context, tx repository.Tx, userID string) error {
	if err := uc.repos.Selections.Delete(ctx, tx, userID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("clear plan selection: %w", err)
	}
	return nil
}

// initFeatureUsage creates zeroed counters for the plan's COUNT features
// that the user does not have yet.
func initFeatureUsage(ctx context.Context, tx repository.Tx, usage repository.FeatureUsageRepository, userID string, plan *model.Plan, now time.Time) (int, error) {
	created := 0
	for _, f := range plan.CountFeatures() {
		inserted, err := usage.InsertIfMissing(ctx, tx, model.NewFeatureUsage(userID, f, now))
		if err != nil {
			return created, fmt.Errorf("init usage for %s: %w", f.FeatureID, err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

func auditEffect(userID, subscriptionID, action string, now time.Time, details map[string]string) model.Effect {
	return model.AuditEffect(model.AuditEntry{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Action:         action,
		Details:        details,
		CreatedAt:      now,
	})
}

func activationEffects(sub *model.Subscription, plan *model.Plan, reactivated bool, now time.Time) []model.Effect {
	return []model.Effect{
		model.NotifyUser(model.Notification{
			RecipientID: sub.UserID,
			Type:        model.NotificationSubscriptionActivated,
			Category:    model.CategorySubscription,
			Data: map[string]string{
				"subscription_id": sub.ID,
				"plan_id":         plan.ID,
				"plan_name":       plan.Name,
				"end_date":        sub.EndDate.Format(time.RFC3339),
				"message":         fmt.Sprintf("Your %s plan is active.", plan.Name),
			},
			CreatedAt: now,
		}),
		model.NotifyAdmins(model.AdminEvent{
			Type:           "new_subscription",
			UserID:         sub.UserID,
			PlanID:         plan.ID,
			SubscriptionID: sub.ID,
			Amount:         "0.00",
			Message:        fmt.Sprintf("User %s activated free plan %s", sub.UserID, plan.Name),
		}),
		auditEffect(sub.UserID, sub.ID, "freemium_activated", now, map[string]string{
			"plan_id":     plan.ID,
			"reactivated": fmt.Sprint(reactivated),
		}),
	}
}

func paidEffects(res *UpgradeResult, plan *model.Plan) []model.Effect {
	sub := res.Subscription
	amount := res.Transaction.Amount.StringFixed(2)
	kind := model.NotificationSubscriptionActivated
	message := fmt.Sprintf("Welcome to %s! Your subscription is active.", plan.Name)
	switch {
	case res.ConvertedFromFreemium:
		message = fmt.Sprintf("You upgraded from the free plan to %s. Enjoy the full feature set.", plan.Name)
	case res.Previous != nil && res.IsUpgrade:
		kind = model.NotificationSubscriptionUpgraded
		message = fmt.Sprintf("Your plan was upgraded to %s.", plan.Name)
	case res.Previous != nil:
		kind = model.NotificationSubscriptionUpgraded
		message = fmt.Sprintf("Your plan was changed to %s.", plan.Name)
	}
	data := map[string]string{
		"subscription_id":         sub.ID,
		"plan_id":                 plan.ID,
		"plan_name":               plan.Name,
		"amount":                  amount,
		"currency":                res.Transaction.Currency,
		"end_date":                sub.EndDate.Format(time.RFC3339),
		"is_upgrade":              fmt.Sprint(res.IsUpgrade),
		"converted_from_freemium": fmt.Sprint(res.ConvertedFromFreemium),
		"message":                 message,
	}
	if res.Previous != nil {
		data["previous_plan_id"] = res.Previous.PlanID
	}
	return []model.Effect{
		model.NotifyUser(model.Notification{
			RecipientID: sub.UserID,
			Type:        kind,
			Category:    model.CategorySubscription,
			Data:        data,
			CreatedAt:   sub.StartDate,
		}),
		model.NotifyAdmins(model.AdminEvent{
			Type:           "new_subscription",
			UserID:         sub.UserID,
			PlanID:         plan.ID,
			SubscriptionID: sub.ID,
			Amount:         amount,
			Currency:       res.Transaction.Currency,
			Message:        fmt.Sprintf("User %s paid %s %s for %s", sub.UserID, amount, res.Transaction.Currency, plan.Name),
		}),
		auditEffect(sub.UserID, sub.ID, "paid_activation", sub.StartDate, map[string]string{
			"payment_id":       res.Transaction.GatewayTransactionID,
			"previous_plan_id": sub.PreviousPlanID,
		}),
	}
}
