// File: internal/usecase/plan_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

var _ PlanUseCase = (*planUC)(nil)

// PlanUseCase exposes catalog reads to presentation layers and seeding tools.
type PlanUseCase interface {
	List(ctx context.Context) ([]*model.Plan, error)
	Get(ctx context.Context, id string) (*model.Plan, error)
	Save(ctx context.Context, plan *model.Plan) error
	PriceFor(ctx context.Context, planID, userID string) (model.Price, error)
}

type planUC struct {
	plans   repository.PlanRepository
	billing repository.BillingDetailsRepository
	log     *zerolog.Logger
}

func NewPlanUseCase(plans repository.PlanRepository, billing repository.BillingDetailsRepository, logger *zerolog.Logger) *planUC {
	return &planUC{plans: plans, billing: billing, log: logger}
}

func (p *planUC) List(ctx context.Context) ([]*model.Plan, error) {
	return p.plans.ListAll(ctx, repository.NoTX)
}

func (p *planUC) Get(ctx context.Context, id string) (*model.Plan, error) {
	plan, err := p.plans.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, id)
	}
	return plan, err
}

func (p *planUC) Save(ctx context.Context, plan *model.Plan) error {
	if plan.IsZero() || !plan.BillingCycle.Valid() || plan.BasePrice.IsNegative() {
		return domain.ErrInvalidArgument
	}
	for i := range plan.Pricing {
		plan.Pricing[i].PlanID = plan.ID
		if plan.Pricing[i].Currency == "" {
			plan.Pricing[i].Currency = model.CurrencyForRegion(plan.Pricing[i].Region)
		}
	}
	for i := range plan.Features {
		plan.Features[i].PlanID = plan.ID
		if plan.Features[i].ResetFrequency == "" {
			plan.Features[i].ResetFrequency = model.ResetNever
		}
	}
	if err := p.plans.Save(ctx, repository.NoTX, plan); err != nil {
		return err
	}
	p.log.Info().Str("plan_id", plan.ID).Str("name", plan.Name).Msg("plan saved")
	return nil
}

// PriceFor resolves the price a given user would pay for a plan.
func (p *planUC) PriceFor(ctx context.Context, planID, userID string) (model.Price, error) {
	plan, err := p.Get(ctx, planID)
	if err != nil {
		return model.Price{}, err
	}
	region := model.RegionGlobal
	if userID != "" {
		details, err := p.billing.FindByUserID(ctx, repository.NoTX, userID)
		switch {
		case err == nil:
			region = details.Region()
		case !errors.Is(err, domain.ErrNotFound):
			p.log.Warn().Err(err).Str("user_id", userID).Msg("billing details unavailable, using global pricing")
		}
	}
	return plan.PriceFor(region), nil
}
