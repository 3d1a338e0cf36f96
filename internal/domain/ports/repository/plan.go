package repository

import (
	"context"

	"resume-billing/internal/domain/model"
)

// PlanRepository is the port for the plan catalog. Plans come back with
// their pricing and feature rows attached.
type PlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.Plan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Plan, error)
}
