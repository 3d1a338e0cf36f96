package repository

import (
	"context"

	"resume-billing/internal/domain/model"
)

type BillingDetailsRepository interface {
	FindByUserID(ctx context.Context, tx Tx, userID string) (*model.UserBillingDetails, error)
}

type PlanSelectionRepository interface {
	// Upsert keeps one pending selection per user.
	Upsert(ctx context.Context, tx Tx, sel *model.PendingPlanSelection) error
	FindByUserID(ctx context.Context, tx Tx, userID string) (*model.PendingPlanSelection, error)
	Delete(ctx context.Context, tx Tx, userID string) error
}
