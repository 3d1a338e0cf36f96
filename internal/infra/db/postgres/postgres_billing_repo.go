package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

var (
	_ repository.BillingDetailsRepository = (*billingDetailsRepo)(nil)
	_ repository.PlanSelectionRepository  = (*planSelectionRepo)(nil)
)

type billingDetailsRepo struct {
	pool *pgxpool.Pool
}

func NewBillingDetailsRepo(pool *pgxpool.Pool) *billingDetailsRepo {
	return &billingDetailsRepo{pool: pool}
}

func (r *billingDetailsRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) (*model.UserBillingDetails, error) {
	row, err := queryRow(ctx, r.pool, tx, `
SELECT user_id, full_name, email, country, address_line1, city, postal_code, updated_at
  FROM user_billing_details
 WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	var b model.UserBillingDetails
	if err := row.Scan(&b.UserID, &b.FullName, &b.Email, &b.Country, &b.AddressLine1, &b.City, &b.PostalCode, &b.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// Save is used by the seed tool; billing details are owned by the profile service.
func (r *billingDetailsRepo) Save(ctx context.Context, tx repository.Tx, b *model.UserBillingDetails) error {
	const q = `
INSERT INTO user_billing_details (user_id, full_name, email, country, address_line1, city, postal_code, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id) DO UPDATE SET
  full_name=$2, email=$3, country=$4, address_line1=$5, city=$6, postal_code=$7, updated_at=$8`
	_, err := execSQL(ctx, r.pool, tx, q, b.UserID, b.FullName, b.Email, b.Country, b.AddressLine1, b.City, b.PostalCode, time.Now().UTC())
	return err
}

type planSelectionRepo struct {
	pool *pgxpool.Pool
}

func NewPlanSelectionRepo(pool *pgxpool.Pool) *planSelectionRepo {
	return &planSelectionRepo{pool: pool}
}

func (r *planSelectionRepo) Upsert(ctx context.Context, tx repository.Tx, sel *model.PendingPlanSelection) error {
	const q = `
INSERT INTO plan_selections (user_id, plan_id, status, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET plan_id=$2, status=$3, updated_at=$4`
	_, err := execSQL(ctx, r.pool, tx, q, sel.UserID, sel.PlanID, sel.Status, sel.UpdatedAt)
	return err
}

func (r *planSelectionRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) (*model.PendingPlanSelection, error) {
	row, err := queryRow(ctx, r.pool, tx, `SELECT user_id, plan_id, status, updated_at FROM plan_selections WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	var s model.PendingPlanSelection
	if err := row.Scan(&s.UserID, &s.PlanID, &s.Status, &s.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *planSelectionRepo) Delete(ctx context.Context, tx repository.Tx, userID string) error {
	_, err := execSQL(ctx, r.pool, tx, `DELETE FROM plan_selections WHERE user_id = $1`, userID)
	return err
}
