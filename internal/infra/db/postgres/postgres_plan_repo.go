package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

// Save upserts the plan and replaces its pricing and feature rows. Without
// a caller transaction it opens its own so the three tables stay consistent.
func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	if tx != nil {
		t, ok := tx.(pgx.Tx)
		if !ok {
			return fmt.Errorf("%w: plan save needs a pgx transaction", domain.ErrInvalidExecContext)
		}
		return storeErr(r.save(ctx, t, plan))
	}
	own, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreUnavailable, err)
	}
	defer func() { _ = own.Rollback(ctx) }()
	if err := r.save(ctx, own, plan); err != nil {
		return storeErr(err)
	}
	return storeErr(own.Commit(ctx))
}

func (r *PostgresPlanRepo) save(ctx context.Context, tx pgx.Tx, plan *model.Plan) error {
	const upsert = `
INSERT INTO plans (id, name, description, billing_cycle, is_freemium, is_active, base_price, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
ON CONFLICT (id) DO UPDATE
  SET name          = EXCLUDED.name,
      description   = EXCLUDED.description,
      billing_cycle = EXCLUDED.billing_cycle,
      is_freemium   = EXCLUDED.is_freemium,
      is_active     = EXCLUDED.is_active,
      base_price    = EXCLUDED.base_price,
      updated_at    = EXCLUDED.updated_at;
`
	if _, err := tx.Exec(ctx, upsert, plan.ID, plan.Name, plan.Description, plan.BillingCycle,
		plan.IsFreemium, plan.IsActive, plan.BasePrice.String(), plan.CreatedAt, plan.UpdatedAt); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM plan_pricing WHERE plan_id = $1;`, plan.ID); err != nil {
		return fmt.Errorf("clear plan pricing: %w", err)
	}
	for _, pr := range plan.Pricing {
		if _, err := tx.Exec(ctx, `
INSERT INTO plan_pricing (plan_id, region, currency, price) VALUES ($1, $2, $3, $4::numeric);`,
			plan.ID, pr.Region, pr.Currency, pr.Price.String()); err != nil {
			return fmt.Errorf("save plan pricing %s: %w", pr.Region, err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM plan_features WHERE plan_id = $1;`, plan.ID); err != nil {
		return fmt.Errorf("clear plan features: %w", err)
	}
	for _, f := range plan.Features {
		if _, err := tx.Exec(ctx, `
INSERT INTO plan_features (plan_id, feature_id, feature_key, limit_type, limit_value, reset_frequency, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7);`,
			plan.ID, f.FeatureID, f.FeatureKey, f.LimitType, f.LimitValue, f.ResetFrequency, f.Enabled); err != nil {
			return fmt.Errorf("save plan feature %s: %w", f.FeatureID, err)
		}
	}
	return nil
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	row, err := queryRow(ctx, r.pool, tx, `
SELECT id, name, description, billing_cycle, is_freemium, is_active, base_price::text, created_at, updated_at
  FROM plans
 WHERE id = $1;
`, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		return nil, notFound(err)
	}
	if err := r.attach(ctx, tx, map[string]*model.Plan{p.ID: p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT id, name, description, billing_cycle, is_freemium, is_active, base_price::text, created_at, updated_at
  FROM plans
 ORDER BY base_price ASC, name ASC;
`)
	if err != nil {
		return nil, err
	}
	var (
		plans []*model.Plan
		byID  = make(map[string]*model.Plan)
	)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		plans = append(plans, p)
		byID[p.ID] = p
	}
	rows.Close()
	if err := storeErr(rows.Err()); err != nil {
		return nil, err
	}
	if err := r.attach(ctx, tx, byID); err != nil {
		return nil, err
	}
	return plans, nil
}

// attach loads pricing and feature rows for the given plans.
func (r *PostgresPlanRepo) attach(ctx context.Context, tx repository.Tx, plans map[string]*model.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	ids := make([]string, 0, len(plans))
	for id := range plans {
		ids = append(ids, id)
	}

	rows, err := queryRows(ctx, r.pool, tx, `
SELECT plan_id, region, currency, price::text FROM plan_pricing WHERE plan_id = ANY($1) ORDER BY plan_id, region;`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			pr     model.PlanPricing
			region string
			price  string
		)
		if err := rows.Scan(&pr.PlanID, &region, &pr.Currency, &price); err != nil {
			rows.Close()
			return domain.ErrReadDatabaseRow
		}
		pr.Region = model.Region(region)
		if pr.Price, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return fmt.Errorf("parse price %q: %w", price, err)
		}
		plans[pr.PlanID].Pricing = append(plans[pr.PlanID].Pricing, pr)
	}
	rows.Close()
	if err := storeErr(rows.Err()); err != nil {
		return err
	}

	rows, err = queryRows(ctx, r.pool, tx, `
SELECT plan_id, feature_id, feature_key, limit_type, limit_value, reset_frequency, enabled
  FROM plan_features WHERE plan_id = ANY($1) ORDER BY plan_id, feature_id;`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f         model.PlanFeature
			limitType string
			freq      string
		)
		if err := rows.Scan(&f.PlanID, &f.FeatureID, &f.FeatureKey, &limitType, &f.LimitValue, &freq, &f.Enabled); err != nil {
			return domain.ErrReadDatabaseRow
		}
		f.LimitType = model.LimitType(limitType)
		f.ResetFrequency = model.ResetFrequency(freq)
		plans[f.PlanID].Features = append(plans[f.PlanID].Features, f)
	}
	return storeErr(rows.Err())
}

func scanPlan(row scanner) (*model.Plan, error) {
	var (
		p     model.Plan
		cycle string
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &cycle, &p.IsFreemium, &p.IsActive, &price, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.BillingCycle = model.BillingCycle(cycle)
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse base price %q: %w", price, err)
	}
	p.BasePrice = d
	return &p, nil
}
