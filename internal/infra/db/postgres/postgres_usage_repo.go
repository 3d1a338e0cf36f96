package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

var _ repository.FeatureUsageRepository = (*usageRepo)(nil)

type usageRepo struct{ pool *pgxpool.Pool }

func NewFeatureUsageRepo(pool *pgxpool.Pool) *usageRepo {
	return &usageRepo{pool: pool}
}

const usageColumns = `id, user_id, feature_id, usage_count, ai_token_count, reset_frequency, reset_date, created_at, updated_at`

func (r *usageRepo) InsertIfMissing(ctx context.Context, tx repository.Tx, u *model.FeatureUsage) (bool, error) {
	const q = `
INSERT INTO feature_usage (
  id, user_id, feature_id, usage_count, ai_token_count, reset_frequency, reset_date, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id, feature_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, u.ID, u.UserID, u.FeatureID, u.UsageCount, u.AITokenCount,
		u.ResetFrequency, u.ResetDate, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *usageRepo) Find(ctx context.Context, tx repository.Tx, userID, featureID string) (*model.FeatureUsage, error) {
	row, err := queryRow(ctx, r.pool, tx, `SELECT `+usageColumns+` FROM feature_usage WHERE user_id=$1 AND feature_id=$2;`, userID, featureID)
	if err != nil {
		return nil, err
	}
	u, err := scanUsage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (r *usageRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.FeatureUsage, error) {
	return r.list(ctx, tx, `SELECT `+usageColumns+` FROM feature_usage WHERE user_id=$1 ORDER BY feature_id;`, userID)
}

func (r *usageRepo) Increment(ctx context.Context, tx repository.Tx, userID, featureID string, count, tokens int64) (*model.FeatureUsage, error) {
	row, err := queryRow(ctx, r.pool, tx, `
UPDATE feature_usage
   SET usage_count = usage_count + $3, ai_token_count = ai_token_count + $4, updated_at = NOW()
 WHERE user_id=$1 AND feature_id=$2
RETURNING `+usageColumns+`;`, userID, featureID, count, tokens)
	if err != nil {
		return nil, err
	}
	u, err := scanUsage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (r *usageRepo) ResetCounters(ctx context.Context, tx repository.Tx, userID string, featureIDs []string) (int, error) {
	if len(featureIDs) == 0 {
		return 0, nil
	}
	tag, err := execSQL(ctx, r.pool, tx, `
UPDATE feature_usage
   SET usage_count = 0, ai_token_count = 0, updated_at = NOW()
 WHERE user_id=$1 AND feature_id = ANY($2);`, userID, featureIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *usageRepo) ListDueForReset(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.FeatureUsage, error) {
	return r.list(ctx, tx, `SELECT `+usageColumns+`
  FROM feature_usage
 WHERE reset_frequency <> 'NEVER' AND reset_date IS NOT NULL AND reset_date < $1
 ORDER BY reset_date ASC;`, now)
}

func (r *usageRepo) SaveReset(ctx context.Context, tx repository.Tx, u *model.FeatureUsage, prev time.Time) error {
	tag, err := execSQL(ctx, r.pool, tx, `
UPDATE feature_usage
   SET usage_count=$2, ai_token_count=$3, reset_date=$4, updated_at=$5
 WHERE id=$1 AND reset_date=$6;`, u.ID, u.UsageCount, u.AITokenCount, u.ResetDate, u.UpdatedAt, prev)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *usageRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.FeatureUsage, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.FeatureUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, u)
	}
	return out, storeErr(rows.Err())
}

func scanUsage(row scanner) (*model.FeatureUsage, error) {
	var (
		u    model.FeatureUsage
		freq string
	)
	if err := row.Scan(&u.ID, &u.UserID, &u.FeatureID, &u.UsageCount, &u.AITokenCount, &freq,
		&u.ResetDate, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ResetFrequency = model.ResetFrequency(freq)
	return &u, nil
}
