package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `
  id, user_id, plan_id, start_date, end_date, status, auto_renew, payment_gateway,
  COALESCE(payment_reference, ''), COALESCE(previous_plan_id, ''),
  upgrade_date, cancel_date, grace_period_end,
  COALESCE(pending_plan_change_to, ''), pending_plan_change_date, COALESCE(pending_plan_change_type, ''),
  events, created_at, updated_at`

func (r *subscriptionRepo) Insert(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	events, err := encodeEvents(s.Events)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO subscriptions (
  id, user_id, plan_id, start_date, end_date, status, auto_renew, payment_gateway,
  payment_reference, previous_plan_id, upgrade_date, cancel_date, grace_period_end,
  pending_plan_change_to, pending_plan_change_date, pending_plan_change_type,
  events, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19);`
	_, err = execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.PlanID, s.StartDate, s.EndDate, s.Status, s.AutoRenew, s.PaymentGateway,
		nullString(s.PaymentReference), nullString(s.PreviousPlanID), s.UpgradeDate, s.CancelDate, s.GracePeriodEnd,
		nullString(s.PendingPlanChangeTo), s.PendingPlanChangeDate, nullString(string(s.PendingPlanChangeType)),
		events, s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: subscription %s", domain.ErrInvalidArgument, s.ID)
	}
	return err
}

func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	events, err := encodeEvents(s.Events)
	if err != nil {
		return err
	}
	const q = `
UPDATE subscriptions SET
  plan_id=$2, start_date=$3, end_date=$4, status=$5, auto_renew=$6, payment_gateway=$7,
  payment_reference=$8, previous_plan_id=$9, upgrade_date=$10, cancel_date=$11, grace_period_end=$12,
  pending_plan_change_to=$13, pending_plan_change_date=$14, pending_plan_change_type=$15,
  events=$16, updated_at=$17
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.PlanID, s.StartDate, s.EndDate, s.Status, s.AutoRenew, s.PaymentGateway,
		nullString(s.PaymentReference), nullString(s.PreviousPlanID), s.UpgradeDate, s.CancelDate, s.GracePeriodEnd,
		nullString(s.PendingPlanChangeTo), s.PendingPlanChangeDate, nullString(string(s.PendingPlanChangeType)),
		events, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	return r.queryOne(ctx, tx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1;`, id)
}

func (r *subscriptionRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	return r.queryMany(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE user_id=$1 AND status='ACTIVE'
 ORDER BY created_at DESC;`, userID)
}

func (r *subscriptionRepo) FindEntitledByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return r.queryOne(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE user_id=$1 AND status IN ('ACTIVE','GRACE_PERIOD')
 ORDER BY (status='ACTIVE') DESC, end_date DESC
 LIMIT 1;`, userID)
}

func (r *subscriptionRepo) FindLatestByUserAndPlan(ctx context.Context, tx repository.Tx, userID, planID string) (*model.Subscription, error) {
	return r.queryOne(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE user_id=$1 AND plan_id=$2
 ORDER BY created_at DESC
 LIMIT 1;`, userID, planID)
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	return r.queryMany(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE user_id=$1
 ORDER BY created_at DESC;`, userID)
}

func (r *subscriptionRepo) ListRenewable(ctx context.Context, tx repository.Tx, before time.Time) ([]*model.Subscription, error) {
	return r.queryMany(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE status='ACTIVE' AND auto_renew AND payment_gateway='NONE'
   AND pending_plan_change_to IS NULL AND end_date <= $1
 ORDER BY end_date ASC;`, before)
}

func (r *subscriptionRepo) ListLapsed(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	return r.queryMany(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE status='ACTIVE' AND end_date < $1
 ORDER BY end_date ASC;`, now)
}

func (r *subscriptionRepo) ListGraceExpired(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	return r.queryMany(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE status='GRACE_PERIOD' AND grace_period_end < $1
 ORDER BY grace_period_end ASC;`, now)
}

func (r *subscriptionRepo) ListDueScheduledChanges(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	return r.queryMany(ctx, tx, `SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE pending_plan_change_to IS NOT NULL AND pending_plan_change_date <= $1
 ORDER BY pending_plan_change_date ASC;`, now)
}

func (r *subscriptionRepo) ListUsersWithMultipleActive(ctx context.Context, tx repository.Tx) ([]string, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT user_id FROM subscriptions
 WHERE status='ACTIVE'
 GROUP BY user_id
HAVING COUNT(*) > 1;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		users = append(users, u)
	}
	return users, storeErr(rows.Err())
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = n
	}
	return counts, storeErr(rows.Err())
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := queryRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, s)
	}
	return out, storeErr(rows.Err())
}

func scanSubscription(row scanner) (*model.Subscription, error) {
	var (
		s          model.Subscription
		status     string
		gateway    string
		changeType string
		events     []byte
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.StartDate, &s.EndDate, &status, &s.AutoRenew, &gateway,
		&s.PaymentReference, &s.PreviousPlanID,
		&s.UpgradeDate, &s.CancelDate, &s.GracePeriodEnd,
		&s.PendingPlanChangeTo, &s.PendingPlanChangeDate, &changeType,
		&events, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	s.PaymentGateway = model.PaymentGateway(gateway)
	s.PendingPlanChangeType = model.PlanChangeType(changeType)
	if len(events) > 0 {
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, fmt.Errorf("decode events of %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func encodeEvents(events []model.LifecycleEvent) (string, error) {
	if events == nil {
		events = []model.LifecycleEvent{}
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}
	return string(b), nil
}
