package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/repository"
)

var _ repository.PaymentTransactionRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, subscription_id, amount::text, currency, payment_gateway, gateway_transaction_id, status, metadata, created_at`

// Insert relies on the unique gateway_transaction_id index; a conflicting
// row is left untouched and reported as inserted=false.
func (r *paymentRepo) Insert(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) (bool, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode payment metadata: %w", err)
	}
	const q = `
INSERT INTO payment_transactions (
  id, user_id, subscription_id, amount, currency, payment_gateway, gateway_transaction_id, status, metadata, created_at
) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10)
ON CONFLICT (gateway_transaction_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.UserID, t.SubscriptionID, t.Amount.String(), t.Currency, t.Gateway,
		t.GatewayTransactionID, t.Status, string(meta), t.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) FindByGatewayTransactionID(ctx context.Context, tx repository.Tx, gatewayTxnID string) (*model.PaymentTransaction, error) {
	row, err := queryRow(ctx, r.pool, tx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE gateway_transaction_id=$1;`, gatewayTxnID)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.PaymentTransaction, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE user_id=$1 ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, storeErr(rows.Err())
}

func scanPayment(row scanner) (*model.PaymentTransaction, error) {
	var (
		p       model.PaymentTransaction
		amount  string
		gateway string
		status  string
		meta    []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &amount, &p.Currency, &gateway,
		&p.GatewayTransactionID, &status, &meta, &p.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Amount = d
	p.Gateway = model.PaymentGateway(gateway)
	p.Status = model.PaymentStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return &p, nil
}
