package repository

import (
	"context"

	"resume-billing/internal/domain/model"
)

type PaymentTransactionRepository interface {
	// Insert stores t unless its gateway transaction id already exists.
	// A duplicate is reported through inserted=false, not an error.
	Insert(ctx context.Context, tx Tx, t *model.PaymentTransaction) (inserted bool, err error)
	FindByGatewayTransactionID(ctx context.Context, tx Tx, gatewayTxnID string) (*model.PaymentTransaction, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.PaymentTransaction, error)
}
