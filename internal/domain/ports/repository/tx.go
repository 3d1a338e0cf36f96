package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and passes the
// handle through tx. Repositories accept a nil tx as "use the pool".
//
// Engine operations call UserLocker.LockUser first so every mutation for a
// given user is serialized for the rest of the transaction.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

// UserLocker serializes mutations per user inside a transaction.
type UserLocker interface {
	LockUser(ctx context.Context, tx Tx, userID string) error
}
