package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"resume-billing/internal/domain"
	"resume-billing/internal/domain/ports/repository"
)

// Ensure compile-time conformance
var (
	_ repository.TransactionManager = (*TxManager)(nil)
	_ repository.UserLocker         = (*AdvisoryLocker)(nil)
)

// TxManager implements repository.TransactionManager for Postgres (pgx).
// It begins a transaction, invokes the callback, and commits/rolls back.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx opens a DB transaction and passes the pgx.Tx to fn.
// If fn returns an error, the transaction is rolled back; otherwise it is committed.
func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, txOpt)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err // rollback in defer
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", storeErr(err))
	}
	return nil
}

// AdvisoryLocker serializes per-user mutations with transaction scoped
// advisory locks. The lock is released on commit or rollback.
type AdvisoryLocker struct{}

func NewAdvisoryLocker() *AdvisoryLocker { return &AdvisoryLocker{} }

func (AdvisoryLocker) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	t, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("%w: advisory lock needs a transaction", domain.ErrInvalidExecContext)
	}
	if _, err := t.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashToInt64(userID)); err != nil {
		return fmt.Errorf("lock user %s: %w", userID, storeErr(err))
	}
	return nil
}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

type executor interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func getExecutor(pool *pgxpool.Pool, tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case pgx.Tx:
		return v, nil
	case *pgxpool.Conn:
		return v, nil
	case *pgxpool.Pool:
		return v, nil
	case nil:
		if pool != nil {
			return pool, nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgconn.CommandTag, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	tag, err := ex.Exec(ctx, q, args...)
	return tag, storeErr(err)
}

func queryRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgx.Row, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return ex.QueryRow(ctx, q, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgx.Rows, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, args...)
	return rows, storeErr(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return storeErr(err)
}

// Postgres error classes that go away on retry: connection exceptions,
// transaction rollbacks (serialization, deadlock), insufficient resources,
// operator intervention and system errors.
var transientClasses = map[string]bool{"08": true, "40": true, "53": true, "57": true, "58": true}

// storeErr marks errors that mean the database could not serve the call as
// domain.ErrStoreUnavailable. Constraint and data errors, pgx.ErrNoRows and
// already classified errors pass through unchanged.
func storeErr(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) || domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (len(pgErr.Code) < 2 || !transientClasses[pgErr.Code[:2]]) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
