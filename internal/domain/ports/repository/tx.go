package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager provides a thin abstraction to execute a function within
// a database transaction, passing the underlying transaction handle via `tx`.
//
// Keeps use-case interfaces clean (no transaction types leak out) while
// letting repository methods detect a tx handle and run tx-bound Exec/Query
// when one is present. Repositories MUST gracefully accept a nil tx (the
// non-transactional path); the concrete type is infra-defined (pgx.Tx for
// Postgres).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
