// Package pgtx provides the shared pgx connection pool and transaction
// helper used by the version/branch/merge packages. It generalizes
// evalgo-org-eve/db/postgres_pgx.go's PostgresDB wrapper (Exec/Query/
// QueryRow over a pgxpool.Pool) so the same repository code can run either
// against the pool directly or against one serializable transaction, the
// isolation level spec §6 requires for fork/merge.
package pgtx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx every repository needs.
// Repositories are written against this interface so the same SQL methods
// run whether or not they are inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Pool wraps a connection pool.
type Pool struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies the connection, mirroring
// evalgo-org-eve/db/postgres_pgx.go's NewPostgresDB.
func Open(ctx context.Context, dsn string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgtx: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgtx: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Close() { p.pool.Close() }

// DB returns the pool as a DBTX, for non-transactional reads.
func (p *Pool) DB() DBTX { return p.pool }

// WithSerializableTx runs fn inside a serializable transaction, committing
// on success and rolling back on any error or panic. Spec §6 requires
// serializable/snapshot isolation for fork/merge transactions; spec §5(b)
// requires createVersion's interval close+open pair to serialize under an
// exclusive row-range lock, which the database provides under this
// isolation level.
func (p *Pool) WithSerializableTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("pgtx: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgtx: commit: %w", err)
	}
	return nil
}
