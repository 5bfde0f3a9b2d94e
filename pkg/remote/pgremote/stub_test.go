package pgremote

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errStub = errors.New("stub database")

// pgxDBStub satisfies DB for tests that never reach the database
type pgxDBStub struct{}

func (*pgxDBStub) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errStub
}

func (*pgxDBStub) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errStub
}

func (*pgxDBStub) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errStub
}
