package repository

import (
	"context"
	"database/sql"
)

type sqlTx struct {
	calls  CallRepository
	outbox OutboxWriter
}

func (t sqlTx) Calls() CallRepository { return t.calls }
func (t sqlTx) Outbox() OutboxWriter  { return t.outbox }

type sqlUnitOfWork struct {
	db *sql.DB
}

func NewUnitOfWork(db *sql.DB) UnitOfWork {
	return &sqlUnitOfWork{db: db}
}

func (u *sqlUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return WithTx(ctx, u.db, func(tx DBTX) error {
		return fn(ctx, sqlTx{
			calls:  NewCallRepository(tx),
			outbox: NewOutboxRepository(tx),
		})
	})
}
