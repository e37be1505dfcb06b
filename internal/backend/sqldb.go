package backend

import (
	"context"
	"database/sql"
	"errors"
)

// sqlRunner is the part of *sql.DB, *sql.Conn and *sql.Tx that Querier
// needs.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLQuerier adapts a database/sql handle to Querier.
type SQLQuerier struct {
	Runner sqlRunner
}

func (q SQLQuerier) Exec(ctx context.Context, query string, args ...any) error {
	_, err := q.Runner.ExecContext(ctx, query, args...)
	return err
}

func (q SQLQuerier) QueryRow(ctx context.Context, query string, args ...any) Row {
	return q.Runner.QueryRowContext(ctx, query, args...)
}

// sqlTx pins a transaction to one pooled connection so session settings
// made before BEGIN apply to it and can be undone afterwards.
type sqlTx struct {
	SQLQuerier
	conn    *sql.Conn
	tx      *sql.Tx
	restore string
}

// BeginSQLTx opens a transaction on a dedicated connection. When disable is
// non-empty it runs on that connection before BEGIN, and restore runs after
// COMMIT or ROLLBACK.
func BeginSQLTx(ctx context.Context, db *sql.DB, disable, restore string) (Tx, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if disable != "" {
		if _, err := conn.ExecContext(ctx, disable); err != nil {
			conn.Close()
			return nil, err
		}
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		if restore != "" {
			_, _ = conn.ExecContext(ctx, restore)
		}
		conn.Close()
		return nil, err
	}
	return &sqlTx{SQLQuerier: SQLQuerier{Runner: tx}, conn: conn, tx: tx, restore: restore}, nil
}

func (t *sqlTx) finish(ctx context.Context, err error) error {
	if t.restore != "" {
		if _, rerr := t.conn.ExecContext(ctx, t.restore); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return errors.Join(err, t.conn.Close())
}

func (t *sqlTx) Commit(ctx context.Context) error {
	return t.finish(ctx, t.tx.Commit())
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	return t.finish(ctx, err)
}
