package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/schema"
)

func init() {
	backend.Register(&postgresBackend{})
}

// postgresBackend implements backend.Backend for PostgreSQL.
type postgresBackend struct{}

func (b *postgresBackend) Name() string                   { return "postgres" }
func (b *postgresBackend) DefaultPort() int               { return 5432 }
func (b *postgresBackend) Operations() backend.Operations { return backend.NewGenerator(Dialect{}) }

func (b *postgresBackend) Connect(ctx context.Context, dsn string) (backend.Connection, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &pgConn{
		pool:   pool,
		dbName: cfg.ConnConfig.Database,
	}, nil
}

// pgConn implements backend.Connection for PostgreSQL.
type pgConn struct {
	pool   *pgxpool.Pool
	dbName string
}

func (c *pgConn) DatabaseName() string { return c.dbName }
func (c *pgConn) AdapterName() string  { return "postgres" }

func (c *pgConn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *pgConn) Close() error {
	c.pool.Close()
	return nil
}

func (c *pgConn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.pool.Exec(ctx, query, args...)
	return err
}

func (c *pgConn) QueryRow(ctx context.Context, query string, args ...any) backend.Row {
	return c.pool.QueryRow(ctx, query, args...)
}

// Begin opens a transaction. With checkConstraints false every deferrable
// constraint is checked at commit instead of per statement.
func (c *pgConn) Begin(ctx context.Context, checkConstraints bool) (backend.Tx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	if !checkConstraints {
		if _, err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("postgres defer constraints: %w", err)
		}
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t *pgTx) QueryRow(ctx context.Context, query string, args ...any) backend.Row {
	return t.tx.QueryRow(ctx, query, args...)
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

const schemaName = "public"

// catalog runs a catalog query and hands the rows to collect.
func catalog[T any](ctx context.Context, c *pgConn, collect func(backend.CatalogRows) ([]T, error), query string, args ...any) ([]T, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (c *pgConn) Tables(ctx context.Context) ([]schema.Table, error) {
	tables, err := catalog(ctx, c, backend.CollectTables,
		`SELECT table_name::text
		 FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}
	return tables, nil
}

// Columns reports a column as part of the primary key when the table's
// primary key index covers it.
func (c *pgConn) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	cols, err := catalog(ctx, c, backend.CollectColumns,
		`SELECT col.column_name::text,
		        col.data_type::text,
		        col.is_nullable = 'YES',
		        COALESCE(col.column_default, '')::text,
		        EXISTS (
		            SELECT 1
		            FROM pg_index i
		            JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		            WHERE i.indrelid = format('%I.%I', col.table_schema, col.table_name)::regclass
		              AND i.indisprimary
		              AND a.attname = col.column_name
		        )
		 FROM information_schema.columns col
		 WHERE col.table_schema = $1 AND col.table_name = $2
		 ORDER BY col.ordinal_position`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	return cols, nil
}

// Indexes returns the non-primary indexes of a table, including those
// backing unique constraints.
func (c *pgConn) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	indexes, err := catalog(ctx, c, backend.CollectIndexes,
		`SELECT ic.relname::text, a.attname::text, ix.indisunique
		 FROM pg_index ix
		 JOIN pg_class tc ON tc.oid = ix.indrelid
		 JOIN pg_class ic ON ic.oid = ix.indexrelid
		 JOIN pg_namespace ns ON ns.oid = tc.relnamespace
		 JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, pos) ON true
		 JOIN pg_attribute a ON a.attrelid = tc.oid AND a.attnum = k.attnum
		 WHERE ns.nspname = $1 AND tc.relname = $2 AND NOT ix.indisprimary
		 ORDER BY ic.relname, k.pos`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("indexes of %s: %w", table, err)
	}
	return indexes, nil
}

// ForeignKeys pairs constrained and referenced columns by position using
// pg_constraint, which keeps multi-column keys in order.
func (c *pgConn) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	fks, err := catalog(ctx, c, backend.CollectForeignKeys,
		`SELECT con.conname::text, la.attname::text, rc.relname::text, ra.attname::text
		 FROM pg_constraint con
		 JOIN pg_class tc ON tc.oid = con.conrelid
		 JOIN pg_namespace ns ON ns.oid = tc.relnamespace
		 JOIN pg_class rc ON rc.oid = con.confrelid
		 JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(lnum, rnum, pos) ON true
		 JOIN pg_attribute la ON la.attrelid = con.conrelid AND la.attnum = k.lnum
		 JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.rnum
		 WHERE con.contype = 'f' AND ns.nspname = $1 AND tc.relname = $2
		 ORDER BY con.conname, k.pos`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("foreign keys of %s: %w", table, err)
	}
	return fks, nil
}
