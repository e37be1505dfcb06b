//go:build duckdb

package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/schema"
)

func init() {
	backend.Register(&duckdbBackend{})
}

type duckdbBackend struct{}

func (b *duckdbBackend) Name() string                   { return "duckdb" }
func (b *duckdbBackend) DefaultPort() int               { return 0 }
func (b *duckdbBackend) Operations() backend.Operations { return backend.NewGenerator(Dialect{}) }

func (b *duckdbBackend) Connect(ctx context.Context, dsn string) (backend.Connection, error) {
	// Strip the "duckdb://" prefix if present.
	dsn = strings.TrimPrefix(dsn, "duckdb://")
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}

	var catalog string
	if err := db.QueryRowContext(ctx, "SELECT current_database()").Scan(&catalog); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: current database: %w", err)
	}

	return &duckdbConn{
		SQLQuerier: backend.SQLQuerier{Runner: db},
		db:         db,
		dsn:        dsn,
		catalog:    catalog,
	}, nil
}

const schemaName = "main"

type duckdbConn struct {
	backend.SQLQuerier
	db      *sql.DB
	dsn     string
	catalog string
}

func (c *duckdbConn) DatabaseName() string { return c.dsn }
func (c *duckdbConn) AdapterName() string  { return "duckdb" }

func (c *duckdbConn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *duckdbConn) Close() error {
	return c.db.Close()
}

// Begin opens a transaction. DuckDB cannot suspend foreign key checks, so
// checkConstraints is ignored.
func (c *duckdbConn) Begin(ctx context.Context, _ bool) (backend.Tx, error) {
	tx, err := backend.BeginSQLTx(ctx, c.db, "", "")
	if err != nil {
		return nil, fmt.Errorf("duckdb: begin: %w", err)
	}
	return tx, nil
}

func (c *duckdbConn) Tables(ctx context.Context) ([]schema.Table, error) {
	tables, err := backend.QueryCatalog(ctx, c.db, backend.CollectTables,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_catalog = ? AND table_schema = ? AND table_type = 'BASE TABLE'
		 ORDER BY table_name`, c.catalog, schemaName)
	if err != nil {
		return nil, fmt.Errorf("duckdb: tables: %w", err)
	}
	return tables, nil
}

// Columns uses duckdb_columns() and duckdb_constraints(), which report
// nullability and primary keys directly.
func (c *duckdbConn) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	cols, err := backend.QueryCatalog(ctx, c.db, backend.CollectColumns,
		`SELECT col.column_name, col.data_type, col.is_nullable, COALESCE(col.column_default, ''),
		        EXISTS (
		            SELECT 1 FROM duckdb_constraints() con
		            WHERE con.database_name = col.database_name
		              AND con.schema_name = col.schema_name
		              AND con.table_name = col.table_name
		              AND con.constraint_type = 'PRIMARY KEY'
		              AND list_contains(con.constraint_column_names, col.column_name)
		        )
		 FROM duckdb_columns() col
		 WHERE col.database_name = ? AND col.schema_name = ? AND col.table_name = ?
		 ORDER BY col.column_index`, c.catalog, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: columns of %s: %w", table, err)
	}
	return cols, nil
}

// Indexes recovers index columns from each index's CREATE statement, the
// only place duckdb_indexes() exposes them.
func (c *duckdbConn) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	indexes, err := backend.QueryCatalog(ctx, c.db, collectIndexDefs,
		`SELECT index_name, is_unique, sql
		 FROM duckdb_indexes()
		 WHERE database_name = ? AND schema_name = ? AND table_name = ?
		 ORDER BY index_name`, c.catalog, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: indexes of %s: %w", table, err)
	}
	return indexes, nil
}

func collectIndexDefs(rows backend.CatalogRows) ([]schema.Index, error) {
	var out []schema.Index
	for rows.Next() {
		var (
			idx schema.Index
			def sql.NullString
		)
		if err := rows.Scan(&idx.Name, &idx.Unique, &def); err != nil {
			return nil, err
		}
		idx.Columns = parseIndexColumns(def.String)
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (c *duckdbConn) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	fks, err := backend.QueryCatalog(ctx, c.db, backend.CollectForeignKeys,
		`SELECT rc.constraint_name, kcu.column_name, ref.table_name, ref.column_name
		 FROM information_schema.referential_constraints rc
		 JOIN information_schema.key_column_usage kcu
		   ON kcu.constraint_catalog = rc.constraint_catalog
		  AND kcu.constraint_schema = rc.constraint_schema
		  AND kcu.constraint_name = rc.constraint_name
		 JOIN information_schema.key_column_usage ref
		   ON ref.constraint_catalog = rc.unique_constraint_catalog
		  AND ref.constraint_schema = rc.unique_constraint_schema
		  AND ref.constraint_name = rc.unique_constraint_name
		  AND ref.ordinal_position = kcu.ordinal_position
		 WHERE kcu.table_catalog = ? AND kcu.table_schema = ? AND kcu.table_name = ?
		 ORDER BY rc.constraint_name, kcu.ordinal_position`, c.catalog, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: foreign keys of %s: %w", table, err)
	}
	return fks, nil
}
