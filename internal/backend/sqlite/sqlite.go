package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/schema"

	_ "modernc.org/sqlite"
)

func init() {
	backend.Register(&sqliteBackend{})
}

// sqliteBackend implements backend.Backend for SQLite databases.
type sqliteBackend struct{}

func (b *sqliteBackend) Name() string                   { return "sqlite" }
func (b *sqliteBackend) DefaultPort() int               { return 0 }
func (b *sqliteBackend) Operations() backend.Operations { return backend.NewGenerator(Dialect{}) }

func (b *sqliteBackend) Connect(ctx context.Context, dsn string) (backend.Connection, error) {
	dsn = normalizeDSN(dsn)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// Every pooled connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite enable foreign keys: %w", err)
	}

	dbName := dsn
	if dsn != ":memory:" {
		dbName = filepath.Base(dsn)
	}

	return &sqliteConn{
		SQLQuerier: backend.SQLQuerier{Runner: db},
		db:         db,
		dbName:     dbName,
	}, nil
}

// normalizeDSN strips common SQLite URI prefixes.
func normalizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "sqlite://") {
		return strings.TrimPrefix(dsn, "sqlite://")
	}
	if strings.HasPrefix(dsn, "file:") {
		return strings.TrimPrefix(dsn, "file:")
	}
	return dsn
}

// sqliteConn implements backend.Connection.
type sqliteConn struct {
	backend.SQLQuerier
	db     *sql.DB
	dbName string
}

func (c *sqliteConn) AdapterName() string  { return "sqlite" }
func (c *sqliteConn) DatabaseName() string { return c.dbName }

func (c *sqliteConn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *sqliteConn) Close() error {
	return c.db.Close()
}

// Begin opens a transaction. Foreign key enforcement cannot be toggled
// inside a transaction, so it is switched off on the pinned connection
// beforehand.
func (c *sqliteConn) Begin(ctx context.Context, checkConstraints bool) (backend.Tx, error) {
	disable, restore := "", ""
	if !checkConstraints {
		disable, restore = "PRAGMA foreign_keys = OFF", "PRAGMA foreign_keys = ON"
	}
	tx, err := backend.BeginSQLTx(ctx, c.db, disable, restore)
	if err != nil {
		return nil, fmt.Errorf("sqlite begin: %w", err)
	}
	return tx, nil
}

// Tables returns all user tables in the database.
func (c *sqliteConn) Tables(ctx context.Context) ([]schema.Table, error) {
	tables, err := backend.QueryCatalog(ctx, c.db, backend.CollectTables,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite tables: %w", err)
	}
	return tables, nil
}

func (c *sqliteConn) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	cols, err := backend.QueryCatalog(ctx, c.db, backend.CollectColumns,
		`SELECT name, type, "notnull" = 0, COALESCE(dflt_value, ''), pk > 0
		 FROM pragma_table_info(?)
		 ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite columns of %s: %w", table, err)
	}
	return cols, nil
}

// Indexes returns the explicitly created indexes of a table. Automatic
// indexes backing PRIMARY KEY or inline UNIQUE clauses are skipped.
func (c *sqliteConn) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	indexes, err := backend.QueryCatalog(ctx, c.db, backend.CollectIndexes,
		`SELECT il.name, COALESCE(ii.name, ''), il."unique"
		 FROM pragma_index_list(?) AS il
		 JOIN pragma_index_info(il.name) AS ii
		 WHERE il.origin = 'c'
		 ORDER BY il.name, ii.seqno`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite indexes of %s: %w", table, err)
	}
	return indexes, nil
}

// ForeignKeys returns foreign key constraints for the given table. SQLite
// does not name them, so a name is made up from the table and id.
func (c *sqliteConn) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	fks, err := backend.QueryCatalog(ctx, c.db, backend.CollectForeignKeys,
		`SELECT 'fk_' || ? || '_' || id, "from", "table", COALESCE("to", '')
		 FROM pragma_foreign_key_list(?)
		 ORDER BY id, seq`, table, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite foreign keys of %s: %w", table, err)
	}
	return fks, nil
}
