package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/schema"
)

func init() {
	backend.Register(&mysqlBackend{})
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

type mysqlBackend struct{}

func (b *mysqlBackend) Name() string                   { return "mysql" }
func (b *mysqlBackend) DefaultPort() int               { return 3306 }
func (b *mysqlBackend) Operations() backend.Operations { return backend.NewGenerator(Dialect{}) }

func (b *mysqlBackend) Connect(ctx context.Context, dsn string) (backend.Connection, error) {
	cfg, err := driverConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: invalid dsn: %w", err)
	}
	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	return &mysqlConn{
		SQLQuerier: backend.SQLQuerier{Runner: db},
		db:         db,
		dbName:     cfg.DBName,
	}, nil
}

// driverConfig parses either a mysql:// URL or a go-sql-driver DSN
// ([user[:pass]@][tcp(host:port)]/dbname[?params]). Time columns always
// scan into time.Time.
func driverConfig(dsn string) (*gomysql.Config, error) {
	if strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		port := u.Port()
		if port == "" {
			port = "3306"
		}
		userInfo := u.User.Username()
		if pass, ok := u.User.Password(); ok && pass != "" {
			userInfo += ":" + pass
		}
		dsn = fmt.Sprintf("%s@tcp(%s)/%s", userInfo, net.JoinHostPort(u.Hostname(), port), strings.TrimPrefix(u.Path, "/"))
		if u.RawQuery != "" {
			dsn += "?" + u.RawQuery
		}
	}
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

type mysqlConn struct {
	backend.SQLQuerier
	db     *sql.DB
	dbName string
}

func (c *mysqlConn) AdapterName() string  { return "mysql" }
func (c *mysqlConn) DatabaseName() string { return c.dbName }

func (c *mysqlConn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *mysqlConn) Close() error {
	return c.db.Close()
}

// Begin opens a transaction on a pinned connection. MySQL commits
// implicitly around DDL, so the transaction only groups data statements;
// FOREIGN_KEY_CHECKS is a session variable and survives those commits.
func (c *mysqlConn) Begin(ctx context.Context, checkConstraints bool) (backend.Tx, error) {
	disable, restore := "", ""
	if !checkConstraints {
		disable, restore = "SET FOREIGN_KEY_CHECKS = 0", "SET FOREIGN_KEY_CHECKS = 1"
	}
	tx, err := backend.BeginSQLTx(ctx, c.db, disable, restore)
	if err != nil {
		return nil, fmt.Errorf("mysql: begin: %w", err)
	}
	return tx, nil
}

// Introspection reads information_schema for the connected database.

func (c *mysqlConn) Tables(ctx context.Context) ([]schema.Table, error) {
	tables, err := backend.QueryCatalog(ctx, c.db, backend.CollectTables, `
		SELECT TABLE_NAME FROM information_schema.tables
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, c.dbName)
	if err != nil {
		return nil, fmt.Errorf("mysql: tables: %w", err)
	}
	return tables, nil
}

func (c *mysqlConn) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	cols, err := backend.QueryCatalog(ctx, c.db, backend.CollectColumns, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE = 'YES',
		       COALESCE(COLUMN_DEFAULT, ''), COLUMN_KEY = 'PRI'
		FROM information_schema.columns
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, c.dbName, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: columns of %s: %w", table, err)
	}
	return cols, nil
}

// Indexes returns every index but the primary key. Unique constraints are
// indexes in MySQL and are included.
func (c *mysqlConn) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	indexes, err := backend.QueryCatalog(ctx, c.db, backend.CollectIndexes, `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE = 0
		FROM information_schema.statistics
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME <> 'PRIMARY'
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, c.dbName, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: indexes of %s: %w", table, err)
	}
	return indexes, nil
}

func (c *mysqlConn) ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error) {
	fks, err := backend.QueryCatalog(ctx, c.db, backend.CollectForeignKeys, `
		SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.key_column_usage
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, c.dbName, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: foreign keys of %s: %w", table, err)
	}
	return fks, nil
}
