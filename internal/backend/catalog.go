package backend

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sadopc/goevolve/internal/schema"
)

// CatalogRows is the cursor part of *sql.Rows and pgx.Rows. Callers keep
// ownership and close the rows themselves.
type CatalogRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// QueryCatalog runs a catalog query on db and hands the rows to collect.
func QueryCatalog[T any](ctx context.Context, db *sql.DB, collect func(CatalogRows) ([]T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// CollectTables reads one table name per row.
func CollectTables(rows CatalogRows) ([]schema.Table, error) {
	var tables []schema.Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, schema.Table{Name: name})
	}
	return tables, rows.Err()
}

// CollectColumns reads (name, type, nullable, default, primary key) rows.
// Nullable and primary key may be booleans or 0/1 integers.
func CollectColumns(rows CatalogRows) ([]schema.Column, error) {
	var cols []schema.Column
	for rows.Next() {
		var c schema.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default, &c.IsPK); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// CollectIndexes folds (index, column, unique) rows into indexes. Rows of
// one index must be adjacent and in column order.
func CollectIndexes(rows CatalogRows) ([]schema.Index, error) {
	var out []schema.Index
	for rows.Next() {
		var (
			name, col string
			unique    bool
		)
		if err := rows.Scan(&name, &col, &unique); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Columns = append(out[n-1].Columns, col)
			continue
		}
		out = append(out, schema.Index{Name: name, Columns: []string{col}, Unique: unique})
	}
	return out, rows.Err()
}

// CollectForeignKeys folds (constraint, column, referenced table,
// referenced column) rows into foreign keys, with the same ordering rule
// as CollectIndexes.
func CollectForeignKeys(rows CatalogRows) ([]schema.ForeignKey, error) {
	var out []schema.ForeignKey
	for rows.Next() {
		var name, col, refTable, refCol string
		if err := rows.Scan(&name, &col, &refTable, &refCol); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Columns = append(out[n-1].Columns, col)
			out[n-1].RefColumns = append(out[n-1].RefColumns, refCol)
			continue
		}
		out = append(out, schema.ForeignKey{
			Name:       name,
			Columns:    []string{col},
			RefTable:   refTable,
			RefColumns: []string{refCol},
		})
	}
	return out, rows.Err()
}
