package duckdb

import (
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/signature"
)

var dataTypes = map[signature.FieldType]string{
	signature.AutoField:            "INTEGER",
	signature.BigAutoField:         "BIGINT",
	signature.BinaryField:          "BLOB",
	signature.BooleanField:         "BOOLEAN",
	signature.CharField:            "VARCHAR({max_length})",
	signature.DateField:            "DATE",
	signature.DateTimeField:        "TIMESTAMP",
	signature.DecimalField:         "DECIMAL({max_digits}, {decimal_places})",
	signature.EmailField:           "VARCHAR({max_length})",
	signature.FloatField:           "DOUBLE",
	signature.IntegerField:         "INTEGER",
	signature.BigIntegerField:      "BIGINT",
	signature.SmallIntegerField:    "SMALLINT",
	signature.PositiveIntegerField: "UINTEGER",
	signature.SlugField:            "VARCHAR({max_length})",
	signature.TextField:            "VARCHAR",
	signature.TimeField:            "TIME",
	signature.URLField:             "VARCHAR({max_length})",
	signature.UUIDField:            "UUID",
	signature.JSONField:            "JSON",
}

// Dialect generates DuckDB SQL. DuckDB has no ALTER for constraints, so
// uniqueness is expressed with unique indexes and foreign keys are not
// created at all.
type Dialect struct {
	backend.DefaultDialect
}

var _ backend.Dialect = Dialect{}

func (Dialect) Name() string                 { return "duckdb" }
func (Dialect) QuoteName(name string) string { return backend.QuoteWith(name, '"') }

func (Dialect) DataType(f *signature.FieldSignature) string {
	if t, ok := dataTypes[f.Type]; ok {
		return backend.ExpandType(t, f)
	}
	return "VARCHAR"
}

func (Dialect) SupportedChangeAttrs() map[string]bool {
	return map[string]bool{
		"null": true, "max_length": true, "db_column": true, "db_index": true,
		"db_table": true, "max_digits": true, "decimal_places": true,
	}
}

func (Dialect) SupportedChangeMeta() map[string]bool {
	return map[string]bool{
		signature.MetaUniqueTogether: true,
		signature.MetaIndexTogether:  true,
		signature.MetaIndexes:        true,
	}
}

func (Dialect) MultiClauseAlter() bool { return false }

func (Dialect) AddUniqueSQL(table, name, cols string) string {
	return "CREATE UNIQUE INDEX " + name + " ON " + table + " (" + cols + ")"
}

func (Dialect) DropUniqueSQL(_, name string) string {
	return "DROP INDEX " + name
}

func (Dialect) AddForeignKeySQL(string, string, string, string, string) string { return "" }
func (Dialect) DropForeignKeySQL(string, string) string                        { return "" }
func (Dialect) AddCheckSQL(string, string, string) string                      { return "" }
func (Dialect) DropConstraintSQL(string, string) string                        { return "" }
