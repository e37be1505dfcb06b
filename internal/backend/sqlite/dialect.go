package sqlite

import (
	"fmt"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/signature"
)

var dataTypes = map[signature.FieldType]string{
	signature.AutoField:            "integer",
	signature.BigAutoField:         "integer",
	signature.BinaryField:          "BLOB",
	signature.BooleanField:         "bool",
	signature.CharField:            "varchar({max_length})",
	signature.DateField:            "date",
	signature.DateTimeField:        "datetime",
	signature.DecimalField:         "decimal",
	signature.EmailField:           "varchar({max_length})",
	signature.FloatField:           "real",
	signature.IntegerField:         "integer",
	signature.BigIntegerField:      "bigint",
	signature.SmallIntegerField:    "smallint",
	signature.PositiveIntegerField: "integer unsigned",
	signature.SlugField:            "varchar({max_length})",
	signature.TextField:            "text",
	signature.TimeField:            "time",
	signature.URLField:             "varchar({max_length})",
	signature.UUIDField:            "char(32)",
	signature.JSONField:            "text",
}

// Dialect generates SQLite SQL. Column changes are applied by rebuilding
// the table.
type Dialect struct {
	backend.DefaultDialect
}

var (
	_ backend.Dialect        = Dialect{}
	_ backend.TableRebuilder = Dialect{}
)

func (Dialect) Name() string                 { return "sqlite" }
func (Dialect) QuoteName(name string) string { return backend.QuoteWith(name, '"') }
func (Dialect) Placeholder(int) string       { return "?" }

func (Dialect) QuoteValue(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return backend.DefaultDialect{}.QuoteValue(v)
}

func (Dialect) DataType(f *signature.FieldSignature) string {
	if t, ok := dataTypes[f.Type]; ok {
		return backend.ExpandType(t, f)
	}
	return "text"
}

func (Dialect) PrimaryKeyClause(f *signature.FieldSignature) string {
	if f.Type.IsAuto() {
		return "PRIMARY KEY AUTOINCREMENT"
	}
	return "PRIMARY KEY"
}

func (Dialect) SupportedChangeAttrs() map[string]bool {
	return map[string]bool{
		"null": true, "max_length": true, "unique": true, "db_column": true,
		"db_index": true, "db_table": true, "max_digits": true, "decimal_places": true,
	}
}

func (Dialect) SupportedChangeMeta() map[string]bool {
	return map[string]bool{
		signature.MetaUniqueTogether: true,
		signature.MetaIndexTogether:  true,
		signature.MetaIndexes:        true,
		signature.MetaConstraints:    true,
	}
}

func (Dialect) MultiClauseAlter() bool  { return false }
func (Dialect) InlineConstraints() bool { return true }

// AlterColumnClauses is never reached: batches that change columns are
// rebuilt instead.
func (Dialect) AlterColumnClauses(string, string, bool, bool, bool) []string { return nil }

func (Dialect) AddUniqueSQL(table, name, cols string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", name, table, cols)
}

func (Dialect) DropUniqueSQL(_, name string) string {
	return "DROP INDEX " + name
}

func (Dialect) AddForeignKeySQL(string, string, string, string, string) string { return "" }
func (Dialect) DropForeignKeySQL(string, string) string                        { return "" }
func (Dialect) AddCheckSQL(string, string, string) string                      { return "" }
func (Dialect) DropConstraintSQL(string, string) string                        { return "" }
func (Dialect) TableCommentSQL(string, string) string                          { return "" }
