package mysql

import (
	"fmt"
	"strings"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/signature"
)

var dataTypes = map[signature.FieldType]string{
	signature.AutoField:            "integer AUTO_INCREMENT",
	signature.BigAutoField:         "bigint AUTO_INCREMENT",
	signature.BinaryField:          "longblob",
	signature.BooleanField:         "bool",
	signature.CharField:            "varchar({max_length})",
	signature.DateField:            "date",
	signature.DateTimeField:        "datetime(6)",
	signature.DecimalField:         "numeric({max_digits}, {decimal_places})",
	signature.EmailField:           "varchar({max_length})",
	signature.FloatField:           "double precision",
	signature.IntegerField:         "integer",
	signature.BigIntegerField:      "bigint",
	signature.SmallIntegerField:    "smallint",
	signature.PositiveIntegerField: "integer UNSIGNED",
	signature.SlugField:            "varchar({max_length})",
	signature.TextField:            "longtext",
	signature.TimeField:            "time(6)",
	signature.URLField:             "varchar({max_length})",
	signature.UUIDField:            "char(32)",
	signature.JSONField:            "json",
}

// Dialect generates MySQL SQL.
type Dialect struct {
	backend.DefaultDialect
}

var _ backend.Dialect = Dialect{}

func (Dialect) Name() string                 { return "mysql" }
func (Dialect) QuoteName(name string) string { return backend.QuoteWith(name, '`') }
func (Dialect) MaxNameLength() int           { return 64 }
func (Dialect) Placeholder(int) string       { return "?" }

func (Dialect) QuoteValue(v any) string {
	if s, ok := v.(string); ok {
		return "'" + strings.NewReplacer(`\`, `\\`, "'", "''").Replace(s) + "'"
	}
	return backend.DefaultDialect{}.QuoteValue(v)
}

func (Dialect) DataType(f *signature.FieldSignature) string {
	if t, ok := dataTypes[f.Type]; ok {
		return backend.ExpandType(t, f)
	}
	return "longtext"
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
		signature.MetaDBTableComment: true,
	}
}

// AlterColumnClauses restates the full column type, since MODIFY COLUMN
// replaces both the type and the nullability.
func (Dialect) AlterColumnClauses(col, dataType string, null, nullChanged, typeChanged bool) []string {
	if !nullChanged && !typeChanged {
		return nil
	}
	nullSQL := "NOT NULL"
	if null {
		nullSQL = "NULL"
	}
	return []string{fmt.Sprintf("MODIFY COLUMN %s %s %s", col, dataType, nullSQL)}
}

func (Dialect) RenameTableSQL(oldTable, newTable string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", oldTable, newTable)
}

func (Dialect) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", name, table)
}

func (Dialect) DropUniqueSQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", table, name)
}

func (Dialect) AddForeignKeySQL(table, name, col, refTable, refCol string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		table, name, col, refTable, refCol)
}

func (Dialect) DropForeignKeySQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", table, name)
}

func (Dialect) DropConstraintSQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CHECK %s", table, name)
}

func (d Dialect) TableCommentSQL(table, comment string) string {
	return fmt.Sprintf("ALTER TABLE %s COMMENT = %s", table, d.QuoteValue(comment))
}
