package backend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sadopc/goevolve/internal/signature"
)

// Dialect supplies the SQL fragments that differ between databases.
// Identifier arguments are passed already quoted.
type Dialect interface {
	Name() string
	QuoteName(name string) string
	QuoteValue(v any) string
	// Placeholder returns the bind parameter marker for the n-th argument,
	// counting from 1.
	Placeholder(n int) string
	MaxNameLength() int
	DataType(f *signature.FieldSignature) string
	PrimaryKeyClause(f *signature.FieldSignature) string

	SupportedChangeAttrs() map[string]bool
	SupportedChangeMeta() map[string]bool

	// MultiClauseAlter reports whether one ALTER TABLE may carry several
	// comma-separated clauses.
	MultiClauseAlter() bool
	// InlineConstraints reports whether foreign keys and checks must be
	// declared inside CREATE TABLE.
	InlineConstraints() bool

	AlterColumnClauses(col, dataType string, null, nullChanged, typeChanged bool) []string
	RenameColumnSQL(table, oldCol, newCol, newColumnDef string) string
	RenameTableSQL(oldTable, newTable string) string
	DropIndexSQL(table, name string) string
	AddUniqueSQL(table, name, cols string) string
	DropUniqueSQL(table, name string) string
	AddForeignKeySQL(table, name, col, refTable, refCol string) string
	DropForeignKeySQL(table, name string) string
	AddCheckSQL(table, name, check string) string
	DropConstraintSQL(table, name string) string
	TableCommentSQL(table, comment string) string
}

// TableRebuilder is implemented by dialects that cannot alter tables in
// place and instead recreate them.
type TableRebuilder interface {
	RebuildTableSQL(g *Generator, m TableMutator, ops []*Op) (*SQLResult, error)
}

// DefaultDialect implements the ANSI/PostgreSQL flavoured fragments.
// Dialects embed it and override what differs.
type DefaultDialect struct{}

func (DefaultDialect) QuoteValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
}

func (DefaultDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (DefaultDialect) MaxNameLength() int { return 63 }

func (DefaultDialect) PrimaryKeyClause(*signature.FieldSignature) string { return "PRIMARY KEY" }

func (DefaultDialect) MultiClauseAlter() bool  { return true }
func (DefaultDialect) InlineConstraints() bool { return false }

func (DefaultDialect) AlterColumnClauses(col, dataType string, null, nullChanged, typeChanged bool) []string {
	var out []string
	if typeChanged {
		out = append(out, fmt.Sprintf("ALTER COLUMN %s TYPE %s USING %s::%s", col, dataType, col, dataType))
	}
	if nullChanged {
		if null {
			out = append(out, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
		} else {
			out = append(out, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
		}
	}
	return out
}

func (DefaultDialect) RenameColumnSQL(table, oldCol, newCol, _ string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, oldCol, newCol)
}

func (DefaultDialect) RenameTableSQL(oldTable, newTable string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", oldTable, newTable)
}

func (DefaultDialect) DropIndexSQL(_, name string) string {
	return "DROP INDEX " + name
}

func (DefaultDialect) AddUniqueSQL(table, name, cols string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", table, name, cols)
}

func (DefaultDialect) DropUniqueSQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, name)
}

func (DefaultDialect) AddForeignKeySQL(table, name, col, refTable, refCol string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED",
		table, name, col, refTable, refCol)
}

func (DefaultDialect) DropForeignKeySQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, name)
}

func (DefaultDialect) AddCheckSQL(table, name, check string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", table, name, check)
}

func (DefaultDialect) DropConstraintSQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, name)
}

func (d DefaultDialect) TableCommentSQL(table, comment string) string {
	if comment == "" {
		return fmt.Sprintf("COMMENT ON TABLE %s IS NULL", table)
	}
	return fmt.Sprintf("COMMENT ON TABLE %s IS %s", table, d.QuoteValue(comment))
}

// ExpandType fills {max_length}, {max_digits} and {decimal_places} in a
// type template from the field's attributes, using conventional defaults
// when they are absent.
func ExpandType(tmpl string, f *signature.FieldSignature) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	maxLen, ok := f.MaxLength()
	if !ok {
		switch f.Type {
		case signature.EmailField:
			maxLen = 254
		case signature.SlugField:
			maxLen = 50
		case signature.URLField:
			maxLen = 200
		default:
			maxLen = 255
		}
	}
	digits, ok := f.IntAttr("max_digits")
	if !ok {
		digits = 10
	}
	places, ok := f.IntAttr("decimal_places")
	if !ok {
		places = 2
	}
	return strings.NewReplacer(
		"{max_length}", strconv.Itoa(maxLen),
		"{max_digits}", strconv.Itoa(digits),
		"{decimal_places}", strconv.Itoa(places),
	).Replace(tmpl)
}

// QuoteWith wraps an identifier in the given quote character, doubling any
// embedded occurrences.
func QuoteWith(name string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(name, s, s+s) + s
}

// typeChangingAttrs are the field attributes that alter the column type.
var typeChangingAttrs = []string{"max_length", "max_digits", "decimal_places"}
