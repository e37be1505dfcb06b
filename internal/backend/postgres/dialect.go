package postgres

import (
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/signature"
)

var dataTypes = map[signature.FieldType]string{
	signature.AutoField:            "serial",
	signature.BigAutoField:         "bigserial",
	signature.BinaryField:          "bytea",
	signature.BooleanField:         "boolean",
	signature.CharField:            "varchar({max_length})",
	signature.DateField:            "date",
	signature.DateTimeField:        "timestamp with time zone",
	signature.DecimalField:         "numeric({max_digits}, {decimal_places})",
	signature.EmailField:           "varchar({max_length})",
	signature.FloatField:           "double precision",
	signature.IntegerField:         "integer",
	signature.BigIntegerField:      "bigint",
	signature.SmallIntegerField:    "smallint",
	signature.PositiveIntegerField: "integer",
	signature.SlugField:            "varchar({max_length})",
	signature.TextField:            "text",
	signature.TimeField:            "time",
	signature.URLField:             "varchar({max_length})",
	signature.UUIDField:            "uuid",
	signature.JSONField:            "jsonb",
}

// Dialect generates PostgreSQL SQL. Most fragments come from
// backend.DefaultDialect, which already speaks PostgreSQL.
type Dialect struct {
	backend.DefaultDialect
}

var _ backend.Dialect = Dialect{}

func (Dialect) Name() string                 { return "postgres" }
func (Dialect) QuoteName(name string) string { return backend.QuoteWith(name, '"') }

func (Dialect) DataType(f *signature.FieldSignature) string {
	if t, ok := dataTypes[f.Type]; ok {
		return backend.ExpandType(t, f)
	}
	return "text"
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
