// Package schema describes what physically exists in a database, as
// reported by backend introspection.
package schema

// Table represents a database table.
type Table struct {
	Name    string
	Columns []Column
	Indexes []Index
	FKs     []ForeignKey
}

// Column represents a table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
	IsPK     bool
}

// Index represents a table index or unique constraint.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey represents a foreign key constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Column returns the named column, if present.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
