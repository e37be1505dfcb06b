// Package dbstate tracks which tables, indexes and constraints exist in a
// target database while an evolution is being compiled.
package dbstate

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/sadopc/goevolve/internal/schema"
)

// Constraint kinds.
const (
	KindUnique     = "unique"
	KindForeignKey = "fk"
	KindCheck      = "check"
)

// IndexState is a known index.
type IndexState struct {
	Name    string
	Columns []string
	Unique  bool
}

// ConstraintState is a known table constraint.
type ConstraintState struct {
	Name    string
	Kind    string
	Columns []string
}

type tableState struct {
	indexes     []IndexState
	constraints []ConstraintState
}

// State is the tracked snapshot of one database.
type State struct {
	Database string

	scanned bool
	tables  map[string]*tableState
}

// New returns an empty, unscanned state.
func New(database string) *State {
	return &State{Database: database, tables: map[string]*tableState{}}
}

// Introspector is the subset of a backend connection needed to scan a
// database.
type Introspector interface {
	Tables(ctx context.Context) ([]schema.Table, error)
	Indexes(ctx context.Context, table string) ([]schema.Index, error)
	ForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error)
}

// Scan builds a state from a live database.
func Scan(ctx context.Context, database string, in Introspector) (*State, error) {
	s := New(database)
	s.scanned = true

	tables, err := in.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbstate scan tables: %w", err)
	}
	for _, t := range tables {
		s.AddTable(t.Name)

		indexes, err := in.Indexes(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("dbstate scan indexes of %s: %w", t.Name, err)
		}
		for _, idx := range indexes {
			s.AddIndex(t.Name, IndexState{Name: idx.Name, Columns: idx.Columns, Unique: idx.Unique})
		}

		fks, err := in.ForeignKeys(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("dbstate scan foreign keys of %s: %w", t.Name, err)
		}
		for _, fk := range fks {
			s.AddConstraint(t.Name, ConstraintState{Name: fk.Name, Kind: KindForeignKey, Columns: fk.Columns})
		}
	}
	return s, nil
}

// Scanned reports whether the state reflects an introspected database
// rather than one derived from a signature.
func (s *State) Scanned() bool { return s.scanned }

// HasTable reports whether a table is known.
func (s *State) HasTable(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// TableNames returns the known tables, sorted.
func (s *State) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddTable registers a table.
func (s *State) AddTable(name string) {
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = &tableState{}
	}
}

// RemoveTable forgets a table and everything attached to it.
func (s *State) RemoveTable(name string) {
	delete(s.tables, name)
}

// RenameTable moves a table's registries to a new name.
func (s *State) RenameTable(oldName, newName string) {
	t, ok := s.tables[oldName]
	if !ok {
		t = &tableState{}
	}
	delete(s.tables, oldName)
	s.tables[newName] = t
}

func (s *State) table(name string) *tableState {
	t, ok := s.tables[name]
	if !ok {
		t = &tableState{}
		s.tables[name] = t
	}
	return t
}

// AddIndex registers an index on a table, replacing any of the same name.
func (s *State) AddIndex(table string, idx IndexState) {
	t := s.table(table)
	idx.Columns = slices.Clone(idx.Columns)
	for i, existing := range t.indexes {
		if existing.Name == idx.Name {
			t.indexes[i] = idx
			return
		}
	}
	t.indexes = append(t.indexes, idx)
}

// RemoveIndex forgets an index.
func (s *State) RemoveIndex(table, name string) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	t.indexes = slices.DeleteFunc(t.indexes, func(i IndexState) bool { return i.Name == name })
}

// Indexes returns the indexes registered on a table.
func (s *State) Indexes(table string) []IndexState {
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	return slices.Clone(t.indexes)
}

// FindIndexes returns indexes on exactly the given columns with the given
// uniqueness.
func (s *State) FindIndexes(table string, columns []string, unique bool) []IndexState {
	var out []IndexState
	for _, idx := range s.Indexes(table) {
		if idx.Unique == unique && slices.Equal(idx.Columns, columns) {
			out = append(out, idx)
		}
	}
	return out
}

// HasName reports whether any table already owns an index or constraint
// with this name.
func (s *State) HasName(name string) bool {
	for _, t := range s.tables {
		for _, idx := range t.indexes {
			if idx.Name == name {
				return true
			}
		}
		for _, c := range t.constraints {
			if c.Name == name {
				return true
			}
		}
	}
	return false
}

// AddConstraint registers a constraint on a table.
func (s *State) AddConstraint(table string, c ConstraintState) {
	t := s.table(table)
	c.Columns = slices.Clone(c.Columns)
	for i, existing := range t.constraints {
		if existing.Name == c.Name {
			t.constraints[i] = c
			return
		}
	}
	t.constraints = append(t.constraints, c)
}

// RemoveConstraint forgets a constraint.
func (s *State) RemoveConstraint(table, name string) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	t.constraints = slices.DeleteFunc(t.constraints, func(c ConstraintState) bool { return c.Name == name })
}

// Constraints returns the constraints registered on a table.
func (s *State) Constraints(table string) []ConstraintState {
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	return slices.Clone(t.constraints)
}

// FindConstraints returns constraints of a kind on exactly the given
// columns.
func (s *State) FindConstraints(table, kind string, columns []string) []ConstraintState {
	var out []ConstraintState
	for _, c := range s.Constraints(table) {
		if c.Kind == kind && slices.Equal(c.Columns, columns) {
			out = append(out, c)
		}
	}
	return out
}

// RenameColumn rewrites column references in a table's registries.
func (s *State) RenameColumn(table, oldName, newName string) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	rename := func(cols []string) {
		for i, c := range cols {
			if c == oldName {
				cols[i] = newName
			}
		}
	}
	for _, idx := range t.indexes {
		rename(idx.Columns)
	}
	for _, c := range t.constraints {
		rename(c.Columns)
	}
}

// DropColumn forgets every index and constraint that covers a column and
// returns what was removed.
func (s *State) DropColumn(table, column string) ([]IndexState, []ConstraintState) {
	t, ok := s.tables[table]
	if !ok {
		return nil, nil
	}
	var idxOut []IndexState
	t.indexes = slices.DeleteFunc(t.indexes, func(i IndexState) bool {
		if slices.Contains(i.Columns, column) {
			idxOut = append(idxOut, i)
			return true
		}
		return false
	})
	var conOut []ConstraintState
	t.constraints = slices.DeleteFunc(t.constraints, func(c ConstraintState) bool {
		if slices.Contains(c.Columns, column) {
			conOut = append(conOut, c)
			return true
		}
		return false
	})
	return idxOut, conOut
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{Database: s.Database, scanned: s.scanned, tables: make(map[string]*tableState, len(s.tables))}
	for name, t := range s.tables {
		ct := &tableState{}
		for _, idx := range t.indexes {
			idx.Columns = slices.Clone(idx.Columns)
			ct.indexes = append(ct.indexes, idx)
		}
		for _, con := range t.constraints {
			con.Columns = slices.Clone(con.Columns)
			ct.constraints = append(ct.constraints, con)
		}
		c.tables[name] = ct
	}
	return c
}
