package sqlite

import (
	"fmt"
	"strings"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/signature"
)

// changesColumns reports whether op alters the shape of the table itself
// rather than only its indexes or join tables.
func changesColumns(op *backend.Op) bool {
	switch op.Kind {
	case backend.OpAddColumn, backend.OpDeleteColumn:
		return !op.Field.Type.IsManyToMany()
	case backend.OpChangeColumnType:
		return true
	case backend.OpChangeColumn:
		if op.Field.Type.IsManyToMany() {
			return false
		}
		for attr := range op.Changes {
			if attr != "unique" && attr != "db_index" {
				return true
			}
		}
		return false
	case backend.OpChangeMeta:
		return op.Prop == signature.MetaConstraints
	}
	return false
}

// RebuildTableSQL compiles a batch. Batches that only touch indexes are
// altered in place; anything else recreates the table under a temporary
// name, copies the rows across and swaps it in.
func (d Dialect) RebuildTableSQL(g *backend.Generator, m backend.TableMutator, ops []*backend.Op) (*backend.SQLResult, error) {
	rebuild := false
	for _, op := range ops {
		if changesColumns(op) {
			rebuild = true
			break
		}
	}
	if !rebuild {
		return g.AlterTableSQL(m, ops)
	}

	result := backend.NewSQLResult()
	old := m.Model()
	table := old.Table()

	// Source expression for every column of the rebuilt table, keyed by
	// the column's current name.
	src := map[string]string{}
	for _, f := range old.Columns() {
		src[f.Column()] = d.QuoteName(f.Column())
	}

	for _, op := range ops {
		model := m.Model()
		state := m.State()
		switch op.Kind {
		case backend.OpAddColumn:
			if op.Field.Type.IsManyToMany() {
				sql, err := g.AddM2MTableSQL(state, model, op.Field)
				if err != nil {
					return nil, err
				}
				result.Append(sql)
				break
			}
			expr := "NULL"
			if op.Initial != nil {
				expr = d.QuoteValue(op.Initial)
			}
			src[op.Field.Column()] = expr

		case backend.OpDeleteColumn:
			if op.Field.Type.IsManyToMany() {
				result.Append(g.DeleteTableSQL(state, model.M2MTable(op.Field)))
				break
			}
			delete(src, op.Field.Column())

		case backend.OpChangeColumn:
			nf := backend.ApplyChanges(op.Field, op.Changes)
			if op.Field.Type.IsManyToMany() {
				if _, ok := op.Changes["db_table"]; ok {
					result.Append(g.RenameTableSQL(state, model.M2MTable(op.Field), model.M2MTable(nf)))
				}
				break
			}
			moveSource(src, op.Field.Column(), nf.Column())
			if c, ok := op.Changes["null"]; ok && op.Initial != nil {
				if null, _ := c.New.(bool); null {
					break
				}
				col := nf.Column()
				src[col] = fmt.Sprintf("COALESCE(%s, %s)", src[col], d.QuoteValue(op.Initial))
			}

		case backend.OpChangeColumnType:
			moveSource(src, op.Field.Column(), op.NewField.Column())
		}
		if err := m.FinishOp(op); err != nil {
			return nil, err
		}
	}

	final := m.Model()
	state := m.State()
	tmp := table + "__new"

	var cols, exprs []string
	for _, f := range final.Columns() {
		expr, ok := src[f.Column()]
		if !ok {
			continue
		}
		cols = append(cols, d.QuoteName(f.Column()))
		exprs = append(exprs, expr)
	}

	result.AddSQL(g.CreateTableStatement(final, tmp))
	result.AddSQL(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		d.QuoteName(tmp), strings.Join(cols, ", "), strings.Join(exprs, ", "), d.QuoteName(table)))
	result.AddSQL("DROP TABLE " + d.QuoteName(table))
	result.AddSQL(d.RenameTableSQL(d.QuoteName(tmp), d.QuoteName(table)))

	state.RemoveTable(table)
	state.AddTable(table)
	for _, c := range final.Sig.Constraints {
		if c.Type == signature.CheckConstraint {
			state.AddConstraint(table, dbstate.ConstraintState{Name: c.Name, Kind: dbstate.KindCheck})
		}
	}
	extras, err := g.ModelExtrasSQL(state, final)
	if err != nil {
		return nil, err
	}
	result.Append(extras)
	return result, nil
}

func moveSource(src map[string]string, from, to string) {
	if from == to {
		return
	}
	if expr, ok := src[from]; ok {
		delete(src, from)
		src[to] = expr
	}
}
