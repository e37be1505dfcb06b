package backend

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/signature"
)

// Operations is the SQL-generation contract a backend offers the mutators
// and the evolver.
type Operations interface {
	Name() string
	Dialect() Dialect
	QuoteName(name string) string
	SupportedChangeAttrs() map[string]bool
	SupportedChangeMeta() map[string]bool

	GenerateTableOpsSQL(m TableMutator, ops []*Op) (*SQLResult, error)

	CreateModelSQL(state *dbstate.State, model Model) (*SQLResult, error)
	AddM2MTableSQL(state *dbstate.State, model Model, f *signature.FieldSignature) (*SQLResult, error)
	DeleteTableSQL(state *dbstate.State, table string) *SQLResult
	DeleteModelSQL(state *dbstate.State, model Model) *SQLResult
	RenameTableSQL(state *dbstate.State, oldTable, newTable string) *SQLResult
	CreateIndexSQL(state *dbstate.State, table, name string, cols []string, unique bool) *SQLResult
	DropIndexSQL(state *dbstate.State, table, name string) *SQLResult
	AddConstraintSQL(state *dbstate.State, model Model, c signature.ConstraintSignature) (*SQLResult, error)
	DropConstraintSQL(state *dbstate.State, table string, c signature.ConstraintSignature) *SQLResult

	FieldsForNames(model Model, names []string) ([]*signature.FieldSignature, error)
	ExpectedState(database string, project *signature.ProjectSignature) *dbstate.State
}

// Generator implements Operations on top of a Dialect.
type Generator struct {
	d Dialect
}

var _ Operations = (*Generator)(nil)

// NewGenerator returns a generator for d.
func NewGenerator(d Dialect) *Generator {
	return &Generator{d: d}
}

func (g *Generator) Dialect() Dialect                      { return g.d }
func (g *Generator) Name() string                          { return g.d.Name() }
func (g *Generator) QuoteName(name string) string          { return g.d.QuoteName(name) }
func (g *Generator) SupportedChangeAttrs() map[string]bool { return g.d.SupportedChangeAttrs() }
func (g *Generator) SupportedChangeMeta() map[string]bool  { return g.d.SupportedChangeMeta() }

func (g *Generator) quoteCols(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = g.d.QuoteName(c)
	}
	return strings.Join(q, ", ")
}

// IndexName builds a deterministic index or constraint name that fits the
// dialect's identifier limit.
func (g *Generator) IndexName(table string, columns []string, suffix string) string {
	digest := fmt.Sprintf("%08x", murmur3.Sum32([]byte(strings.Join(append([]string{table}, columns...), "\x00"))))
	tail := "_" + digest
	if suffix != "" {
		tail += "_" + suffix
	}
	head := table
	if len(columns) > 0 {
		head += "_" + strings.Join(columns, "_")
	}
	if max := g.d.MaxNameLength(); max > 0 && len(head)+len(tail) > max {
		if len(tail) >= max {
			return tail[1 : max+1]
		}
		head = head[:max-len(tail)]
	}
	return head + tail
}

// DataType returns the column type of f, resolving relation fields to the
// type of the target's primary key.
func (g *Generator) DataType(model Model, f *signature.FieldSignature) string {
	if f.Type == signature.ForeignKey || f.Type == signature.OneToOneField {
		rel, _ := model.Related(f)
		ref := signature.MustField(f.Name, rel.PKType(), nil)
		if pk := rel.Sig.PrimaryKey(); pk != nil {
			if n, ok := pk.MaxLength(); ok {
				_ = ref.SetAttr("max_length", n)
			}
		}
		return g.d.DataType(ref)
	}
	return g.d.DataType(f)
}

// ColumnDefinition renders the column clause used by CREATE TABLE and ADD
// COLUMN. forceNull adds the column as nullable regardless of the field.
func (g *Generator) ColumnDefinition(model Model, f *signature.FieldSignature, forceNull bool) string {
	var b strings.Builder
	b.WriteString(g.d.QuoteName(f.Column()))
	b.WriteByte(' ')
	b.WriteString(g.DataType(model, f))
	switch {
	case f.PrimaryKey():
		b.WriteString(" NOT NULL ")
		b.WriteString(g.d.PrimaryKeyClause(f))
	case f.Null() || forceNull:
		b.WriteString(" NULL")
	default:
		b.WriteString(" NOT NULL")
	}
	if g.d.InlineConstraints() && (f.Type == signature.ForeignKey || f.Type == signature.OneToOneField) {
		rel, _ := model.Related(f)
		fmt.Fprintf(&b, " REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED",
			g.d.QuoteName(rel.Table()), g.d.QuoteName(rel.PKColumn()))
	}
	return b.String()
}

// CreateTableStatement renders CREATE TABLE for model under the given
// table name, without indexes.
func (g *Generator) CreateTableStatement(model Model, table string) string {
	var defs []string
	for _, f := range model.Columns() {
		defs = append(defs, g.ColumnDefinition(model, f, false))
	}
	if g.d.InlineConstraints() {
		for _, c := range model.Sig.Constraints {
			if c.Type == signature.CheckConstraint {
				defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", g.d.QuoteName(c.Name), c.Check()))
			}
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", g.d.QuoteName(table), strings.Join(defs, ",\n    "))
}

// CreateModelSQL creates the model's table, its indexes and constraints,
// and its many-to-many join tables.
func (g *Generator) CreateModelSQL(state *dbstate.State, model Model) (*SQLResult, error) {
	r := NewSQLResult()
	table := model.Table()
	r.AddSQL(g.CreateTableStatement(model, table))
	state.AddTable(table)
	if g.d.InlineConstraints() {
		for _, c := range model.Sig.Constraints {
			if c.Type == signature.CheckConstraint {
				state.AddConstraint(table, dbstate.ConstraintState{Name: c.Name, Kind: dbstate.KindCheck})
			}
		}
	}

	extras, err := g.ModelExtrasSQL(state, model)
	if err != nil {
		return nil, err
	}
	r.Append(extras)

	for _, f := range model.ManyToMany() {
		m2m, err := g.AddM2MTableSQL(state, model, f)
		if err != nil {
			return nil, err
		}
		r.Append(m2m)
	}
	return r, nil
}

// ModelExtrasSQL creates everything a table carries besides its columns:
// per-field indexes, unique and foreign key constraints, together sets,
// Meta.indexes, Meta.constraints and the table comment.
func (g *Generator) ModelExtrasSQL(state *dbstate.State, model Model) (*SQLResult, error) {
	r := NewSQLResult()
	table := model.Table()
	for _, f := range model.Columns() {
		r.Append(g.fieldExtrasSQL(state, model, f))
	}
	for _, tup := range model.Sig.UniqueTogether {
		cols := g.columnsFor(model, tup)
		r.Append(g.addUnique(state, table, g.IndexName(table, cols, "uniq"), cols))
	}
	for _, tup := range model.Sig.IndexTogether {
		cols := g.columnsFor(model, tup)
		r.Append(g.CreateIndexSQL(state, table, g.IndexName(table, cols, "idx"), cols, false))
	}
	for _, idx := range model.Sig.Indexes {
		r.Append(g.createMetaIndex(state, model, idx))
	}
	for _, c := range model.Sig.Constraints {
		if g.d.InlineConstraints() && c.Type == signature.CheckConstraint {
			continue
		}
		sql, err := g.AddConstraintSQL(state, model, c)
		if err != nil {
			return nil, err
		}
		r.Append(sql)
	}
	if model.Sig.DBTableComment != "" {
		if s := g.d.TableCommentSQL(g.d.QuoteName(table), model.Sig.DBTableComment); s != "" {
			r.AddSQL(s)
		}
	}
	return r, nil
}

func (g *Generator) fieldExtrasSQL(state *dbstate.State, model Model, f *signature.FieldSignature) *SQLResult {
	r := NewSQLResult()
	if f.PrimaryKey() {
		return r
	}
	table := model.Table()
	col := f.Column()
	switch {
	case f.Unique():
		r.Append(g.addUnique(state, table, g.IndexName(table, []string{col}, "uniq"), []string{col}))
	case f.DBIndex():
		r.Append(g.CreateIndexSQL(state, table, g.IndexName(table, []string{col}, ""), []string{col}, false))
	}
	if (f.Type == signature.ForeignKey || f.Type == signature.OneToOneField) && !g.d.InlineConstraints() {
		r.Append(g.addForeignKey(state, model, f))
	}
	return r
}

func (g *Generator) addForeignKey(state *dbstate.State, model Model, f *signature.FieldSignature) *SQLResult {
	r := NewSQLResult()
	rel, _ := model.Related(f)
	table, col := model.Table(), f.Column()
	refTable, refCol := rel.Table(), rel.PKColumn()
	name := g.IndexName(table, []string{col}, "fk_"+refTable+"_"+refCol)
	sql := g.d.AddForeignKeySQL(g.d.QuoteName(table), g.d.QuoteName(name), g.d.QuoteName(col),
		g.d.QuoteName(refTable), g.d.QuoteName(refCol))
	if sql == "" {
		return r
	}
	state.AddConstraint(table, dbstate.ConstraintState{Name: name, Kind: dbstate.KindForeignKey, Columns: []string{col}})
	r.AddSQL(sql)
	return r
}

func (g *Generator) addUnique(state *dbstate.State, table, name string, cols []string) *SQLResult {
	state.AddConstraint(table, dbstate.ConstraintState{Name: name, Kind: dbstate.KindUnique, Columns: cols})
	return SQLResultFrom(g.d.AddUniqueSQL(g.d.QuoteName(table), g.d.QuoteName(name), g.quoteCols(cols)))
}

// dropUnique drops every unique constraint or unique index on exactly cols.
// When the state knows none, the conventional name is assumed.
func (g *Generator) dropUnique(state *dbstate.State, table string, cols []string, suffix string) *SQLResult {
	r := NewSQLResult()
	var names []string
	for _, c := range state.FindConstraints(table, dbstate.KindUnique, cols) {
		names = append(names, c.Name)
	}
	for _, idx := range state.FindIndexes(table, cols, true) {
		if !slices.Contains(names, idx.Name) {
			names = append(names, idx.Name)
		}
	}
	if len(names) == 0 {
		names = []string{g.IndexName(table, cols, suffix)}
	}
	for _, name := range names {
		r.AddSQL(g.d.DropUniqueSQL(g.d.QuoteName(table), g.d.QuoteName(name)))
		state.RemoveConstraint(table, name)
		state.RemoveIndex(table, name)
	}
	return r
}

// dropIndexesOn drops every non-unique index on exactly cols.
func (g *Generator) dropIndexesOn(state *dbstate.State, table string, cols []string, suffix string) *SQLResult {
	r := NewSQLResult()
	found := state.FindIndexes(table, cols, false)
	if len(found) == 0 {
		found = []dbstate.IndexState{{Name: g.IndexName(table, cols, suffix)}}
	}
	for _, idx := range found {
		r.Append(g.DropIndexSQL(state, table, idx.Name))
	}
	return r
}

func (g *Generator) createMetaIndex(state *dbstate.State, model Model, idx signature.IndexSignature) *SQLResult {
	table := model.Table()
	cols := g.columnsFor(model, idx.Fields)
	name := idx.Name
	if name == "" {
		name = g.IndexName(table, cols, "idx")
	}
	return g.CreateIndexSQL(state, table, name, cols, false)
}

func (g *Generator) metaIndexName(model Model, idx signature.IndexSignature) string {
	if idx.Name != "" {
		return idx.Name
	}
	return g.IndexName(model.Table(), g.columnsFor(model, idx.Fields), "idx")
}

// columnsFor maps field names to columns. Names that no longer resolve to
// a field are used verbatim so stale entries can still be dropped.
func (g *Generator) columnsFor(model Model, names []string) []string {
	cols := make([]string, len(names))
	for i, name := range names {
		name = strings.TrimPrefix(name, "-")
		if f := model.Field(name); f != nil {
			cols[i] = f.Column()
		} else {
			cols[i] = name
		}
	}
	return cols
}

// CreateIndexSQL creates an index and records it.
func (g *Generator) CreateIndexSQL(state *dbstate.State, table, name string, cols []string, unique bool) *SQLResult {
	state.AddIndex(table, dbstate.IndexState{Name: name, Columns: cols, Unique: unique})
	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	return SQLResultFrom(fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, g.d.QuoteName(name), g.d.QuoteName(table), g.quoteCols(cols)))
}

// DropIndexSQL drops an index and forgets it.
func (g *Generator) DropIndexSQL(state *dbstate.State, table, name string) *SQLResult {
	state.RemoveIndex(table, name)
	return SQLResultFrom(g.d.DropIndexSQL(g.d.QuoteName(table), g.d.QuoteName(name)))
}

// AddConstraintSQL adds a Meta.constraints entry.
func (g *Generator) AddConstraintSQL(state *dbstate.State, model Model, c signature.ConstraintSignature) (*SQLResult, error) {
	table := model.Table()
	switch c.Type {
	case signature.UniqueConstraint:
		return g.addUnique(state, table, c.Name, g.columnsFor(model, c.Fields())), nil
	case signature.CheckConstraint:
		sql := g.d.AddCheckSQL(g.d.QuoteName(table), g.d.QuoteName(c.Name), c.Check())
		if sql == "" {
			return nil, fmt.Errorf("%s: check constraints cannot be added to an existing table: %w", g.d.Name(), ErrUnsupported)
		}
		state.AddConstraint(table, dbstate.ConstraintState{Name: c.Name, Kind: dbstate.KindCheck})
		return SQLResultFrom(sql), nil
	}
	return nil, fmt.Errorf("%s: unknown constraint type %q: %w", g.d.Name(), c.Type, ErrUnsupported)
}

// DropConstraintSQL drops a Meta.constraints entry.
func (g *Generator) DropConstraintSQL(state *dbstate.State, table string, c signature.ConstraintSignature) *SQLResult {
	state.RemoveConstraint(table, c.Name)
	state.RemoveIndex(table, c.Name)
	if c.Type == signature.UniqueConstraint {
		return SQLResultFrom(g.d.DropUniqueSQL(g.d.QuoteName(table), g.d.QuoteName(c.Name)))
	}
	return SQLResultFrom(g.d.DropConstraintSQL(g.d.QuoteName(table), g.d.QuoteName(c.Name)))
}

// AddM2MTableSQL creates the join table of a many-to-many field.
func (g *Generator) AddM2MTableSQL(state *dbstate.State, model Model, f *signature.FieldSignature) (*SQLResult, error) {
	rel, _ := model.Related(f)
	table := model.M2MTable(f)
	fromCol, toCol := model.M2MColumns(f)
	fromName, toName := strings.TrimSuffix(fromCol, "_id"), strings.TrimSuffix(toCol, "_id")

	join := signature.NewModel(model.Sig.ModelName+"_"+f.Name, table)
	fields := []*signature.FieldSignature{
		signature.MustField("id", signature.AutoField, map[string]any{"primary_key": true}),
		signature.MustField(fromName, signature.ForeignKey, map[string]any{
			"related_model": signature.ModelRef(model.AppLabel, model.Sig.ModelName),
			"db_column":     fromCol,
			"db_index":      false,
		}),
		signature.MustField(toName, signature.ForeignKey, map[string]any{
			"related_model": signature.ModelRef(rel.AppLabel, rel.Sig.ModelName),
			"db_column":     toCol,
			"db_index":      false,
		}),
	}
	for _, jf := range fields {
		if err := join.AddField(jf); err != nil {
			return nil, err
		}
	}
	join.UniqueTogether = [][]string{{fromName, toName}}

	jm := Model{AppLabel: model.AppLabel, Sig: join, Project: model.Project}
	return g.CreateModelSQL(state, jm)
}

// DeleteTableSQL drops a table and forgets it.
func (g *Generator) DeleteTableSQL(state *dbstate.State, table string) *SQLResult {
	state.RemoveTable(table)
	return SQLResultFrom("DROP TABLE " + g.d.QuoteName(table))
}

// DeleteModelSQL drops a model's join tables and then its table.
func (g *Generator) DeleteModelSQL(state *dbstate.State, model Model) *SQLResult {
	r := NewSQLResult()
	for _, f := range model.ManyToMany() {
		r.Append(g.DeleteTableSQL(state, model.M2MTable(f)))
	}
	r.Append(g.DeleteTableSQL(state, model.Table()))
	return r
}

// RenameTableSQL renames a table. Renaming to the same name is a no-op.
func (g *Generator) RenameTableSQL(state *dbstate.State, oldTable, newTable string) *SQLResult {
	if oldTable == newTable {
		return NewSQLResult()
	}
	state.RenameTable(oldTable, newTable)
	return SQLResultFrom(g.d.RenameTableSQL(g.d.QuoteName(oldTable), g.d.QuoteName(newTable)))
}

// FieldsForNames resolves field names on a model.
func (g *Generator) FieldsForNames(model Model, names []string) ([]*signature.FieldSignature, error) {
	out := make([]*signature.FieldSignature, 0, len(names))
	for _, name := range names {
		f := model.Field(name)
		if f == nil {
			return nil, fmt.Errorf("model %q has no field %q", model.Sig.ModelName, name)
		}
		out = append(out, f)
	}
	return out, nil
}

// ExpectedState derives the tables, indexes and constraints that creating
// every model of project would produce.
func (g *Generator) ExpectedState(database string, project *signature.ProjectSignature) *dbstate.State {
	s := dbstate.New(database)
	for _, app := range project.Apps() {
		for _, m := range app.Models() {
			_, _ = g.CreateModelSQL(s, Model{AppLabel: app.AppID, Sig: m, Project: project})
		}
	}
	return s
}

// GenerateTableOpsSQL compiles a model mutator's ops. Column and meta ops
// are batched per table; raw SQL and model deletion flush the batch.
func (g *Generator) GenerateTableOpsSQL(m TableMutator, ops []*Op) (*SQLResult, error) {
	compile := g.AlterTableSQL
	if rb, ok := g.d.(TableRebuilder); ok {
		compile = func(m TableMutator, batch []*Op) (*SQLResult, error) {
			return rb.RebuildTableSQL(g, m, batch)
		}
	}

	result := NewSQLResult()
	var batch []*Op
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sql, err := compile(m, batch)
		if err != nil {
			return err
		}
		result.Append(sql)
		batch = nil
		return nil
	}

	for _, op := range MergeOps(ops) {
		switch op.Kind {
		case OpSQL, OpDeleteModel:
			if err := flush(); err != nil {
				return nil, err
			}
			if op.Kind == OpSQL {
				sql := op.SQL
				if op.Build != nil {
					var err error
					if sql, err = op.Build(); err != nil {
						return nil, err
					}
				}
				result.Append(sql)
			} else {
				result.Append(g.DeleteModelSQL(m.State(), m.Model()))
			}
			if err := m.FinishOp(op); err != nil {
				return nil, err
			}
		default:
			batch = append(batch, op)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}

// alterBatch accumulates the SQL for one table. Clauses are folded into
// ALTER TABLE statements; standalone statements flush pending clauses so
// execution order matches op order.
//
// Each op's drops run before its own statements and its creates after them.
// Ops share a segment (and so an ALTER) only while that order holds for every
// op in it; otherwise the segment is closed and the op starts a new one.
type alterBatch struct {
	g     *Generator
	table string
	done  []Statement

	// current segment
	pre     []Statement
	clauses []string
	sql     []Statement
	post    []Statement

	// current op
	opPre  []Statement
	opBody []batchItem
	opPost []Statement
}

// batchItem is either an ALTER clause or standalone statements.
type batchItem struct {
	clause string
	stmts  []Statement
}

func (b *alterBatch) clause(c ...string) {
	for _, cl := range c {
		b.opBody = append(b.opBody, batchItem{clause: cl})
	}
}

func (b *alterBatch) stmt(r *SQLResult) {
	if stmts := r.Statements(); len(stmts) > 0 {
		b.opBody = append(b.opBody, batchItem{stmts: stmts})
	}
}

// drop schedules statements that must run before the current op.
func (b *alterBatch) drop(s ...Statement) { b.opPre = append(b.opPre, s...) }

// create schedules statements that must run after the current op.
func (b *alterBatch) create(s ...Statement) { b.opPost = append(b.opPost, s...) }

// endOp moves the current op into the segment. A drop may not move ahead of
// earlier ops' statements, and a create from an earlier op may not move past
// anything but added columns, which cannot invalidate it.
func (b *alterBatch) endOp(kind OpKind) {
	started := len(b.clauses)+len(b.sql)+len(b.post) > 0
	if (len(b.opPre) > 0 && started) ||
		(len(b.post) > 0 && kind != OpAddColumn && len(b.opPre)+len(b.opBody) > 0) {
		b.closeSegment()
	}
	b.pre = append(b.pre, b.opPre...)
	for _, it := range b.opBody {
		if it.stmts == nil {
			b.clauses = append(b.clauses, it.clause)
			continue
		}
		b.flushClauses()
		b.sql = append(b.sql, it.stmts...)
	}
	b.post = append(b.post, b.opPost...)
	b.opPre, b.opBody, b.opPost = nil, nil, nil
}

func (b *alterBatch) closeSegment() {
	b.flushClauses()
	b.done = append(b.done, b.pre...)
	b.done = append(b.done, b.sql...)
	b.done = append(b.done, b.post...)
	b.pre, b.sql, b.post = nil, nil, nil
}

func (b *alterBatch) flushClauses() {
	if len(b.clauses) == 0 {
		return
	}
	qt := b.g.d.QuoteName(b.table)
	if b.g.d.MultiClauseAlter() {
		b.sql = append(b.sql, Statement{SQL: fmt.Sprintf("ALTER TABLE %s %s", qt, strings.Join(b.clauses, ", "))})
	} else {
		for _, c := range b.clauses {
			b.sql = append(b.sql, Statement{SQL: fmt.Sprintf("ALTER TABLE %s %s", qt, c)})
		}
	}
	b.clauses = nil
}

// result returns the batch in execution order. A batch that fit in one
// segment keeps its Pre and Post phases.
func (b *alterBatch) result() *SQLResult {
	b.flushClauses()
	if len(b.done) == 0 {
		return &SQLResult{Pre: b.pre, SQL: b.sql, Post: b.post}
	}
	b.closeSegment()
	return &SQLResult{SQL: b.done}
}

// AlterTableSQL compiles a batch of column and meta ops on one table in
// place, finishing each op as it goes.
func (g *Generator) AlterTableSQL(m TableMutator, ops []*Op) (*SQLResult, error) {
	b := &alterBatch{g: g, table: m.Model().Table()}
	for _, op := range ops {
		model := m.Model()
		b.table = model.Table()
		var err error
		switch op.Kind {
		case OpAddColumn:
			g.addColumn(b, m.State(), model, op)
		case OpDeleteColumn:
			g.deleteColumn(b, m.State(), model, op)
		case OpChangeColumn:
			g.changeColumn(b, m.State(), model, op)
		case OpChangeColumnType:
			g.changeColumnType(b, m.State(), model, op)
		case OpChangeMeta:
			err = g.changeMeta(b, m.State(), model, op)
		default:
			err = fmt.Errorf("%s: unexpected op %q in table batch", g.d.Name(), op.Kind)
		}
		if err != nil {
			return nil, err
		}
		b.endOp(op.Kind)
		if err := m.FinishOp(op); err != nil {
			return nil, err
		}
	}
	return b.result(), nil
}

func (g *Generator) addColumn(b *alterBatch, state *dbstate.State, model Model, op *Op) {
	f := op.Field
	if f.Type.IsManyToMany() {
		sql, _ := g.AddM2MTableSQL(state, model, f)
		b.stmt(sql)
		return
	}
	table := model.Table()
	col := g.d.QuoteName(f.Column())
	if op.Initial != nil && !f.PrimaryKey() {
		b.clause("ADD COLUMN " + g.ColumnDefinition(model, f, true))
		b.stmt(SQLResultFrom(fmt.Sprintf("UPDATE %s SET %s = %s", g.d.QuoteName(table), col, g.d.QuoteValue(op.Initial))))
		if !f.Null() {
			b.clause(g.d.AlterColumnClauses(col, g.DataType(model, f), false, true, false)...)
		}
	} else {
		b.clause("ADD COLUMN " + g.ColumnDefinition(model, f, false))
	}
	b.create(g.fieldExtrasSQL(state, model, f).Statements()...)
}

func (g *Generator) dropColumnDependents(state *dbstate.State, table, col string) []Statement {
	indexes, constraints := state.DropColumn(table, col)
	qt := g.d.QuoteName(table)
	var out []Statement
	dropped := map[string]bool{}
	for _, c := range constraints {
		var sql string
		switch c.Kind {
		case dbstate.KindForeignKey:
			sql = g.d.DropForeignKeySQL(qt, g.d.QuoteName(c.Name))
		case dbstate.KindUnique:
			sql = g.d.DropUniqueSQL(qt, g.d.QuoteName(c.Name))
		default:
			sql = g.d.DropConstraintSQL(qt, g.d.QuoteName(c.Name))
		}
		dropped[c.Name] = true
		out = append(out, Statement{SQL: sql})
	}
	for _, idx := range indexes {
		if dropped[idx.Name] {
			continue
		}
		if idx.Unique {
			out = append(out, Statement{SQL: g.d.DropUniqueSQL(qt, g.d.QuoteName(idx.Name))})
		} else {
			out = append(out, Statement{SQL: g.d.DropIndexSQL(qt, g.d.QuoteName(idx.Name))})
		}
	}
	return out
}

func (g *Generator) deleteColumn(b *alterBatch, state *dbstate.State, model Model, op *Op) {
	f := op.Field
	if f.Type.IsManyToMany() {
		b.stmt(g.DeleteTableSQL(state, model.M2MTable(f)))
		return
	}
	col := f.Column()
	b.drop(g.dropColumnDependents(state, model.Table(), col)...)
	b.clause("DROP COLUMN " + g.d.QuoteName(col))
}

// ApplyChanges returns a copy of f with the new values of changes applied.
func ApplyChanges(f *signature.FieldSignature, changes map[string]AttrChange) *signature.FieldSignature {
	nf := f.Clone()
	for k, c := range changes {
		if c.New == nil {
			nf.DelAttr(k)
			continue
		}
		_ = nf.SetAttr(k, c.New)
	}
	return nf
}

func (g *Generator) changeColumn(b *alterBatch, state *dbstate.State, model Model, op *Op) {
	if len(op.Changes) == 0 {
		return
	}
	f := op.Field
	nf := ApplyChanges(f, op.Changes)
	table := model.Table()

	if f.Type.IsManyToMany() {
		if _, ok := op.Changes["db_table"]; ok {
			b.stmt(g.RenameTableSQL(state, model.M2MTable(f), model.M2MTable(nf)))
		}
		return
	}

	oldCol, newCol := f.Column(), nf.Column()
	if oldCol != newCol {
		b.stmt(SQLResultFrom(g.d.RenameColumnSQL(g.d.QuoteName(table), g.d.QuoteName(oldCol),
			g.d.QuoteName(newCol), g.ColumnDefinition(model, nf, false))))
		state.RenameColumn(table, oldCol, newCol)
	}
	qcol := g.d.QuoteName(newCol)

	_, nullChanged := op.Changes["null"]
	typeChanged := false
	for _, attr := range typeChangingAttrs {
		if _, ok := op.Changes[attr]; ok {
			typeChanged = true
		}
	}
	if nullChanged && !nf.Null() && op.Initial != nil {
		b.stmt(SQLResultFrom(fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
			g.d.QuoteName(table), qcol, g.d.QuoteValue(op.Initial), qcol)))
	}
	if nullChanged || typeChanged {
		b.clause(g.d.AlterColumnClauses(qcol, g.DataType(model, nf), nf.Null(), nullChanged, typeChanged)...)
	}

	cols := []string{newCol}
	if c, ok := op.Changes["unique"]; ok {
		if v, _ := c.New.(bool); v {
			b.create(g.addUnique(state, table, g.IndexName(table, cols, "uniq"), cols).Statements()...)
		} else {
			b.drop(g.dropUnique(state, table, cols, "uniq").Statements()...)
		}
	}
	if c, ok := op.Changes["db_index"]; ok {
		if v, _ := c.New.(bool); v {
			b.create(g.CreateIndexSQL(state, table, g.IndexName(table, cols, ""), cols, false).Statements()...)
		} else {
			b.drop(g.dropIndexesOn(state, table, cols, "").Statements()...)
		}
	}
}

func (g *Generator) changeColumnType(b *alterBatch, state *dbstate.State, model Model, op *Op) {
	f, nf := op.Field, op.NewField
	table := model.Table()
	oldCol, newCol := f.Column(), nf.Column()
	wasRel := f.Type == signature.ForeignKey || f.Type == signature.OneToOneField
	isRel := nf.Type == signature.ForeignKey || nf.Type == signature.OneToOneField

	if wasRel && !isRel {
		for _, c := range state.FindConstraints(table, dbstate.KindForeignKey, []string{oldCol}) {
			state.RemoveConstraint(table, c.Name)
			b.drop(Statement{SQL: g.d.DropForeignKeySQL(g.d.QuoteName(table), g.d.QuoteName(c.Name))})
		}
	}
	if oldCol != newCol {
		b.stmt(SQLResultFrom(g.d.RenameColumnSQL(g.d.QuoteName(table), g.d.QuoteName(oldCol),
			g.d.QuoteName(newCol), g.ColumnDefinition(model, nf, false))))
		state.RenameColumn(table, oldCol, newCol)
	}
	qcol := g.d.QuoteName(newCol)
	b.clause(g.d.AlterColumnClauses(qcol, g.DataType(model, nf), nf.Null(), f.Null() != nf.Null(), true)...)

	cols := []string{newCol}
	if nf.DBIndex() && !nf.Unique() && !(f.DBIndex() && !f.Unique()) {
		b.create(g.CreateIndexSQL(state, table, g.IndexName(table, cols, ""), cols, false).Statements()...)
	} else if !nf.DBIndex() && f.DBIndex() && !f.Unique() {
		b.drop(g.dropIndexesOn(state, table, cols, "").Statements()...)
	}
	if isRel && !wasRel && !g.d.InlineConstraints() {
		b.create(g.addForeignKey(state, model, nf).Statements()...)
	}
}

func tupleKey(t []string) string { return strings.Join(t, "\x00") }

func tupleDiff(a, b [][]string) [][]string {
	seen := map[string]bool{}
	for _, t := range b {
		seen[tupleKey(t)] = true
	}
	var out [][]string
	for _, t := range a {
		if !seen[tupleKey(t)] {
			out = append(out, t)
		}
	}
	return out
}

func (g *Generator) changeMeta(b *alterBatch, state *dbstate.State, model Model, op *Op) error {
	table := model.Table()
	switch op.Prop {
	case signature.MetaUniqueTogether, signature.MetaIndexTogether:
		oldT, _ := op.OldValue.([][]string)
		newT, _ := op.NewValue.([][]string)
		unique := op.Prop == signature.MetaUniqueTogether
		suffix := "idx"
		if unique {
			suffix = "uniq"
		}
		for _, t := range tupleDiff(oldT, newT) {
			cols := g.columnsFor(model, t)
			if unique {
				b.drop(g.dropUnique(state, table, cols, suffix).Statements()...)
			} else {
				b.drop(g.dropIndexesOn(state, table, cols, suffix).Statements()...)
			}
		}
		for _, t := range tupleDiff(newT, oldT) {
			cols := g.columnsFor(model, t)
			name := g.IndexName(table, cols, suffix)
			if unique {
				b.create(g.addUnique(state, table, name, cols).Statements()...)
			} else {
				b.create(g.CreateIndexSQL(state, table, name, cols, false).Statements()...)
			}
		}

	case signature.MetaIndexes:
		oldI, _ := op.OldValue.([]signature.IndexSignature)
		newI, _ := op.NewValue.([]signature.IndexSignature)
		for _, idx := range oldI {
			if !slices.ContainsFunc(newI, idx.Equal) {
				b.drop(g.DropIndexSQL(state, table, g.metaIndexName(model, idx)).Statements()...)
			}
		}
		for _, idx := range newI {
			if !slices.ContainsFunc(oldI, idx.Equal) {
				b.create(g.createMetaIndex(state, model, idx).Statements()...)
			}
		}

	case signature.MetaConstraints:
		oldC, _ := op.OldValue.([]signature.ConstraintSignature)
		newC, _ := op.NewValue.([]signature.ConstraintSignature)
		for _, c := range oldC {
			if !slices.ContainsFunc(newC, c.Equal) {
				b.drop(g.DropConstraintSQL(state, table, c).Statements()...)
			}
		}
		for _, c := range newC {
			if !slices.ContainsFunc(oldC, c.Equal) {
				sql, err := g.AddConstraintSQL(state, model, c)
				if err != nil {
					return err
				}
				b.create(sql.Statements()...)
			}
		}

	case signature.MetaDBTableComment:
		comment, _ := op.NewValue.(string)
		if sql := g.d.TableCommentSQL(g.d.QuoteName(table), comment); sql != "" {
			b.stmt(SQLResultFrom(sql))
		}

	default:
		return fmt.Errorf("%s: unknown meta property %q", g.d.Name(), op.Prop)
	}
	return nil
}
