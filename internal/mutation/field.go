package mutation

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/signature"
)

// normalizeAttrs validates a field attribute bag.
func normalizeAttrs(attrs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		nv, err := signature.NormalizeAttr(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func sortedKwargs(attrs map[string]any) []string {
	params := make([]string, 0, len(attrs))
	for k, v := range attrs {
		params = append(params, kwarg(k, v))
	}
	sort.Strings(params)
	return params
}

func valueRequired(t Target, modelName, fieldName string) error {
	return &evoerr.SimulationFailure{
		AppLabel:  t.AppLabel,
		ModelName: modelName,
		FieldName: fieldName,
		Message: fmt.Sprintf("Cannot use hinted evolution: AddField or ChangeField mutation for %q in %q requires user-specified initial value.",
			modelName+"."+fieldName, t.AppLabel),
	}
}

// AddField adds a field to a model. Non-null fields other than
// many-to-many relations need an initial value for existing rows.
type AddField struct {
	Model   string
	Field   string
	Type    signature.FieldType
	Initial any
	Attrs   map[string]any
}

// NewAddField validates the attributes and returns the mutation.
func NewAddField(model, field string, t signature.FieldType, initial any, attrs map[string]any) (*AddField, error) {
	sig, err := signature.NewField(field, t, attrs)
	if err != nil {
		return nil, err
	}
	return &AddField{Model: model, Field: field, Type: t, Initial: initial, Attrs: sig.Attrs}, nil
}

func (a *AddField) Name() string      { return "AddField" }
func (a *AddField) String() string    { return hint(a) }
func (a *AddField) ModelName() string { return a.Model }

func (a *AddField) HintParams() []string {
	kw := sortedKwargs(a.Attrs)
	if a.Initial != nil {
		kw = append(kw, kwarg("initial", a.Initial))
		sort.Strings(kw)
	}
	return append([]string{quote(a.Model), quote(a.Field), Value(a.Type)}, kw...)
}

func (a *AddField) failureContext() failureContext {
	return failureContext{
		template: `Cannot add the field "{field}" to model "{app}.{model}".`,
		model:    a.Model,
		field:    a.Field,
	}
}

func (a *AddField) IsMutable(t Target) bool { return modelMutable(t, a.Model) }

func (a *AddField) field() *signature.FieldSignature {
	f := &signature.FieldSignature{Name: a.Field, Type: a.Type, Attrs: map[string]any{}, Initial: a.Initial}
	for k, v := range a.Attrs {
		f.Attrs[k] = v
	}
	return f
}

func (a *AddField) Simulate(sim *Simulation) error {
	ms, err := sim.ModelSig(a.Model)
	if err != nil {
		return err
	}
	if ms.Field(a.Field) != nil {
		return sim.Fail("A field with this name already exists.")
	}
	if null, _ := a.Attrs["null"].(bool); !a.Type.IsManyToMany() && !null && a.Initial == nil {
		return sim.Fail("A non-null initial value must be specified in the mutation.")
	}
	if err := ms.AddField(a.field()); err != nil {
		return sim.Fail(err.Error())
	}
	return nil
}

func (a *AddField) Mutate(m ModelMutator, _ backend.Model) error {
	if isPlaceholder(a.Initial) {
		return valueRequired(m.Target(), a.Model, a.Field)
	}
	m.AddColumn(a, a.field(), a.Initial)
	return nil
}

// DeleteField removes a field, and its join table for many-to-many
// relations. The field is also removed from every unique_together entry.
type DeleteField struct {
	Model string
	Field string
}

func (d *DeleteField) Name() string      { return "DeleteField" }
func (d *DeleteField) String() string    { return hint(d) }
func (d *DeleteField) ModelName() string { return d.Model }

func (d *DeleteField) HintParams() []string {
	return []string{quote(d.Model), quote(d.Field)}
}

func (d *DeleteField) failureContext() failureContext {
	return failureContext{
		template: `Cannot delete the field "{field}" on model "{app}.{model}".`,
		model:    d.Model,
		field:    d.Field,
	}
}

func (d *DeleteField) IsMutable(t Target) bool { return modelMutable(t, d.Model) }

func (d *DeleteField) Simulate(sim *Simulation) error {
	ms, err := sim.ModelSig(d.Model)
	if err != nil {
		return err
	}
	f, err := sim.FieldSig(d.Model, d.Field)
	if err != nil {
		return err
	}
	if f.PrimaryKey() {
		return sim.Fail("The field is a primary key and cannot be deleted.")
	}

	// Entries shrink but are kept, even when a single field or none remains.
	if ms.UniqueTogether != nil {
		uts := make([][]string, 0, len(ms.UniqueTogether))
		for _, ut := range ms.UniqueTogether {
			kept := []string{}
			for _, name := range ut {
				if name != d.Field {
					kept = append(kept, name)
				}
			}
			uts = append(uts, kept)
		}
		ms.UniqueTogether = uts
	}

	ms.RemoveField(d.Field)
	return nil
}

func (d *DeleteField) Mutate(m ModelMutator, model backend.Model) error {
	f, err := fieldFor(m.Target(), model, d.Field)
	if err != nil {
		return err
	}
	m.DeleteColumn(d, f.Clone())
	return nil
}

// RenameField gives a field a new name. The column (or, for many-to-many
// relations, the join table) takes the explicit name given, or the default
// derived from the new field name.
type RenameField struct {
	Model    string
	OldField string
	NewField string
	DBColumn string
	DBTable  string
}

func (r *RenameField) Name() string      { return "RenameField" }
func (r *RenameField) String() string    { return hint(r) }
func (r *RenameField) ModelName() string { return r.Model }

func (r *RenameField) HintParams() []string {
	params := []string{quote(r.Model), quote(r.OldField), quote(r.NewField)}
	if r.DBColumn != "" {
		params = append(params, kwarg("db_column", r.DBColumn))
	}
	if r.DBTable != "" {
		params = append(params, kwarg("db_table", r.DBTable))
	}
	return params
}

func (r *RenameField) failureContext() failureContext {
	return failureContext{
		template: `Cannot rename the field "{field}" on model "{app}.{model}".`,
		model:    r.Model,
		field:    r.OldField,
	}
}

func (r *RenameField) IsMutable(t Target) bool { return modelMutable(t, r.Model) }

func (r *RenameField) Simulate(sim *Simulation) error {
	ms, err := sim.ModelSig(r.Model)
	if err != nil {
		return err
	}
	f, err := sim.FieldSig(r.Model, r.OldField)
	if err != nil {
		return err
	}
	if r.NewField != r.OldField && ms.Field(r.NewField) != nil {
		return sim.Fail(fmt.Sprintf("A field named %q already exists.", r.NewField))
	}

	switch {
	case f.Type.IsManyToMany():
		if r.DBTable != "" {
			_ = f.SetAttr("db_table", r.DBTable)
		} else {
			f.DelAttr("db_table")
		}
	case r.DBColumn != "":
		_ = f.SetAttr("db_column", r.DBColumn)
	default:
		f.DelAttr("db_column")
	}

	if err := ms.RenameField(r.OldField, r.NewField); err != nil {
		return sim.Fail(err.Error())
	}
	if f.PrimaryKey() {
		ms.PKColumn = f.Column()
	}
	return nil
}

// Mutate schedules the rename as a change of db_column (or db_table) from
// the current name to the new one. The change exists for SQL generation
// only; the signature is advanced by Simulate.
func (r *RenameField) Mutate(m ModelMutator, model backend.Model) error {
	f, err := fieldFor(m.Target(), model, r.OldField)
	if err != nil {
		return err
	}
	changes := map[string]backend.AttrChange{}
	if f.Type.IsManyToMany() {
		oldTable := model.M2MTable(f)
		newTable := r.DBTable
		if newTable == "" {
			newTable = signature.DefaultM2MTableName(model.Table(), r.NewField)
		}
		if oldTable != newTable {
			changes["db_table"] = backend.AttrChange{Old: oldTable, New: newTable}
		}
	} else {
		newCol := r.DBColumn
		if newCol == "" {
			newCol = signature.DefaultColumnName(r.NewField, f.Type)
		}
		if f.Column() != newCol {
			changes["db_column"] = backend.AttrChange{Old: f.Column(), New: newCol}
		}
	}
	m.ChangeColumn(r, f.Clone(), changes, nil)
	return nil
}

// ChangeField changes attributes of a field, and optionally its type.
// Only attributes whose value actually changes produce SQL.
type ChangeField struct {
	Model   string
	Field   string
	Initial any
	Attrs   map[string]any

	// FieldType, when set, moves the field to another type.
	FieldType signature.FieldType
}

// NewChangeField validates the attributes and returns the mutation.
func NewChangeField(model, field string, initial any, attrs map[string]any) (*ChangeField, error) {
	norm, err := normalizeAttrs(attrs)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return &ChangeField{Model: model, Field: field, Initial: initial, Attrs: norm}, nil
}

func (c *ChangeField) Name() string      { return "ChangeField" }
func (c *ChangeField) String() string    { return hint(c) }
func (c *ChangeField) ModelName() string { return c.Model }

func (c *ChangeField) HintParams() []string {
	kw := sortedKwargs(c.Attrs)
	kw = append(kw, kwarg("initial", c.Initial))
	if c.FieldType != "" {
		kw = append(kw, kwarg("field_type", c.FieldType))
	}
	sort.Strings(kw)
	return append([]string{quote(c.Model), quote(c.Field)}, kw...)
}

func (c *ChangeField) failureContext() failureContext {
	return failureContext{
		template: `Cannot change the field "{field}" on model "{app}.{model}".`,
		model:    c.Model,
		field:    c.Field,
	}
}

func (c *ChangeField) IsMutable(t Target) bool { return modelMutable(t, c.Model) }

func (c *ChangeField) Simulate(sim *Simulation) error {
	ms, err := sim.ModelSig(c.Model)
	if err != nil {
		return err
	}
	f, err := sim.FieldSig(c.Model, c.Field)
	if err != nil {
		return err
	}
	if v, ok := c.Attrs["null"]; ok {
		if null, _ := v.(bool); !null && !f.Type.IsManyToMany() && c.Initial == nil {
			return sim.Fail("A non-null initial value needs to be specified in the mutation.")
		}
	}
	if pk, _ := c.Attrs["primary_key"].(bool); pk {
		if cur := ms.PrimaryKey(); cur != nil && cur != f {
			return sim.Fail(fmt.Sprintf("The model already has a primary key %q.", cur.Name))
		}
	}
	if c.FieldType != "" {
		f.Type = c.FieldType
	}
	for k, v := range c.Attrs {
		if err := f.SetAttr(k, v); err != nil {
			return sim.Fail(err.Error())
		}
	}
	if f.PrimaryKey() {
		ms.PKColumn = f.Column()
	}
	return nil
}

func (c *ChangeField) Mutate(m ModelMutator, model backend.Model) error {
	t := m.Target()
	supported := t.Ops.SupportedChangeAttrs()
	names := make([]string, 0, len(c.Attrs))
	for k := range c.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if !supported[name] {
			return &evoerr.NotImplementedError{
				Backend:   t.Ops.Name(),
				AppLabel:  t.AppLabel,
				ModelName: c.Model,
				FieldName: c.Field,
				Attr:      name,
				Message: fmt.Sprintf("ChangeField does not support modifying the '%s' attribute on '%s.%s'.",
					name, c.Model, c.Field),
			}
		}
	}
	if isPlaceholder(c.Initial) {
		return valueRequired(t, c.Model, c.Field)
	}

	f, err := fieldFor(t, model, c.Field)
	if err != nil {
		return err
	}

	if c.FieldType != "" && c.FieldType != f.Type {
		nf := f.Clone()
		nf.Type = c.FieldType
		for k, v := range c.Attrs {
			_ = nf.SetAttr(k, v)
		}
		m.ChangeColumnType(c, f.Clone(), nf, c.Initial)
		return nil
	}

	changes := map[string]backend.AttrChange{}
	for _, name := range names {
		old, val := f.Attr(name), c.Attrs[name]
		if !reflect.DeepEqual(old, val) {
			changes[name] = backend.AttrChange{Old: old, New: val}
		}
	}
	m.ChangeColumn(c, f.Clone(), changes, c.Initial)
	return nil
}
