package mutation

import (
	"fmt"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/signature"
)

// RenameModel renames a model and moves it to DBTable. Every relation in
// the project pointing at the old name is updated. With an unchanged name
// only the table moves.
type RenameModel struct {
	OldModel string
	NewModel string
	DBTable  string
}

func (r *RenameModel) Name() string      { return "RenameModel" }
func (r *RenameModel) String() string    { return hint(r) }
func (r *RenameModel) ModelName() string { return r.OldModel }

func (r *RenameModel) HintParams() []string {
	params := []string{quote(r.OldModel), quote(r.NewModel)}
	if r.DBTable != "" {
		params = append(params, kwarg("db_table", r.DBTable))
	}
	return params
}

func (r *RenameModel) failureContext() failureContext {
	return failureContext{
		template: `Cannot rename the model "{app}.{model}".`,
		model:    r.OldModel,
	}
}

func (r *RenameModel) IsMutable(t Target) bool { return modelMutable(t, r.OldModel) }

func (r *RenameModel) Simulate(sim *Simulation) error {
	app, err := sim.App()
	if err != nil {
		return err
	}
	ms, err := sim.ModelSig(r.OldModel)
	if err != nil {
		return err
	}
	if r.NewModel != r.OldModel && app.Model(r.NewModel) != nil {
		return sim.Fail(fmt.Sprintf("A model named %q already exists.", r.NewModel))
	}

	oldRef := signature.ModelRef(sim.AppLabel, r.OldModel)
	newRef := signature.ModelRef(sim.AppLabel, r.NewModel)

	// Referrers are resolved before the rename so self-relations are found
	// under the old model name.
	index := sim.relations()
	index.Invalidate()
	var referrers []*signature.FieldSignature
	if oldRef != newRef {
		for _, ref := range index.Referrers(oldRef) {
			referrers = append(referrers, sim.Project.App(ref.AppLabel).Model(ref.ModelName).Field(ref.FieldName))
		}
	}

	ms.TableName = r.DBTable
	if err := app.RenameModel(r.OldModel, r.NewModel); err != nil {
		return sim.Fail(err.Error())
	}
	for _, f := range referrers {
		_ = f.SetAttr("related_model", newRef)
	}
	index.Invalidate()
	return nil
}

// Mutate renames the table, along with the join tables whose default name
// derives from it.
func (r *RenameModel) Mutate(m ModelMutator, model backend.Model) error {
	t := m.Target()
	renamed := model.Sig.Clone()
	renamed.ModelName = r.NewModel
	renamed.TableName = r.DBTable
	newModel := backend.Model{AppLabel: model.AppLabel, Sig: renamed, Project: model.Project}

	oldTable, newTable := model.Table(), newModel.Table()
	type rename struct{ from, to string }
	renames := []rename{{oldTable, newTable}}
	for _, f := range model.ManyToMany() {
		if !f.HasAttr("db_table") || f.Attr("db_table") == nil {
			renames = append(renames, rename{model.M2MTable(f), newModel.M2MTable(f)})
		}
	}

	m.AddSQL(r, func() (*backend.SQLResult, error) {
		sql := backend.NewSQLResult()
		for _, rn := range renames {
			sql.Append(t.Ops.RenameTableSQL(t.State, rn.from, rn.to))
		}
		return sql, nil
	})
	return nil
}

// DeleteModel drops a model's join tables and then its table.
type DeleteModel struct {
	Model string
}

func (d *DeleteModel) Name() string         { return "DeleteModel" }
func (d *DeleteModel) String() string       { return hint(d) }
func (d *DeleteModel) ModelName() string    { return d.Model }
func (d *DeleteModel) HintParams() []string { return []string{quote(d.Model)} }

func (d *DeleteModel) failureContext() failureContext {
	return failureContext{
		template: `Cannot delete the model "{app}.{model}".`,
		model:    d.Model,
	}
}

func (d *DeleteModel) IsMutable(t Target) bool { return modelMutable(t, d.Model) }

func (d *DeleteModel) Simulate(sim *Simulation) error {
	app, err := sim.App()
	if err != nil {
		return err
	}
	if _, err := sim.ModelSig(d.Model); err != nil {
		return err
	}
	app.RemoveModel(d.Model)
	return nil
}

func (d *DeleteModel) Mutate(m ModelMutator, _ backend.Model) error {
	m.DeleteModel(d)
	return nil
}

// ChangeMeta replaces one meta property of a model.
type ChangeMeta struct {
	Model string
	Prop  string
	Value any
}

// NewChangeMeta converts value to the property's signature type. Hint
// values arrive as generic lists and dicts.
func NewChangeMeta(model, prop string, value any) (*ChangeMeta, error) {
	v, err := metaValue(prop, value)
	if err != nil {
		return nil, fmt.Errorf("ChangeMeta %s.%s: %w", model, prop, err)
	}
	return &ChangeMeta{Model: model, Prop: prop, Value: v}, nil
}

func (c *ChangeMeta) Name() string      { return "ChangeMeta" }
func (c *ChangeMeta) String() string    { return hint(c) }
func (c *ChangeMeta) ModelName() string { return c.Model }

func (c *ChangeMeta) HintParams() []string {
	return []string{quote(c.Model), quote(c.Prop), Value(c.Value)}
}

func (c *ChangeMeta) failureContext() failureContext {
	return failureContext{
		template: `Cannot change the "{prop}" meta property on model "{app}.{model}".`,
		model:    c.Model,
		prop:     c.Prop,
	}
}

func (c *ChangeMeta) IsMutable(t Target) bool { return modelMutable(t, c.Model) }

func (c *ChangeMeta) Simulate(sim *Simulation) error {
	ms, err := sim.ModelSig(c.Model)
	if err != nil {
		return err
	}
	if sim.Ops != nil && !sim.Ops.SupportedChangeMeta()[c.Prop] {
		return sim.Fail("The property cannot be modified on this database.")
	}
	if err := ms.SetMeta(c.Prop, c.Value); err != nil {
		return sim.Fail(err.Error())
	}
	return nil
}

func (c *ChangeMeta) Mutate(m ModelMutator, model backend.Model) error {
	t := m.Target()
	if !t.Ops.SupportedChangeMeta()[c.Prop] {
		return &evoerr.NotImplementedError{
			Backend:   t.Ops.Name(),
			AppLabel:  t.AppLabel,
			ModelName: c.Model,
			Attr:      c.Prop,
			Message: fmt.Sprintf("ChangeMeta does not support modifying the '%s' property on '%s' for %s.",
				c.Prop, c.Model, t.Ops.Name()),
		}
	}
	old, err := model.Sig.Meta(c.Prop)
	if err != nil {
		return err
	}
	m.ChangeMeta(c, c.Prop, old, c.Value)
	return nil
}

// metaValue converts a generic value to the Go type SetMeta expects for
// prop.
func metaValue(prop string, v any) (any, error) {
	switch prop {
	case signature.MetaUniqueTogether, signature.MetaIndexTogether:
		return toTuples(v)
	case signature.MetaIndexes:
		if idx, ok := v.([]signature.IndexSignature); ok {
			return idx, nil
		}
		items, err := toDicts(v)
		if err != nil {
			return nil, err
		}
		out := make([]signature.IndexSignature, 0, len(items))
		for _, d := range items {
			idx := signature.IndexSignature{}
			for k, val := range d {
				switch k {
				case "name":
					idx.Name, _ = val.(string)
				case "fields":
					fields, err := toStrings(val)
					if err != nil {
						return nil, fmt.Errorf("index fields: %w", err)
					}
					idx.Fields = fields
				default:
					if idx.Attrs == nil {
						idx.Attrs = map[string]any{}
					}
					idx.Attrs[k] = val
				}
			}
			out = append(out, idx)
		}
		return out, nil
	case signature.MetaConstraints:
		if cons, ok := v.([]signature.ConstraintSignature); ok {
			return cons, nil
		}
		items, err := toDicts(v)
		if err != nil {
			return nil, err
		}
		out := make([]signature.ConstraintSignature, 0, len(items))
		for _, d := range items {
			c := signature.ConstraintSignature{}
			for k, val := range d {
				switch k {
				case "name":
					c.Name, _ = val.(string)
				case "type":
					c.Type, _ = val.(string)
				default:
					if c.Attrs == nil {
						c.Attrs = map[string]any{}
					}
					c.Attrs[k] = val
				}
			}
			if c.Name == "" || c.Type == "" {
				return nil, fmt.Errorf("constraint needs a name and a type")
			}
			out = append(out, c)
		}
		return out, nil
	case signature.MetaDBTableComment:
		switch s := v.(type) {
		case string:
			return s, nil
		case nil:
			return "", nil
		}
		return nil, fmt.Errorf("expected a string, got %T", v)
	}
	return nil, fmt.Errorf("unknown meta property %q", prop)
}

func toTuples(v any) ([][]string, error) {
	switch x := v.(type) {
	case nil:
		return [][]string{}, nil
	case [][]string:
		return x, nil
	case []any:
		out := make([][]string, 0, len(x))
		for _, e := range x {
			t, err := toStrings(e)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of tuples, got %T", v)
}

func toStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return x, nil
	case tuple:
		return toStrings([]any(x))
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", v)
}

func toDicts(v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return x, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, e := range x {
			d, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected a dict, got %T", e)
			}
			out = append(out, d)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of dicts, got %T", v)
}
