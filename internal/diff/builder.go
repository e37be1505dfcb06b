package diff

import (
	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/signature"
)

// builder walks the signatures and emits mutations. Every emitted mutation
// is simulated on work, a copy of the old signature, so later comparisons
// see the effect of earlier proposals.
type builder struct {
	opts      Options
	work      *signature.ProjectSignature
	cur       *signature.ProjectSignature
	mutations map[string][]mutation.Mutation
	renamed   map[string]map[string]string
}

func (b *builder) emit(label string, m mutation.Mutation) {
	b.mutations[label] = append(b.mutations[label], m)
	// A proposal that does not simulate is still emitted; the evolver
	// reports the failure when it runs the evolution.
	_ = mutation.Simulate(m, mutation.Target{AppLabel: label, Project: b.work})
}

// models matches deleted and added models of one application and emits
// the model renames.
func (b *builder) models(label string) *AppChange {
	c := &AppChange{AppLabel: label}
	oldApp, newApp := b.work.App(label), b.cur.App(label)

	var deleted, added []string
	for _, name := range oldApp.ModelNames() {
		if newApp.Model(name) == nil {
			deleted = append(deleted, name)
		}
	}
	for _, name := range newApp.ModelNames() {
		if oldApp.Model(name) == nil {
			added = append(added, name)
		}
	}

	if b.opts.DetectRenames {
		var unmatched []string
		for _, name := range added {
			nm := newApp.Model(name)
			j := -1
			for i, old := range deleted {
				if sameShape(oldApp.Model(old), nm) {
					j = i
					break
				}
			}
			if j < 0 {
				unmatched = append(unmatched, name)
				continue
			}
			old := deleted[j]
			deleted = append(deleted[:j], deleted[j+1:]...)
			b.emit(label, &mutation.RenameModel{OldModel: old, NewModel: name, DBTable: nm.TableName})
			if b.renamed == nil {
				b.renamed = map[string]map[string]string{}
			}
			if b.renamed[label] == nil {
				b.renamed[label] = map[string]string{}
			}
			b.renamed[label][name] = old
		}
		added = unmatched
	}

	c.Deleted = deleted
	c.Added = added
	return c
}

// sameShape reports whether two models have the same field names and
// types. Attributes are compared later, field by field.
func sameShape(a, b *signature.ModelSignature) bool {
	af, bf := a.Fields(), b.Fields()
	if len(af) != len(bf) {
		return false
	}
	for _, f := range af {
		o := b.Field(f.Name)
		if o == nil || o.Type != f.Type {
			return false
		}
	}
	return true
}

// fields compares the models present on both sides, then drops the
// deleted ones.
func (b *builder) fields(label string, c *AppChange) {
	newApp := b.cur.App(label)
	for _, name := range newApp.ModelNames() {
		wm := b.work.App(label).Model(name)
		if wm == nil {
			continue
		}
		if mc := b.model(label, wm, newApp.Model(name)); !mc.empty() {
			c.Changed = append(c.Changed, mc)
		}
	}
	for _, name := range c.Deleted {
		b.emit(label, &mutation.DeleteModel{Model: name})
	}
}

func (b *builder) model(label string, wm, nm *signature.ModelSignature) *ModelChange {
	name := nm.ModelName
	mc := &ModelChange{Model: name, RenamedFrom: b.renamed[label][name]}

	if wm.Table() != nm.Table() {
		mc.TableChanged = true
		b.emit(label, &mutation.RenameModel{OldModel: name, NewModel: name, DBTable: nm.TableName})
	}

	var added, deleted []string
	for _, f := range nm.Fields() {
		if wm.Field(f.Name) == nil {
			added = append(added, f.Name)
		}
	}
	for _, f := range wm.Fields() {
		if nm.Field(f.Name) == nil {
			deleted = append(deleted, f.Name)
		}
	}

	if b.opts.DetectRenames {
		var unmatched []string
		for _, fname := range added {
			nf := nm.Field(fname)
			j := -1
			for i, old := range deleted {
				if wm.Field(old).Type == nf.Type {
					j = i
					break
				}
			}
			if j < 0 {
				unmatched = append(unmatched, fname)
				continue
			}
			old := deleted[j]
			deleted = append(deleted[:j], deleted[j+1:]...)
			b.emit(label, renameField(name, old, nf))
			mc.Renamed = append(mc.Renamed, FieldRename{Old: old, New: fname})
		}
		added = unmatched
	}

	for _, fname := range added {
		nf := nm.Field(fname)
		add := &mutation.AddField{Model: name, Field: fname, Type: nf.Type, Attrs: map[string]any{}}
		for k, v := range nf.Attrs {
			add.Attrs[k] = v
		}
		if !nf.Type.IsManyToMany() && !nf.Null() {
			add.Initial = mutation.UserValueRequired
		}
		b.emit(label, add)
		mc.Added = append(mc.Added, fname)
	}

	for _, fname := range deleted {
		b.emit(label, &mutation.DeleteField{Model: name, Field: fname})
		mc.Deleted = append(mc.Deleted, fname)
	}

	for _, nf := range nm.Fields() {
		wf := wm.Field(nf.Name)
		if wf == nil {
			continue
		}
		attrs := wf.DiffAttrs(nf)
		if len(attrs) == 0 && wf.Type == nf.Type {
			continue
		}
		change := &mutation.ChangeField{Model: name, Field: nf.Name, Attrs: map[string]any{}}
		for _, attr := range attrs {
			change.Attrs[attr] = nf.Attr(attr)
		}
		fc := FieldChange{Field: nf.Name, Attrs: attrs}
		if wf.Type != nf.Type {
			change.FieldType = nf.Type
			fc.Attrs = append([]string{"field_type"}, attrs...)
		}
		if _, ok := change.Attrs["null"]; ok && !nf.Null() && !nf.Type.IsManyToMany() {
			change.Initial = mutation.UserValueRequired
		}
		b.emit(label, change)
		mc.Changed = append(mc.Changed, fc)
	}

	for _, prop := range wm.DiffMeta(nm) {
		v, _ := nm.Meta(prop)
		b.emit(label, &mutation.ChangeMeta{Model: name, Prop: prop, Value: v})
		mc.MetaChanged = append(mc.MetaChanged, prop)
	}
	return mc
}

// renameField keeps the new field's explicit column or join table name.
func renameField(model, old string, nf *signature.FieldSignature) *mutation.RenameField {
	r := &mutation.RenameField{Model: model, OldField: old, NewField: nf.Name}
	if nf.Type.IsManyToMany() {
		r.DBTable, _ = nf.Attr("db_table").(string)
	} else {
		r.DBColumn, _ = nf.Attr("db_column").(string)
	}
	return r
}

// app handles application-level differences.
func (b *builder) app(label string, c *AppChange) {
	wa, na := b.work.App(label), b.cur.App(label)
	if na.UpgradeMethod != signature.UpgradeMigrations {
		return
	}
	var mark []string
	for _, name := range na.AppliedMigrations {
		found := false
		for _, have := range wa.AppliedMigrations {
			if have == name {
				found = true
				break
			}
		}
		if !found {
			mark = append(mark, name)
		}
	}
	if wa.UpgradeMethod == signature.UpgradeMigrations && len(mark) == 0 {
		return
	}
	b.emit(label, &mutation.MoveToMigrations{MarkApplied: mark})
	c.Migrated = true
	c.MarkApplied = mark
}
