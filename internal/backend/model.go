package backend

import (
	"strings"

	"github.com/sadopc/goevolve/internal/signature"
)

// Model is a lightweight handle on one model signature within its
// project. It answers the naming questions SQL generation asks: table,
// columns, relation targets and join tables.
type Model struct {
	AppLabel string
	Sig      *signature.ModelSignature
	Project  *signature.ProjectSignature
}

// Table returns the model's table name.
func (m Model) Table() string {
	if m.Sig.TableName != "" {
		return m.Sig.TableName
	}
	return signature.DefaultTableName(m.AppLabel, m.Sig.ModelName)
}

// Field looks up a field by name.
func (m Model) Field(name string) *signature.FieldSignature {
	return m.Sig.Field(name)
}

// Columns returns the concrete (non many-to-many) fields in declaration
// order.
func (m Model) Columns() []*signature.FieldSignature {
	var out []*signature.FieldSignature
	for _, f := range m.Sig.Fields() {
		if !f.Type.IsManyToMany() {
			out = append(out, f)
		}
	}
	return out
}

// ManyToMany returns the many-to-many fields in declaration order.
func (m Model) ManyToMany() []*signature.FieldSignature {
	var out []*signature.FieldSignature
	for _, f := range m.Sig.Fields() {
		if f.Type.IsManyToMany() {
			out = append(out, f)
		}
	}
	return out
}

// PKColumn returns the primary key column, defaulting to "id".
func (m Model) PKColumn() string {
	if pk := m.Sig.PrimaryKey(); pk != nil {
		return pk.Column()
	}
	if m.Sig.PKColumn != "" {
		return m.Sig.PKColumn
	}
	return "id"
}

// PKType returns the type a foreign key to this model should use.
func (m Model) PKType() signature.FieldType {
	if pk := m.Sig.PrimaryKey(); pk != nil {
		return referenceType(pk.Type)
	}
	return signature.IntegerField
}

func referenceType(t signature.FieldType) signature.FieldType {
	switch t {
	case signature.AutoField:
		return signature.IntegerField
	case signature.BigAutoField:
		return signature.BigIntegerField
	}
	return t
}

// Related returns a handle on the model a relation field points at. When
// the target is not part of the project, ok is false and the handle is
// synthesized from the reference with default naming.
func (m Model) Related(f *signature.FieldSignature) (rel Model, ok bool) {
	ref := f.RelatedModel()
	if ref == "self" || ref == "" {
		return m, true
	}
	app, name, valid := signature.SplitModelRef(ref)
	if !valid {
		app, name = m.AppLabel, ref
	}
	if m.Project != nil {
		if a := m.Project.App(app); a != nil {
			if sig := a.Model(name); sig != nil {
				return Model{AppLabel: app, Sig: sig, Project: m.Project}, true
			}
		}
	}
	return Model{
		AppLabel: app,
		Sig:      signature.NewModel(name, signature.DefaultTableName(app, name)),
		Project:  m.Project,
	}, false
}

// M2MTable returns the join table of a many-to-many field.
func (m Model) M2MTable(f *signature.FieldSignature) string {
	if t, ok := f.Attr("db_table").(string); ok && t != "" {
		return t
	}
	return signature.DefaultM2MTableName(m.Table(), f.Name)
}

// M2MColumns returns the join table's columns pointing at the owning model
// and at the related model.
func (m Model) M2MColumns(f *signature.FieldSignature) (from, to string) {
	rel, _ := m.Related(f)
	own := strings.ToLower(m.Sig.ModelName)
	other := strings.ToLower(rel.Sig.ModelName)
	if own == other {
		return "from_" + own + "_id", "to_" + other + "_id"
	}
	return own + "_id", other + "_id"
}
