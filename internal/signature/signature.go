// Package signature holds the comparable, serializable snapshot of a
// project's schema: applications, models, fields, indexes and constraints.
package signature

import (
	"fmt"
	"reflect"
	"sort"
)

// Version is the current serialization format version.
const Version = 2

// Upgrade methods recorded on an application.
const (
	UpgradeEvolutions = "evolutions"
	UpgradeMigrations = "migrations"
)

// FieldSignature describes one field of a model.
type FieldSignature struct {
	Name  string
	Type  FieldType
	Attrs map[string]any

	// Initial is the value supplied when the field was added by a
	// mutation. It is neither compared nor serialized.
	Initial any
}

// NewField builds a field signature, validating every attribute.
func NewField(name string, t FieldType, attrs map[string]any) (*FieldSignature, error) {
	if name == "" {
		return nil, fmt.Errorf("field name is required")
	}
	if !knownFieldTypes[t] {
		return nil, fmt.Errorf("field %q: unknown field type %q", name, t)
	}
	f := &FieldSignature{Name: name, Type: t, Attrs: map[string]any{}}
	for k, v := range attrs {
		if err := f.SetAttr(k, v); err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
	}
	return f, nil
}

// MustField is like NewField but panics on invalid input. It is meant for
// fixtures and tests.
func MustField(name string, t FieldType, attrs map[string]any) *FieldSignature {
	f, err := NewField(name, t, attrs)
	if err != nil {
		panic(err)
	}
	return f
}

// Attr returns the explicit value of an attribute, or its default.
func (f *FieldSignature) Attr(name string) any {
	if v, ok := f.Attrs[name]; ok {
		return v
	}
	return AttrDefault(f.Type, name)
}

// HasAttr reports whether the attribute was set explicitly.
func (f *FieldSignature) HasAttr(name string) bool {
	_, ok := f.Attrs[name]
	return ok
}

// SetAttr validates and stores an explicit attribute value.
func (f *FieldSignature) SetAttr(name string, v any) error {
	nv, err := NormalizeAttr(name, v)
	if err != nil {
		return err
	}
	if f.Attrs == nil {
		f.Attrs = map[string]any{}
	}
	f.Attrs[name] = nv
	return nil
}

// DelAttr drops an explicit value so the attribute reverts to its default.
func (f *FieldSignature) DelAttr(name string) {
	delete(f.Attrs, name)
}

// ExplicitAttrs returns the names of explicitly set attributes, sorted.
func (f *FieldSignature) ExplicitAttrs() []string {
	names := make([]string, 0, len(f.Attrs))
	for k := range f.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (f *FieldSignature) boolAttr(name string) bool {
	b, _ := f.Attr(name).(bool)
	return b
}

func (f *FieldSignature) strAttr(name string) string {
	s, _ := f.Attr(name).(string)
	return s
}

// Null reports whether the column accepts NULL.
func (f *FieldSignature) Null() bool { return f.boolAttr("null") }

// PrimaryKey reports whether the field is the model's primary key.
func (f *FieldSignature) PrimaryKey() bool { return f.boolAttr("primary_key") }

// Unique reports whether the column carries a unique constraint.
func (f *FieldSignature) Unique() bool { return f.boolAttr("unique") }

// DBIndex reports whether the column is indexed.
func (f *FieldSignature) DBIndex() bool { return f.boolAttr("db_index") }

// RelatedModel returns the "app_label.ModelName" target of a relation.
func (f *FieldSignature) RelatedModel() string { return f.strAttr("related_model") }

// MaxLength returns the declared max_length, if any.
func (f *FieldSignature) MaxLength() (int, bool) {
	n, ok := f.Attr("max_length").(int)
	return n, ok
}

// IntAttr returns an integer attribute value, if set.
func (f *FieldSignature) IntAttr(name string) (int, bool) {
	n, ok := f.Attr(name).(int)
	return n, ok
}

// Column returns the database column name for the field.
func (f *FieldSignature) Column() string {
	if c := f.strAttr("db_column"); c != "" {
		return c
	}
	return DefaultColumnName(f.Name, f.Type)
}

// Clone returns a deep copy.
func (f *FieldSignature) Clone() *FieldSignature {
	c := &FieldSignature{Name: f.Name, Type: f.Type, Initial: f.Initial, Attrs: make(map[string]any, len(f.Attrs))}
	for k, v := range f.Attrs {
		c.Attrs[k] = v
	}
	return c
}

// Equal compares name, type and effective attribute values.
func (f *FieldSignature) Equal(o *FieldSignature) bool {
	if f.Name != o.Name || f.Type != o.Type {
		return false
	}
	return len(f.DiffAttrs(o)) == 0
}

// DiffAttrs returns the sorted names of attributes whose effective value
// differs between f and o.
func (f *FieldSignature) DiffAttrs(o *FieldSignature) []string {
	seen := map[string]bool{}
	var diff []string
	check := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if !reflect.DeepEqual(f.Attr(name), o.Attr(name)) {
			diff = append(diff, name)
		}
	}
	for k := range f.Attrs {
		check(k)
	}
	for k := range o.Attrs {
		check(k)
	}
	// Type-specific defaults can differ even when neither side is explicit.
	if f.Type != o.Type {
		for name := range attrSpecs {
			check(name)
		}
	}
	sort.Strings(diff)
	return diff
}

// IndexSignature describes an entry of a model's Meta.indexes.
type IndexSignature struct {
	Name   string
	Fields []string
	Attrs  map[string]any
}

// Clone returns a deep copy.
func (i IndexSignature) Clone() IndexSignature {
	return IndexSignature{
		Name:   i.Name,
		Fields: append([]string(nil), i.Fields...),
		Attrs:  cloneMap(i.Attrs),
	}
}

// Equal compares two index signatures.
func (i IndexSignature) Equal(o IndexSignature) bool {
	return i.Name == o.Name &&
		reflect.DeepEqual(normStrings(i.Fields), normStrings(o.Fields)) &&
		reflect.DeepEqual(normMap(i.Attrs), normMap(o.Attrs))
}

// ConstraintSignature describes an entry of a model's Meta.constraints.
type ConstraintSignature struct {
	Name  string
	Type  string
	Attrs map[string]any
}

// Constraint types understood by the backends.
const (
	UniqueConstraint = "UniqueConstraint"
	CheckConstraint  = "CheckConstraint"
)

// Clone returns a deep copy.
func (c ConstraintSignature) Clone() ConstraintSignature {
	return ConstraintSignature{Name: c.Name, Type: c.Type, Attrs: cloneMap(c.Attrs)}
}

// Equal compares two constraint signatures.
func (c ConstraintSignature) Equal(o ConstraintSignature) bool {
	return c.Name == o.Name && c.Type == o.Type &&
		reflect.DeepEqual(normMap(c.Attrs), normMap(o.Attrs))
}

// Fields returns the "fields" attribute of a unique constraint.
func (c ConstraintSignature) Fields() []string {
	v, _ := normValue(c.Attrs["fields"]).([]string)
	return v
}

// Check returns the SQL expression of a check constraint.
func (c ConstraintSignature) Check() string {
	s, _ := c.Attrs["check"].(string)
	return s
}

// ModelSignature describes one model and its table.
type ModelSignature struct {
	ModelName      string
	TableName      string
	PKColumn       string
	UniqueTogether [][]string
	IndexTogether  [][]string
	Indexes        []IndexSignature
	Constraints    []ConstraintSignature
	DBTableComment string

	// UniqueTogetherApplied records that unique_together was set by a
	// mutation, as opposed to never having been declared.
	UniqueTogetherApplied bool

	fields   []*FieldSignature
	appLabel string
}

// NewModel creates an empty model signature. An empty table means the
// default name, which is resolved once the model belongs to an app.
func NewModel(name, table string) *ModelSignature {
	return &ModelSignature{ModelName: name, TableName: table}
}

// Table returns the effective table name: TableName, or the default name
// for the owning app. A model outside any app reports TableName as is.
func (m *ModelSignature) Table() string {
	if m.TableName != "" || m.appLabel == "" {
		return m.TableName
	}
	return DefaultTableName(m.appLabel, m.ModelName)
}

// Fields returns the fields in declaration order.
func (m *ModelSignature) Fields() []*FieldSignature {
	return append([]*FieldSignature(nil), m.fields...)
}

// FieldNames returns the field names in declaration order.
func (m *ModelSignature) FieldNames() []string {
	names := make([]string, len(m.fields))
	for i, f := range m.fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by name.
func (m *ModelSignature) Field(name string) *FieldSignature {
	for _, f := range m.fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// AddField appends a field, rejecting duplicates and a second primary key.
func (m *ModelSignature) AddField(f *FieldSignature) error {
	if m.Field(f.Name) != nil {
		return fmt.Errorf("model %q already has a field %q", m.ModelName, f.Name)
	}
	if f.PrimaryKey() {
		if pk := m.PrimaryKey(); pk != nil {
			return fmt.Errorf("model %q already has primary key %q", m.ModelName, pk.Name)
		}
		m.PKColumn = f.Column()
	}
	m.fields = append(m.fields, f)
	return nil
}

// RemoveField deletes a field and returns it, or nil if absent.
func (m *ModelSignature) RemoveField(name string) *FieldSignature {
	for i, f := range m.fields {
		if f.Name == name {
			m.fields = append(m.fields[:i], m.fields[i+1:]...)
			return f
		}
	}
	return nil
}

// RenameField changes a field's key, keeping its position.
func (m *ModelSignature) RenameField(oldName, newName string) error {
	f := m.Field(oldName)
	if f == nil {
		return fmt.Errorf("model %q has no field %q", m.ModelName, oldName)
	}
	if oldName != newName && m.Field(newName) != nil {
		return fmt.Errorf("model %q already has a field %q", m.ModelName, newName)
	}
	f.Name = newName
	return nil
}

// PrimaryKey returns the primary key field, if any.
func (m *ModelSignature) PrimaryKey() *FieldSignature {
	for _, f := range m.fields {
		if f.PrimaryKey() {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m *ModelSignature) Clone() *ModelSignature {
	c := *m
	c.UniqueTogether = cloneTuples(m.UniqueTogether)
	c.IndexTogether = cloneTuples(m.IndexTogether)
	c.Indexes = nil
	for _, idx := range m.Indexes {
		c.Indexes = append(c.Indexes, idx.Clone())
	}
	c.Constraints = nil
	for _, con := range m.Constraints {
		c.Constraints = append(c.Constraints, con.Clone())
	}
	c.fields = make([]*FieldSignature, len(m.fields))
	for i, f := range m.fields {
		c.fields[i] = f.Clone()
	}
	return &c
}

// Equal compares two models. Field order and UniqueTogetherApplied are
// ignored, and an empty table name equals the default one.
func (m *ModelSignature) Equal(o *ModelSignature) bool {
	if m.ModelName != o.ModelName || m.Table() != o.Table() ||
		m.PKColumn != o.PKColumn || m.DBTableComment != o.DBTableComment {
		return false
	}
	if len(m.fields) != len(o.fields) {
		return false
	}
	for _, f := range m.fields {
		of := o.Field(f.Name)
		if of == nil || !f.Equal(of) {
			return false
		}
	}
	return len(m.DiffMeta(o)) == 0
}

// Meta property names.
const (
	MetaUniqueTogether = "unique_together"
	MetaIndexTogether  = "index_together"
	MetaIndexes        = "indexes"
	MetaConstraints    = "constraints"
	MetaDBTableComment = "db_table_comment"
)

// MetaProps lists the mutable meta properties in a stable order.
var MetaProps = []string{
	MetaUniqueTogether,
	MetaIndexTogether,
	MetaIndexes,
	MetaConstraints,
	MetaDBTableComment,
}

// Meta returns the current value of a meta property.
func (m *ModelSignature) Meta(prop string) (any, error) {
	switch prop {
	case MetaUniqueTogether:
		return cloneTuples(m.UniqueTogether), nil
	case MetaIndexTogether:
		return cloneTuples(m.IndexTogether), nil
	case MetaIndexes:
		out := make([]IndexSignature, 0, len(m.Indexes))
		for _, i := range m.Indexes {
			out = append(out, i.Clone())
		}
		return out, nil
	case MetaConstraints:
		out := make([]ConstraintSignature, 0, len(m.Constraints))
		for _, c := range m.Constraints {
			out = append(out, c.Clone())
		}
		return out, nil
	case MetaDBTableComment:
		return m.DBTableComment, nil
	}
	return nil, fmt.Errorf("unknown meta property %q", prop)
}

// SetMeta replaces a meta property. The value must have the Go type
// returned by Meta for the same property.
func (m *ModelSignature) SetMeta(prop string, v any) error {
	switch prop {
	case MetaUniqueTogether, MetaIndexTogether:
		tuples, ok := v.([][]string)
		if !ok {
			return fmt.Errorf("meta %q expects [][]string, got %T", prop, v)
		}
		if prop == MetaUniqueTogether {
			m.UniqueTogether = cloneTuples(tuples)
			m.UniqueTogetherApplied = true
		} else {
			m.IndexTogether = cloneTuples(tuples)
		}
	case MetaIndexes:
		idx, ok := v.([]IndexSignature)
		if !ok {
			return fmt.Errorf("meta %q expects []IndexSignature, got %T", prop, v)
		}
		m.Indexes = nil
		for _, i := range idx {
			m.Indexes = append(m.Indexes, i.Clone())
		}
	case MetaConstraints:
		cons, ok := v.([]ConstraintSignature)
		if !ok {
			return fmt.Errorf("meta %q expects []ConstraintSignature, got %T", prop, v)
		}
		m.Constraints = nil
		for _, c := range cons {
			m.Constraints = append(m.Constraints, c.Clone())
		}
	case MetaDBTableComment:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("meta %q expects string, got %T", prop, v)
		}
		m.DBTableComment = s
	default:
		return fmt.Errorf("unknown meta property %q", prop)
	}
	return nil
}

// DiffMeta returns the meta properties whose values differ, in MetaProps
// order.
func (m *ModelSignature) DiffMeta(o *ModelSignature) []string {
	var diff []string
	for _, prop := range MetaProps {
		if !MetaEqual(prop, mustMeta(m, prop), mustMeta(o, prop)) {
			diff = append(diff, prop)
		}
	}
	return diff
}

func mustMeta(m *ModelSignature, prop string) any {
	v, _ := m.Meta(prop)
	return v
}

// MetaEqual compares two values of the same meta property. Together
// tuples are compared as sets.
func MetaEqual(prop string, a, b any) bool {
	switch prop {
	case MetaUniqueTogether, MetaIndexTogether:
		at, _ := a.([][]string)
		bt, _ := b.([][]string)
		return tupleSetEqual(at, bt)
	case MetaIndexes:
		ai, _ := a.([]IndexSignature)
		bi, _ := b.([]IndexSignature)
		if len(ai) != len(bi) {
			return false
		}
		for i := range ai {
			if !ai[i].Equal(bi[i]) {
				return false
			}
		}
		return true
	case MetaConstraints:
		ac, _ := a.([]ConstraintSignature)
		bc, _ := b.([]ConstraintSignature)
		if len(ac) != len(bc) {
			return false
		}
		for i := range ac {
			if !ac[i].Equal(bc[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// AppSignature describes one application.
type AppSignature struct {
	AppID             string
	UpgradeMethod     string
	AppliedMigrations []string

	models []*ModelSignature
}

// NewApp creates an empty application signature.
func NewApp(label string) *AppSignature {
	return &AppSignature{AppID: label}
}

// Models returns the models in declaration order.
func (a *AppSignature) Models() []*ModelSignature {
	return append([]*ModelSignature(nil), a.models...)
}

// ModelNames returns the model names in declaration order.
func (a *AppSignature) ModelNames() []string {
	names := make([]string, len(a.models))
	for i, m := range a.models {
		names[i] = m.ModelName
	}
	return names
}

// Model looks up a model by name.
func (a *AppSignature) Model(name string) *ModelSignature {
	for _, m := range a.models {
		if m.ModelName == name {
			return m
		}
	}
	return nil
}

// AddModel appends a model, rejecting duplicates.
func (a *AppSignature) AddModel(m *ModelSignature) error {
	if a.Model(m.ModelName) != nil {
		return fmt.Errorf("app %q already has a model %q", a.AppID, m.ModelName)
	}
	m.appLabel = a.AppID
	a.models = append(a.models, m)
	return nil
}

// RemoveModel deletes a model and returns it, or nil if absent.
func (a *AppSignature) RemoveModel(name string) *ModelSignature {
	for i, m := range a.models {
		if m.ModelName == name {
			a.models = append(a.models[:i], a.models[i+1:]...)
			return m
		}
	}
	return nil
}

// RenameModel changes a model's key, keeping its position.
func (a *AppSignature) RenameModel(oldName, newName string) error {
	m := a.Model(oldName)
	if m == nil {
		return fmt.Errorf("app %q has no model %q", a.AppID, oldName)
	}
	if oldName != newName && a.Model(newName) != nil {
		return fmt.Errorf("app %q already has a model %q", a.AppID, newName)
	}
	m.ModelName = newName
	return nil
}

// Clone returns a deep copy.
func (a *AppSignature) Clone() *AppSignature {
	c := &AppSignature{
		AppID:             a.AppID,
		UpgradeMethod:     a.UpgradeMethod,
		AppliedMigrations: append([]string(nil), a.AppliedMigrations...),
		models:            make([]*ModelSignature, len(a.models)),
	}
	for i, m := range a.models {
		c.models[i] = m.Clone()
	}
	return c
}

// Equal compares two applications, ignoring model order.
func (a *AppSignature) Equal(o *AppSignature) bool {
	if a.AppID != o.AppID || a.UpgradeMethod != o.UpgradeMethod ||
		!reflect.DeepEqual(normStrings(a.AppliedMigrations), normStrings(o.AppliedMigrations)) {
		return false
	}
	if len(a.models) != len(o.models) {
		return false
	}
	for _, m := range a.models {
		om := o.Model(m.ModelName)
		if om == nil || !m.Equal(om) {
			return false
		}
	}
	return true
}

// ProjectSignature is the top-level snapshot: application label to
// application signature.
type ProjectSignature struct {
	apps []*AppSignature
}

// NewProject creates an empty project signature.
func NewProject() *ProjectSignature {
	return &ProjectSignature{}
}

// Apps returns the applications in insertion order.
func (p *ProjectSignature) Apps() []*AppSignature {
	return append([]*AppSignature(nil), p.apps...)
}

// AppLabels returns the application labels in insertion order.
func (p *ProjectSignature) AppLabels() []string {
	labels := make([]string, len(p.apps))
	for i, a := range p.apps {
		labels[i] = a.AppID
	}
	return labels
}

// App looks up an application by label.
func (p *ProjectSignature) App(label string) *AppSignature {
	for _, a := range p.apps {
		if a.AppID == label {
			return a
		}
	}
	return nil
}

// AddApp appends an application, rejecting duplicate labels.
func (p *ProjectSignature) AddApp(a *AppSignature) error {
	if p.App(a.AppID) != nil {
		return fmt.Errorf("project already has an app %q", a.AppID)
	}
	p.apps = append(p.apps, a)
	return nil
}

// RemoveApp deletes an application and returns it, or nil if absent.
func (p *ProjectSignature) RemoveApp(label string) *AppSignature {
	for i, a := range p.apps {
		if a.AppID == label {
			p.apps = append(p.apps[:i], p.apps[i+1:]...)
			return a
		}
	}
	return nil
}

// Model resolves an "app_label.ModelName" reference.
func (p *ProjectSignature) Model(ref string) *ModelSignature {
	app, model, ok := SplitModelRef(ref)
	if !ok {
		return nil
	}
	a := p.App(app)
	if a == nil {
		return nil
	}
	return a.Model(model)
}

// Clone returns a deep copy.
func (p *ProjectSignature) Clone() *ProjectSignature {
	c := &ProjectSignature{apps: make([]*AppSignature, len(p.apps))}
	for i, a := range p.apps {
		c.apps[i] = a.Clone()
	}
	return c
}

// Equal compares two projects, ignoring application order.
func (p *ProjectSignature) Equal(o *ProjectSignature) bool {
	if len(p.apps) != len(o.apps) {
		return false
	}
	for _, a := range p.apps {
		oa := o.App(a.AppID)
		if oa == nil || !a.Equal(oa) {
			return false
		}
	}
	return true
}

func cloneTuples(t [][]string) [][]string {
	if t == nil {
		return nil
	}
	out := make([][]string, len(t))
	for i, tup := range t {
		out[i] = append([]string{}, tup...)
	}
	return out
}

func tupleSetEqual(a, b [][]string) bool {
	key := func(t []string) string { return fmt.Sprintf("%q", t) }
	as := map[string]bool{}
	for _, t := range a {
		as[key(t)] = true
	}
	bs := map[string]bool{}
	for _, t := range b {
		bs[key(t)] = true
	}
	return reflect.DeepEqual(as, bs)
}

func normStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

// normValue converts decoded generic values ([]any of strings) into their
// canonical Go form so comparisons do not depend on the decoder.
func normValue(v any) any {
	switch t := v.(type) {
	case []any:
		strs := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				out := make([]any, len(t))
				for i, e := range t {
					out[i] = normValue(e)
				}
				return out
			}
			strs = append(strs, s)
		}
		return strs
	case []string:
		return append([]string{}, t...)
	case map[string]any:
		return normMap(t)
	default:
		if n, ok := toInt(v); ok {
			return n
		}
		return v
	}
}

func normMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normValue(v)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return normMap(m)
}
