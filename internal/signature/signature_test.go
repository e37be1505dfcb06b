package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject(t *testing.T) *ProjectSignature {
	t.Helper()

	p := NewProject()
	app := NewApp("tests")
	foo := NewModel("Foo", "tests_foo")
	require.NoError(t, foo.AddField(MustField("id", AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, foo.AddField(MustField("name", CharField, map[string]any{"max_length": 100})))
	foo.UniqueTogether = [][]string{{"name", "id"}}
	foo.Indexes = []IndexSignature{{Name: "foo_name_idx", Fields: []string{"name"}}}
	require.NoError(t, app.AddModel(foo))

	bar := NewModel("Bar", "tests_bar")
	require.NoError(t, bar.AddField(MustField("id", AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, bar.AddField(MustField("foo", ForeignKey, map[string]any{"related_model": "tests.Foo"})))
	require.NoError(t, bar.AddField(MustField("tags", ManyToManyField, map[string]any{"related_model": "other.Tag"})))
	require.NoError(t, app.AddModel(bar))
	require.NoError(t, p.AddApp(app))

	other := NewApp("other")
	tag := NewModel("Tag", "other_tag")
	require.NoError(t, tag.AddField(MustField("id", AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, tag.AddField(MustField("owner", ForeignKey, map[string]any{"related_model": "tests.Foo", "null": true})))
	require.NoError(t, other.AddModel(tag))
	require.NoError(t, p.AddApp(other))
	return p
}

func TestAttrDefaults(t *testing.T) {
	tests := []struct {
		typ  FieldType
		attr string
		want any
	}{
		{CharField, "null", false},
		{CharField, "db_index", false},
		{ForeignKey, "db_index", true},
		{OneToOneField, "unique", true},
		{CharField, "max_length", nil},
		{IntegerField, "db_column", nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.attr, func(t *testing.T) {
			f := MustField("x", tt.typ, nil)
			assert.Equal(t, tt.want, f.Attr(tt.attr))
		})
	}
}

func TestNewFieldValidatesAttrs(t *testing.T) {
	_, err := NewField("x", CharField, map[string]any{"bogus": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field attribute "bogus"`)

	_, err = NewField("x", CharField, map[string]any{"null": "yes"})
	require.Error(t, err)

	_, err = NewField("x", CharField, map[string]any{"null": nil})
	require.Error(t, err)

	f, err := NewField("x", CharField, map[string]any{"max_length": float64(20)})
	require.NoError(t, err)
	n, ok := f.MaxLength()
	assert.True(t, ok)
	assert.Equal(t, 20, n)

	_, err = NewField("x", FieldType("Nope"), nil)
	require.Error(t, err)
}

func TestFieldColumn(t *testing.T) {
	assert.Equal(t, "name", MustField("name", CharField, nil).Column())
	assert.Equal(t, "owner_id", MustField("owner", ForeignKey, nil).Column())
	assert.Equal(t, "custom", MustField("owner", ForeignKey, map[string]any{"db_column": "custom"}).Column())
}

func TestFieldEqualTreatsDefaultsAsExplicit(t *testing.T) {
	a := MustField("x", CharField, map[string]any{"null": false, "max_length": 10})
	b := MustField("x", CharField, map[string]any{"max_length": 10})
	assert.True(t, a.Equal(b))

	c := MustField("x", CharField, map[string]any{"max_length": 20, "null": true})
	assert.Equal(t, []string{"max_length", "null"}, a.DiffAttrs(c))
}

func TestModelRejectsSecondPrimaryKey(t *testing.T) {
	m := NewModel("M", "t_m")
	require.NoError(t, m.AddField(MustField("id", AutoField, map[string]any{"primary_key": true})))
	err := m.AddField(MustField("other", IntegerField, map[string]any{"primary_key": true}))
	require.Error(t, err)
	assert.Equal(t, "id", m.PKColumn)
}

func TestModelRenameFieldKeepsPosition(t *testing.T) {
	m := NewModel("M", "t_m")
	require.NoError(t, m.AddField(MustField("a", IntegerField, nil)))
	require.NoError(t, m.AddField(MustField("b", IntegerField, nil)))
	require.NoError(t, m.RenameField("a", "c"))
	assert.Equal(t, []string{"c", "b"}, m.FieldNames())
	assert.Error(t, m.RenameField("c", "b"))
}

func TestCloneIsDeep(t *testing.T) {
	p := testProject(t)
	c := p.Clone()
	require.True(t, p.Equal(c))

	c.App("tests").Model("Foo").Field("name").Attrs["max_length"] = 5
	c.App("tests").Model("Foo").UniqueTogether[0][0] = "zzz"
	assert.Equal(t, 100, p.App("tests").Model("Foo").Field("name").Attrs["max_length"])
	assert.Equal(t, "name", p.App("tests").Model("Foo").UniqueTogether[0][0])
	assert.False(t, p.Equal(c))
}

func TestEqualIgnoresOrderAndAppliedFlag(t *testing.T) {
	a := NewModel("M", "t_m")
	require.NoError(t, a.AddField(MustField("x", IntegerField, nil)))
	require.NoError(t, a.AddField(MustField("y", IntegerField, nil)))
	a.UniqueTogether = [][]string{{"x", "y"}}

	b := NewModel("M", "t_m")
	require.NoError(t, b.AddField(MustField("y", IntegerField, nil)))
	require.NoError(t, b.AddField(MustField("x", IntegerField, nil)))
	b.UniqueTogether = [][]string{{"x", "y"}}
	b.UniqueTogetherApplied = true

	assert.True(t, a.Equal(b))
}

func TestMetaRoundTrip(t *testing.T) {
	m := NewModel("M", "t_m")
	require.NoError(t, m.SetMeta(MetaUniqueTogether, [][]string{{"a", "b"}}))
	assert.True(t, m.UniqueTogetherApplied)

	v, err := m.Meta(MetaUniqueTogether)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, v)

	require.Error(t, m.SetMeta(MetaIndexes, "nope"))
	require.Error(t, m.SetMeta("ordering", nil))
	_, err = m.Meta("ordering")
	require.Error(t, err)
}

func TestSerializeRoundTrip(t *testing.T) {
	p := testProject(t)
	p.App("tests").Model("Foo").Constraints = []ConstraintSignature{{
		Name:  "foo_name_uniq",
		Type:  UniqueConstraint,
		Attrs: map[string]any{"fields": []string{"name"}},
	}}

	data, err := p.Serialize()
	require.NoError(t, err)

	again, err := Deserialize(data)
	require.NoError(t, err)
	assert.True(t, p.Equal(again))
	assert.Equal(t, []string{"id", "name"}, again.App("tests").Model("Foo").FieldNames())
	assert.Equal(t, []string{"name"}, again.App("tests").Model("Foo").Constraints[0].Fields())

	data2, err := again.Serialize()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(data2))
}

func TestDefaultTableSurvivesRoundTrip(t *testing.T) {
	p := NewProject()
	app := NewApp("tests")
	person := NewModel("Person", "")
	require.NoError(t, person.AddField(MustField("id", AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, app.AddModel(person))
	require.NoError(t, p.AddApp(app))
	assert.Equal(t, "tests_person", person.Table())

	data, err := p.Serialize()
	require.NoError(t, err)
	again, err := Deserialize(data)
	require.NoError(t, err)
	assert.True(t, p.Equal(again))
	assert.True(t, again.Equal(p))

	// A stored signature that spelled the default out still matches.
	explicit := p.Clone()
	explicit.App("tests").Model("Person").TableName = "tests_person"
	assert.True(t, p.Equal(explicit))

	explicit.App("tests").Model("Person").TableName = "people"
	assert.False(t, p.Equal(explicit))
}

func TestDeserializeRejectsUnknownVersion(t *testing.T) {
	_, err := Deserialize([]byte(`{"version": 1, "apps": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestParseYAML(t *testing.T) {
	src := `
apps:
  - app_id: blog
    models:
      - model_name: Post
        fields:
          - name: id
            type: AutoField
            attrs: {primary_key: true}
          - name: title
            type: models.CharField
            attrs: {max_length: 200}
          - name: author
            type: ForeignKey
            attrs: {related_model: auth.User}
`
	p, err := ParseYAML([]byte(src))
	require.NoError(t, err)

	post := p.App("blog").Model("Post")
	require.NotNil(t, post)
	assert.Empty(t, post.TableName)
	assert.Equal(t, "blog_post", post.Table())
	assert.Equal(t, "id", post.PKColumn)
	assert.Equal(t, "author_id", post.Field("author").Column())
	n, _ := post.Field("title").MaxLength()
	assert.Equal(t, 200, n)
}

func TestRelationIndex(t *testing.T) {
	p := testProject(t)
	idx := NewRelationIndex(p)

	refs := idx.Referrers("tests.Foo")
	assert.ElementsMatch(t, []RelationRef{
		{AppLabel: "tests", ModelName: "Bar", FieldName: "foo"},
		{AppLabel: "other", ModelName: "Tag", FieldName: "owner"},
	}, refs)

	p.App("other").Model("Tag").RemoveField("owner")
	assert.Len(t, idx.Referrers("tests.Foo"), 2, "cached until invalidated")
	idx.Invalidate()
	assert.Len(t, idx.Referrers("tests.Foo"), 1)
}

func TestSplitModelRef(t *testing.T) {
	app, model, ok := SplitModelRef("tests.Foo")
	assert.True(t, ok)
	assert.Equal(t, "tests", app)
	assert.Equal(t, "Foo", model)

	_, _, ok = SplitModelRef("Foo")
	assert.False(t, ok)
}
