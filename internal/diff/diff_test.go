package diff

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/goevolve/internal/mutation"
	sig "github.com/sadopc/goevolve/internal/signature"
)

func baseProject() *sig.ProjectSignature {
	p := sig.NewProject()
	tests := sig.NewApp("tests")

	person := sig.NewModel("Person", "")
	_ = person.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true}))
	_ = person.AddField(sig.MustField("name", sig.CharField, map[string]any{"max_length": 50}))
	_ = person.AddField(sig.MustField("age", sig.IntegerField, map[string]any{"null": true}))
	_ = person.AddField(sig.MustField("mentor", sig.ForeignKey, map[string]any{"related_model": "tests.Person", "null": true}))
	person.UniqueTogether = [][]string{{"name", "age"}}
	_ = tests.AddModel(person)

	book := sig.NewModel("Book", "")
	_ = book.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true}))
	_ = book.AddField(sig.MustField("title", sig.CharField, map[string]any{"max_length": 100}))
	_ = book.AddField(sig.MustField("author", sig.ForeignKey, map[string]any{"related_model": "tests.Person"}))
	_ = book.AddField(sig.MustField("readers", sig.ManyToManyField, map[string]any{"related_model": "tests.Person"}))
	_ = tests.AddModel(book)

	tag := sig.NewModel("Tag", "")
	_ = tag.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true}))
	_ = tag.AddField(sig.MustField("label", sig.CharField, map[string]any{"max_length": 20}))
	_ = tests.AddModel(tag)
	_ = p.AddApp(tests)

	other := sig.NewApp("other")
	note := sig.NewModel("Note", "")
	_ = note.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true}))
	_ = note.AddField(sig.MustField("person", sig.ForeignKey, map[string]any{"related_model": "tests.Person"}))
	_ = other.AddModel(note)
	_ = p.AddApp(other)
	return p
}

func hints(ms []mutation.Mutation) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

func TestNoChanges(t *testing.T) {
	d := New(baseProject(), baseProject(), Options{DetectRenames: true})
	assert.True(t, d.IsEmpty(false))
	assert.Empty(t, d.Evolution())
	assert.Empty(t, d.String())
}

func TestFieldChanges(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	person := cur.App("tests").Model("Person")
	require.NoError(t, person.AddField(sig.MustField("email", sig.EmailField, map[string]any{"max_length": 254})))
	require.NoError(t, person.AddField(sig.MustField("nick", sig.CharField, map[string]any{"max_length": 10, "null": true})))
	person.RemoveField("age")
	require.NoError(t, person.Field("name").SetAttr("max_length", 80))

	d := New(old, cur, Options{})
	require.False(t, d.IsEmpty(true))
	assert.Equal(t, []string{
		"AddField('Person', 'email', models.EmailField, initial=<<USER VALUE REQUIRED>>, max_length=254)",
		"AddField('Person', 'nick', models.CharField, max_length=10, null=True)",
		"DeleteField('Person', 'age')",
		"ChangeField('Person', 'name', initial=None, max_length=80)",
		"ChangeMeta('Person', 'unique_together', [('name', 'age')])",
	}, hints(d.MutationsFor("tests")))
	assert.Nil(t, d.MutationsFor("other"))

	assert.Equal(t, `In model tests.Person:
    Field 'email' has been added
    Field 'nick' has been added
    Field 'age' has been deleted
    In field 'name':
        Property 'max_length' has changed
    Meta property 'unique_together' has changed`, d.String())
}

func TestChangeToNotNullNeedsInitial(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	require.NoError(t, cur.App("tests").Model("Person").Field("age").SetAttr("null", false))

	d := New(old, cur, Options{})
	require.Len(t, d.MutationsFor("tests"), 1)
	change := d.MutationsFor("tests")[0].(*mutation.ChangeField)
	assert.Equal(t, mutation.UserValueRequired, change.Initial)
	assert.Equal(t, map[string]any{"null": false}, change.Attrs)
}

func TestFieldRenameHeuristic(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	person := cur.App("tests").Model("Person")
	person.RemoveField("age")
	person.RemoveField("name")
	require.NoError(t, person.AddField(sig.MustField("full_name", sig.CharField, map[string]any{"max_length": 50})))
	require.NoError(t, person.AddField(sig.MustField("years", sig.IntegerField, map[string]any{"null": true, "db_column": "yrs"})))
	require.NoError(t, person.AddField(sig.MustField("score", sig.IntegerField, map[string]any{"null": true})))
	person.UniqueTogether = [][]string{{"full_name", "years"}}

	t.Run("detected", func(t *testing.T) {
		d := New(old, cur, Options{DetectRenames: true})
		assert.Equal(t, []string{
			"RenameField('Person', 'name', 'full_name')",
			"RenameField('Person', 'age', 'years', db_column='yrs')",
			"AddField('Person', 'score', models.IntegerField, null=True)",
			"ChangeMeta('Person', 'unique_together', [('full_name', 'years')])",
		}, hints(d.MutationsFor("tests")))

		mc := d.Changed[0].Changed[0]
		assert.Equal(t, []FieldRename{{Old: "name", New: "full_name"}, {Old: "age", New: "years"}}, mc.Renamed)

		p := old.Clone()
		require.NoError(t, d.Apply(p))
		assert.True(t, p.Equal(cur))
	})

	t.Run("disabled", func(t *testing.T) {
		d := New(old, cur, Options{})
		ms := d.MutationsFor("tests")
		require.NotEmpty(t, ms)
		for _, m := range ms {
			assert.NotEqual(t, "RenameField", m.Name())
		}
		p := old.Clone()
		require.NoError(t, d.Apply(p))
		assert.True(t, p.Equal(cur))
	})
}

func TestModelChanges(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	app := cur.App("tests")
	tag := app.RemoveModel("Tag")
	label := tag.Clone()
	label.ModelName = "Label"
	require.NoError(t, app.AddModel(label))
	app.Model("Book").TableName = "library_book"

	extra := sig.NewModel("Shelf", "")
	require.NoError(t, extra.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, extra.AddField(sig.MustField("book", sig.ForeignKey, map[string]any{"related_model": "tests.Book"})))
	require.NoError(t, app.AddModel(extra))

	t.Run("rename detected", func(t *testing.T) {
		d := New(old, cur, Options{DetectRenames: true})
		assert.Equal(t, []string{
			"RenameModel('Tag', 'Label')",
			"RenameModel('Book', 'Book', db_table='library_book')",
		}, hints(d.MutationsFor("tests")))
		assert.Equal(t, []string{"Shelf"}, d.AddedModels("tests"))

		p := old.Clone()
		require.NoError(t, d.Apply(p))
		assert.True(t, p.Equal(cur))
	})

	t.Run("delete and install", func(t *testing.T) {
		d := New(old, cur, Options{})
		assert.Equal(t, []string{
			"RenameModel('Book', 'Book', db_table='library_book')",
			"DeleteModel('Tag')",
		}, hints(d.MutationsFor("tests")))
		assert.Equal(t, []string{"Label", "Shelf"}, d.AddedModels("tests"))
		assert.Contains(t, d.String(), "The model tests.Tag has been deleted")

		p := old.Clone()
		require.NoError(t, d.Apply(p))
		assert.True(t, p.Equal(cur))
	})
}

func TestModelRenameRewritesRelationsElsewhere(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	app := cur.App("tests")
	person := app.RemoveModel("Person")
	person.ModelName = "Author"
	require.NoError(t, person.Field("mentor").SetAttr("related_model", "tests.Author"))
	require.NoError(t, app.AddModel(person))
	require.NoError(t, app.Model("Book").Field("author").SetAttr("related_model", "tests.Author"))
	require.NoError(t, app.Model("Book").Field("readers").SetAttr("related_model", "tests.Author"))
	require.NoError(t, cur.App("other").Model("Note").Field("person").SetAttr("related_model", "tests.Author"))

	d := New(old, cur, Options{DetectRenames: true})
	assert.Equal(t, []string{"RenameModel('Person', 'Author')"}, hints(d.MutationsFor("tests")))
	assert.Nil(t, d.MutationsFor("other"))

	p := old.Clone()
	require.NoError(t, d.Apply(p))
	assert.True(t, p.Equal(cur))
}

func TestApplications(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	cur.RemoveApp("other")
	blog := sig.NewApp("blog")
	post := sig.NewModel("Post", "")
	require.NoError(t, post.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, blog.AddModel(post))
	require.NoError(t, cur.AddApp(blog))
	cur.App("tests").UpgradeMethod = sig.UpgradeMigrations
	cur.App("tests").AppliedMigrations = []string{"0001_initial"}

	d := New(old, cur, Options{})
	assert.Equal(t, []string{"other"}, d.DeletedApps)
	assert.Equal(t, []string{"blog"}, d.AddedApps)
	assert.False(t, d.IsEmpty(true))
	assert.Equal(t, []AppMutations{
		{AppLabel: "tests", Mutations: []mutation.Mutation{&mutation.MoveToMigrations{MarkApplied: []string{"0001_initial"}}}},
		{AppLabel: "other", Mutations: []mutation.Mutation{&mutation.DeleteApplication{}}},
	}, d.Evolution())
	assert.Contains(t, d.String(), "The application other has been deleted")
	assert.Contains(t, d.String(), "The application blog has been added")

	p := old.Clone()
	require.NoError(t, d.Apply(p))
	assert.True(t, p.Equal(cur))
}

func TestDeletedAppsOnly(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	cur.RemoveApp("other")
	d := New(old, cur, Options{})
	assert.True(t, d.IsEmpty(true))
	assert.False(t, d.IsEmpty(false))
}

func TestHintTextParses(t *testing.T) {
	old := baseProject()
	cur := baseProject()
	require.NoError(t, cur.App("tests").Model("Book").AddField(
		sig.MustField("isbn", sig.CharField, map[string]any{"max_length": 13, "null": true})))
	cur.App("tests").Model("Book").Indexes = []sig.IndexSignature{{Name: "book_title_idx", Fields: []string{"title"}}}

	d := New(old, cur, Options{})
	text := d.HintText()
	assert.Contains(t, text, "# tests\nMUTATIONS = [\n")

	ms, err := mutation.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, hints(d.MutationsFor("tests")), hints(ms))
}

// edit is one random change used to derive a new signature from the base.
func edit(p *sig.ProjectSignature, kind, i int) {
	app := p.App("tests")
	person := app.Model("Person")
	switch kind {
	case 0:
		_ = person.AddField(sig.MustField(fmt.Sprintf("extra%d", i), sig.IntegerField, map[string]any{"null": true}))
	case 1:
		_ = app.Model("Book").AddField(sig.MustField(fmt.Sprintf("code%d", i), sig.CharField, map[string]any{"max_length": 10}))
	case 2:
		person.RemoveField("age")
	case 3:
		title := app.Model("Book").Field("title")
		_ = title.SetAttr("max_length", 100+i)
		_ = title.SetAttr("null", i%2 == 0)
	case 4:
		if i%2 == 0 {
			person.UniqueTogether = [][]string{{"name"}}
		} else {
			person.UniqueTogether = nil
		}
	case 5:
		if tag := app.Model("Tag"); tag != nil {
			tag.TableName = fmt.Sprintf("custom_tag_%d", i)
		}
	case 6:
		app.RemoveModel("Tag")
	case 7:
		m := sig.NewModel(fmt.Sprintf("Extra%d", i), "")
		_ = m.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true}))
		_ = m.AddField(sig.MustField("owner", sig.ForeignKey, map[string]any{"related_model": "tests.Person"}))
		_ = app.AddModel(m)
	case 8:
		if f := person.Field("name"); f != nil {
			person.RemoveField("name")
			_ = person.AddField(sig.MustField(fmt.Sprintf("name%d", i), sig.CharField, map[string]any{"max_length": 60}))
		}
	case 9:
		person.DBTableComment = fmt.Sprintf("people %d", i)
	case 10:
		if tag := app.RemoveModel("Tag"); tag != nil {
			tag.ModelName = fmt.Sprintf("Label%d", i)
			_ = app.AddModel(tag)
		}
	case 11:
		p.RemoveApp("other")
	}
}

func TestDiffRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("applying the diff of old turns it into new", prop.ForAll(
		func(kinds []int, detect bool) bool {
			old := baseProject()
			cur := baseProject()
			for i, k := range kinds {
				edit(cur, k, i)
			}
			d := New(old, cur, Options{DetectRenames: detect})
			p := old.Clone()
			if err := d.Apply(p); err != nil {
				t.Logf("apply %v: %v", kinds, err)
				return false
			}
			if !p.Equal(cur) {
				t.Logf("signatures differ after %v:\n%s", kinds, d.HintText())
				return false
			}
			return !old.Equal(cur) || d.IsEmpty(false)
		},
		gen.SliceOfN(6, gen.IntRange(0, 11)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
