package mutation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/backend/sqlite"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/schema"
	sig "github.com/sadopc/goevolve/internal/signature"
)

func testProject(t *testing.T) *sig.ProjectSignature {
	t.Helper()

	p := sig.NewProject()
	app := sig.NewApp("tests")

	person := sig.NewModel("Person", "")
	require.NoError(t, person.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, person.AddField(sig.MustField("name", sig.CharField, map[string]any{"max_length": 20})))
	require.NoError(t, person.AddField(sig.MustField("age", sig.IntegerField, nil)))
	require.NoError(t, person.AddField(sig.MustField("mentor", sig.ForeignKey, map[string]any{"related_model": "tests.Person", "null": true})))
	person.UniqueTogether = [][]string{{"name", "age"}, {"name"}}
	require.NoError(t, app.AddModel(person))

	book := sig.NewModel("Book", "")
	require.NoError(t, book.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, book.AddField(sig.MustField("author", sig.ForeignKey, map[string]any{"related_model": "tests.Person"})))
	require.NoError(t, book.AddField(sig.MustField("readers", sig.ManyToManyField, map[string]any{"related_model": "tests.Person"})))
	require.NoError(t, app.AddModel(book))
	require.NoError(t, p.AddApp(app))

	other := sig.NewApp("other")
	tag := sig.NewModel("Tag", "")
	require.NoError(t, tag.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, tag.AddField(sig.MustField("owner", sig.ForeignKey, map[string]any{"related_model": "tests.Person"})))
	require.NoError(t, other.AddModel(tag))
	require.NoError(t, p.AddApp(other))
	return p
}

func testTarget(t *testing.T) Target {
	t.Helper()
	return Target{
		AppLabel: "tests",
		Project:  testProject(t),
		State:    dbstate.New("default"),
		Database: "default",
		Ops:      backend.NewGenerator(sqlite.Dialect{}),
	}
}

func requireFailure(t *testing.T, err error, contains string) *evoerr.SimulationFailure {
	t.Helper()
	require.Error(t, err)
	var sf *evoerr.SimulationFailure
	require.ErrorAs(t, err, &sf)
	assert.Contains(t, sf.Message, contains)
	return sf
}

func TestAddFieldSimulate(t *testing.T) {
	t.Run("non-null needs initial", func(t *testing.T) {
		tgt := testTarget(t)
		err := Simulate(&AddField{Model: "Person", Field: "email", Type: sig.EmailField}, tgt)
		sf := requireFailure(t, err, "A non-null initial value must be specified in the mutation.")
		assert.Equal(t, "Person", sf.ModelName)
		assert.Equal(t, "email", sf.FieldName)
		assert.Contains(t, sf.Message, `Cannot add the field "email" to model "tests.Person".`)
	})

	t.Run("initial given", func(t *testing.T) {
		tgt := testTarget(t)
		m, err := NewAddField("Person", "email", sig.EmailField, "", map[string]any{"max_length": 254})
		require.NoError(t, err)
		require.NoError(t, Simulate(m, tgt))
		f := tgt.Project.App("tests").Model("Person").Field("email")
		require.NotNil(t, f)
		assert.Equal(t, 254, f.Attr("max_length"))
	})

	t.Run("null and many-to-many need none", func(t *testing.T) {
		tgt := testTarget(t)
		require.NoError(t, Simulate(&AddField{Model: "Person", Field: "nick", Type: sig.CharField,
			Attrs: map[string]any{"null": true, "max_length": 10}}, tgt))
		require.NoError(t, Simulate(&AddField{Model: "Person", Field: "friends", Type: sig.ManyToManyField,
			Attrs: map[string]any{"related_model": "tests.Person"}}, tgt))
	})

	t.Run("duplicate", func(t *testing.T) {
		tgt := testTarget(t)
		err := Simulate(&AddField{Model: "Person", Field: "age", Type: sig.IntegerField, Initial: 1}, tgt)
		requireFailure(t, err, "A field with this name already exists.")
	})

	t.Run("missing model", func(t *testing.T) {
		tgt := testTarget(t)
		err := Simulate(&AddField{Model: "Nope", Field: "x", Type: sig.IntegerField, Initial: 1}, tgt)
		requireFailure(t, err, "The model could not be found in the signature.")
	})
}

func TestDeleteFieldSimulate(t *testing.T) {
	t.Run("primary key", func(t *testing.T) {
		tgt := testTarget(t)
		err := Simulate(&DeleteField{Model: "Person", Field: "id"}, tgt)
		requireFailure(t, err, "The field is a primary key and cannot be deleted.")
	})

	t.Run("shrinks unique_together", func(t *testing.T) {
		tgt := testTarget(t)
		require.NoError(t, Simulate(&DeleteField{Model: "Person", Field: "name"}, tgt))
		person := tgt.Project.App("tests").Model("Person")
		assert.Nil(t, person.Field("name"))
		assert.Equal(t, [][]string{{"age"}, {}}, person.UniqueTogether)
		assert.False(t, person.UniqueTogetherApplied)
	})

	t.Run("missing field", func(t *testing.T) {
		tgt := testTarget(t)
		err := Simulate(&DeleteField{Model: "Person", Field: "nope"}, tgt)
		requireFailure(t, err, "The field could not be found in the signature.")
	})
}

func TestRenameFieldSimulate(t *testing.T) {
	tgt := testTarget(t)
	require.NoError(t, Simulate(&RenameField{Model: "Book", OldField: "author", NewField: "writer"}, tgt))
	f := tgt.Project.App("tests").Model("Book").Field("writer")
	require.NotNil(t, f)
	assert.Equal(t, "writer_id", f.Column())

	require.NoError(t, Simulate(&RenameField{Model: "Book", OldField: "readers", NewField: "fans", DBTable: "book_fans"}, tgt))
	assert.Equal(t, "book_fans", tgt.Project.App("tests").Model("Book").Field("fans").Attr("db_table"))

	err := Simulate(&RenameField{Model: "Book", OldField: "writer", NewField: "fans"}, tgt)
	requireFailure(t, err, `A field named "fans" already exists.`)
}

func TestChangeFieldSimulate(t *testing.T) {
	tgt := testTarget(t)
	err := Simulate(&ChangeField{Model: "Person", Field: "mentor", Attrs: map[string]any{"null": false}}, tgt)
	requireFailure(t, err, "A non-null initial value needs to be specified in the mutation.")

	require.NoError(t, Simulate(&ChangeField{Model: "Person", Field: "name", Attrs: map[string]any{"max_length": 40, "null": true}}, tgt))
	f := tgt.Project.App("tests").Model("Person").Field("name")
	assert.Equal(t, 40, f.Attr("max_length"))
	assert.Equal(t, true, f.Attr("null"))
}

func TestChangeFieldRejectsSecondPrimaryKey(t *testing.T) {
	tgt := testTarget(t)
	err := Simulate(&ChangeField{Model: "Person", Field: "name", Attrs: map[string]any{"primary_key": true}}, tgt)
	requireFailure(t, err, `The model already has a primary key "id".`)

	person := tgt.Project.App("tests").Model("Person")
	assert.False(t, person.Field("name").PrimaryKey())
	assert.Equal(t, "id", person.PrimaryKey().Name)

	// Restating the existing key is fine.
	require.NoError(t, Simulate(&ChangeField{Model: "Person", Field: "id", Attrs: map[string]any{"primary_key": true}}, tgt))
}

func TestRenameModelRewritesRelations(t *testing.T) {
	tgt := testTarget(t)
	require.NoError(t, Simulate(&RenameModel{OldModel: "Person", NewModel: "Author", DBTable: "tests_author"}, tgt))

	app := tgt.Project.App("tests")
	assert.Nil(t, app.Model("Person"))
	author := app.Model("Author")
	require.NotNil(t, author)
	assert.Equal(t, "tests_author", author.TableName)

	assert.Equal(t, "tests.Author", author.Field("mentor").RelatedModel())
	assert.Equal(t, "tests.Author", app.Model("Book").Field("author").RelatedModel())
	assert.Equal(t, "tests.Author", app.Model("Book").Field("readers").RelatedModel())
	assert.Equal(t, "tests.Author", tgt.Project.App("other").Model("Tag").Field("owner").RelatedModel())

	err := Simulate(&RenameModel{OldModel: "Author", NewModel: "Book"}, tgt)
	requireFailure(t, err, `A model named "Book" already exists.`)
}

func TestDeleteModelSimulate(t *testing.T) {
	tgt := testTarget(t)
	require.NoError(t, Simulate(&DeleteModel{Model: "Book"}, tgt))
	assert.Nil(t, tgt.Project.App("tests").Model("Book"))

	err := Simulate(&DeleteModel{Model: "Book"}, tgt)
	sf := requireFailure(t, err, `Cannot delete the model "tests.Book".`)
	assert.Contains(t, sf.Message, "The model could not be found in the signature.")
}

func TestChangeMetaSimulate(t *testing.T) {
	tgt := testTarget(t)

	m, err := NewChangeMeta("Person", "unique_together", []any{tuple{"name", "age"}})
	require.NoError(t, err)
	require.NoError(t, Simulate(m, tgt))
	person := tgt.Project.App("tests").Model("Person")
	assert.Equal(t, [][]string{{"name", "age"}}, person.UniqueTogether)
	assert.True(t, person.UniqueTogetherApplied)

	// sqlite cannot comment tables.
	m, err = NewChangeMeta("Person", "db_table_comment", "people")
	require.NoError(t, err)
	requireFailure(t, Simulate(m, tgt), "The property cannot be modified on this database.")

	tgt.Ops = nil
	require.NoError(t, Simulate(m, tgt))
	assert.Equal(t, "people", person.DBTableComment)
}

func TestNewChangeMetaConvertsIndexes(t *testing.T) {
	m, err := NewChangeMeta("Person", "indexes", []any{
		map[string]any{"fields": []any{"name"}, "name": "person_name_idx"},
	})
	require.NoError(t, err)
	assert.Equal(t, []sig.IndexSignature{{Name: "person_name_idx", Fields: []string{"name"}}}, m.Value)

	_, err = NewChangeMeta("Person", "constraints", []any{map[string]any{"name": "x"}})
	assert.Error(t, err)
}

func TestSQLMutationCannotSimulateWithoutUpdate(t *testing.T) {
	tgt := testTarget(t)
	err := Simulate(&SQLMutation{Tag: "fixup", SQL: []string{"UPDATE x SET y = 1"}}, tgt)
	assert.True(t, evoerr.IsCannotSimulate(err))

	called := false
	m := &SQLMutation{Tag: "fixup", Update: func(sim *Simulation) error {
		called = true
		return nil
	}}
	require.NoError(t, Simulate(m, tgt))
	assert.True(t, called)
}

func TestMoveToMigrationsSimulate(t *testing.T) {
	tgt := testTarget(t)
	m := &MoveToMigrations{MarkApplied: []string{"0001_initial", "0001_initial"}}
	require.NoError(t, Simulate(m, tgt))
	app := tgt.Project.App("tests")
	assert.Equal(t, sig.UpgradeMigrations, app.UpgradeMethod)
	assert.Equal(t, []string{"0001_initial"}, app.AppliedMigrations)
}

func TestDeleteApplicationSimulate(t *testing.T) {
	tgt := testTarget(t)
	require.NoError(t, Simulate(&DeleteApplication{}, tgt))
	assert.Empty(t, tgt.Project.App("tests").Models())

	tgt.AppLabel = "missing"
	requireFailure(t, Simulate(&DeleteApplication{}, tgt), "The application could not be found in the signature.")
}

func TestIsMutableFollowsRouter(t *testing.T) {
	tgt := testTarget(t)
	tgt.Router = RouterFunc(func(app, model string) string {
		if model == "Book" {
			return "archive"
		}
		return ""
	})
	assert.True(t, (&DeleteModel{Model: "Person"}).IsMutable(tgt))
	assert.False(t, (&DeleteModel{Model: "Book"}).IsMutable(tgt))
	assert.True(t, (&DeleteApplication{}).IsMutable(tgt))

	// Only the models routed here are removed.
	require.NoError(t, Simulate(&DeleteApplication{}, tgt))
	assert.Equal(t, []string{"Book"}, tgt.Project.App("tests").ModelNames())
}

// recorder is a ModelMutator and AppMutator that records what it is asked
// to schedule.
type recorder struct {
	target Target
	calls  []string
	ran    []Mutation
}

func (r *recorder) Target() Target { return r.target }

func (r *recorder) AddColumn(m Mutation, f *sig.FieldSignature, initial any) {
	r.calls = append(r.calls, "add_column "+f.Name)
}

func (r *recorder) ChangeColumn(m Mutation, f *sig.FieldSignature, changes map[string]backend.AttrChange, initial any) {
	op := &backend.Op{Changes: changes}
	r.calls = append(r.calls, "change_column "+f.Name+" "+joinNames(op.ChangedAttrs()))
}

func (r *recorder) ChangeColumnType(m Mutation, oldField, newField *sig.FieldSignature, initial any) {
	r.calls = append(r.calls, "change_column_type "+oldField.Name+" "+string(newField.Type))
}

func (r *recorder) DeleteColumn(m Mutation, f *sig.FieldSignature) {
	r.calls = append(r.calls, "delete_column "+f.Name)
}

func (r *recorder) DeleteModel(m Mutation) { r.calls = append(r.calls, "delete_model") }

func (r *recorder) ChangeMeta(m Mutation, prop string, oldValue, newValue any) {
	r.calls = append(r.calls, "change_meta "+prop)
}

func (r *recorder) AddSQL(m Mutation, build func() (*backend.SQLResult, error)) {
	r.calls = append(r.calls, "sql")
}

func (r *recorder) RunMutation(m Mutation) error {
	r.ran = append(r.ran, m)
	return nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

func mutate(t *testing.T, r *recorder, m ModelMutation) error {
	t.Helper()
	model := r.target.ModelFor(r.target.Project.App(r.target.AppLabel).Model(m.ModelName()))
	return m.Mutate(r, model)
}

func TestChangeFieldUnsupportedAttr(t *testing.T) {
	r := &recorder{target: testTarget(t)}
	err := mutate(t, r, &ChangeField{Model: "Person", Field: "name", Attrs: map[string]any{"db_comment": "who"}})
	var ni *evoerr.NotImplementedError
	require.ErrorAs(t, err, &ni)
	assert.Equal(t, "sqlite", ni.Backend)
	assert.Equal(t, "db_comment", ni.Attr)
	assert.Equal(t, "ChangeField does not support modifying the 'db_comment' attribute on 'Person.name'.", ni.Message)
	assert.Empty(t, r.calls)
}

func TestChangeFieldOnlySchedulesRealChanges(t *testing.T) {
	r := &recorder{target: testTarget(t)}
	require.NoError(t, mutate(t, r, &ChangeField{Model: "Person", Field: "name",
		Attrs: map[string]any{"max_length": 20, "null": true}}))
	require.NoError(t, mutate(t, r, &ChangeField{Model: "Person", Field: "age",
		FieldType: sig.BigIntegerField}))
	assert.Equal(t, []string{
		"change_column name null",
		"change_column_type age BigIntegerField",
	}, r.calls)
}

func TestPlaceholderInitialRefusesToRun(t *testing.T) {
	r := &recorder{target: testTarget(t)}
	err := mutate(t, r, &AddField{Model: "Person", Field: "email", Type: sig.EmailField, Initial: UserValueRequired})
	sf := requireFailure(t, err, "requires user-specified initial value")
	assert.Contains(t, sf.Message, `"Person.email" in "tests"`)
	assert.Empty(t, r.calls)
}

func TestRenameFieldSchedulesColumnChange(t *testing.T) {
	r := &recorder{target: testTarget(t)}
	require.NoError(t, mutate(t, r, &RenameField{Model: "Book", OldField: "author", NewField: "writer"}))
	require.NoError(t, mutate(t, r, &RenameField{Model: "Book", OldField: "readers", NewField: "fans"}))
	assert.Equal(t, []string{"change_column author db_column", "change_column readers db_table"}, r.calls)
}

func TestChangeMetaUnsupportedMutate(t *testing.T) {
	r := &recorder{target: testTarget(t)}
	err := mutate(t, r, &ChangeMeta{Model: "Person", Prop: "db_table_comment", Value: "x"})
	var ni *evoerr.NotImplementedError
	require.ErrorAs(t, err, &ni)
	assert.Equal(t, "db_table_comment", ni.Attr)
}

type emptyIntrospector struct{}

func (emptyIntrospector) Tables(context.Context) ([]schema.Table, error) { return nil, nil }
func (emptyIntrospector) Indexes(context.Context, string) ([]schema.Index, error) {
	return nil, nil
}
func (emptyIntrospector) ForeignKeys(context.Context, string) ([]schema.ForeignKey, error) {
	return nil, nil
}

func TestDeleteApplicationSkipsMissingTables(t *testing.T) {
	state, err := dbstate.Scan(context.Background(), "default", emptyIntrospector{})
	require.NoError(t, err)

	tgt := testTarget(t)
	tgt.State = state
	r := &recorder{target: tgt}
	require.NoError(t, (&DeleteApplication{}).MutateApp(r))
	assert.Empty(t, r.ran)

	state.AddTable("tests_person")
	state.AddTable("tests_book")
	require.NoError(t, (&DeleteApplication{}).MutateApp(r))
	require.Len(t, r.ran, 2)
	assert.Equal(t, "DeleteModel('Book')", r.ran[0].String())
	assert.Equal(t, "DeleteModel('Person')", r.ran[1].String())
}
