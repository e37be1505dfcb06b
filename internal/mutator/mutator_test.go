package mutator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/backend/postgres"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/schema"
	sig "github.com/sadopc/goevolve/internal/signature"
)

func testProject(t *testing.T) *sig.ProjectSignature {
	t.Helper()
	p := sig.NewProject()
	app := sig.NewApp("tests")

	person := sig.NewModel("Person", "")
	require.NoError(t, person.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, person.AddField(sig.MustField("name", sig.CharField, map[string]any{"max_length": 100})))
	require.NoError(t, app.AddModel(person))

	book := sig.NewModel("Book", "")
	require.NoError(t, book.AddField(sig.MustField("id", sig.AutoField, map[string]any{"primary_key": true})))
	require.NoError(t, book.AddField(sig.MustField("author", sig.ForeignKey, map[string]any{"related_model": "tests.Person"})))
	require.NoError(t, book.AddField(sig.MustField("readers", sig.ManyToManyField, map[string]any{"related_model": "tests.Person"})))
	require.NoError(t, app.AddModel(book))
	require.NoError(t, p.AddApp(app))
	return p
}

func newMutator(t *testing.T) *AppMutator {
	t.Helper()
	ops := backend.NewGenerator(postgres.Dialect{})
	p := testProject(t)
	return NewAppMutator(mutation.Target{
		AppLabel: "tests",
		Project:  p,
		State:    ops.ExpectedState("default", p),
		Database: "default",
		Ops:      ops,
	})
}

func TestLiveSignatureAdvancesOnlyOnCompile(t *testing.T) {
	m := newMutator(t)
	require.NoError(t, m.RunMutations([]mutation.Mutation{
		&mutation.AddField{Model: "Person", Field: "age", Type: sig.IntegerField, Initial: 0},
	}))

	assert.NotNil(t, m.Target().Project.App("tests").Model("Person").Field("age"))
	assert.Nil(t, m.Project().App("tests").Model("Person").Field("age"))

	sql, err := m.ToSQL()
	require.NoError(t, err)
	all := sql.String()
	assert.Contains(t, all, `ADD COLUMN "age" integer NULL`)
	assert.Contains(t, all, `UPDATE "tests_person" SET "age" = 0`)
	assert.Contains(t, all, `ALTER COLUMN "age" SET NOT NULL`)

	age := m.Project().App("tests").Model("Person").Field("age")
	require.NotNil(t, age)
	assert.Equal(t, sig.IntegerField, age.Type)
	assert.True(t, m.Project().Equal(m.Target().Project))
}

func TestConsecutiveModelMutationsShareMutator(t *testing.T) {
	m := newMutator(t)
	require.NoError(t, m.RunMutations([]mutation.Mutation{
		&mutation.AddField{Model: "Person", Field: "a", Type: sig.IntegerField, Attrs: map[string]any{"null": true}},
		&mutation.AddField{Model: "Person", Field: "b", Type: sig.IntegerField, Attrs: map[string]any{"null": true}},
		&mutation.DeleteField{Model: "Book", Field: "readers"},
		&mutation.DeleteField{Model: "Person", Field: "b"},
	}))
	require.Len(t, m.entries, 3)
	assert.Len(t, m.entries[0].model.Ops(), 2)
	assert.Len(t, m.entries[1].model.Ops(), 1)
	assert.Len(t, m.entries[2].model.Ops(), 1)

	sql, err := m.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "tests_person" ADD COLUMN "a" integer NULL, ADD COLUMN "b" integer NULL`,
		`DROP TABLE "tests_book_readers"`,
		`ALTER TABLE "tests_person" DROP COLUMN "b"`,
	}, sql.Strings())

	person := m.Project().App("tests").Model("Person")
	assert.NotNil(t, person.Field("a"))
	assert.Nil(t, person.Field("b"))
	assert.Nil(t, m.Project().App("tests").Model("Book").Field("readers"))
}

func TestNoopChangeFieldAdvancesSignatureWithoutSQL(t *testing.T) {
	m := newMutator(t)
	require.NoError(t, m.RunMutation(&mutation.ChangeField{Model: "Person", Field: "name",
		Attrs: map[string]any{"max_length": 100}}))
	sql, err := m.ToSQL()
	require.NoError(t, err)
	assert.True(t, sql.Empty())
	assert.Equal(t, 100, m.Project().App("tests").Model("Person").Field("name").Attr("max_length"))
}

func TestRenameModel(t *testing.T) {
	m := newMutator(t)
	require.NoError(t, m.RunMutations([]mutation.Mutation{
		&mutation.RenameModel{OldModel: "Person", NewModel: "Author", DBTable: "tests_author"},
		&mutation.AddField{Model: "Author", Field: "bio", Type: sig.TextField, Attrs: map[string]any{"null": true}},
	}))
	sql, err := m.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "tests_person" RENAME TO "tests_author"`,
		`ALTER TABLE "tests_author" ADD COLUMN "bio" text NULL`,
	}, sql.Strings())

	app := m.Project().App("tests")
	require.NotNil(t, app.Model("Author"))
	assert.NotNil(t, app.Model("Author").Field("bio"))
	assert.Equal(t, "tests.Author", app.Model("Book").Field("author").RelatedModel())
	assert.True(t, m.Target().State.HasTable("tests_author"))
	assert.False(t, m.Target().State.HasTable("tests_person"))
}

func TestDeleteModelDropsJoinTablesFirst(t *testing.T) {
	m := newMutator(t)
	require.NoError(t, m.RunMutation(&mutation.DeleteModel{Model: "Book"}))
	sql, err := m.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []string{`DROP TABLE "tests_book_readers"`, `DROP TABLE "tests_book"`}, sql.Strings())
	assert.Nil(t, m.Project().App("tests").Model("Book"))
}

type emptyIntrospector struct{}

func (emptyIntrospector) Tables(context.Context) ([]schema.Table, error) { return nil, nil }
func (emptyIntrospector) Indexes(context.Context, string) ([]schema.Index, error) {
	return nil, nil
}
func (emptyIntrospector) ForeignKeys(context.Context, string) ([]schema.ForeignKey, error) {
	return nil, nil
}

func TestDeleteApplication(t *testing.T) {
	t.Run("tables present", func(t *testing.T) {
		m := newMutator(t)
		require.NoError(t, m.RunMutation(&mutation.DeleteApplication{}))
		sql, err := m.ToSQL()
		require.NoError(t, err)
		assert.Equal(t, []string{
			`DROP TABLE "tests_book_readers"`,
			`DROP TABLE "tests_book"`,
			`DROP TABLE "tests_person"`,
		}, sql.Strings())
		assert.Empty(t, m.Project().App("tests").Models())
	})

	t.Run("nothing to drop", func(t *testing.T) {
		state, err := dbstate.Scan(context.Background(), "default", emptyIntrospector{})
		require.NoError(t, err)
		ops := backend.NewGenerator(postgres.Dialect{})
		m := NewAppMutator(mutation.Target{
			AppLabel: "tests", Project: testProject(t), State: state, Database: "default", Ops: ops,
		})
		require.NoError(t, m.RunMutation(&mutation.DeleteApplication{}))
		sql, err := m.ToSQL()
		require.NoError(t, err)
		assert.True(t, sql.Empty())
		assert.Empty(t, m.Project().App("tests").Models())
	})
}

func TestSQLMutationDisablesSimulation(t *testing.T) {
	m := newMutator(t)
	require.NoError(t, m.RunMutation(&mutation.SQLMutation{Tag: "fix", SQL: []string{"UPDATE tests_person SET name = 'x'"}}))
	assert.False(t, m.CanSimulate())
	sql, err := m.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []string{"UPDATE tests_person SET name = 'x'"}, sql.Strings())
}

func TestSimulationFailureStopsScheduling(t *testing.T) {
	m := newMutator(t)
	err := m.RunMutation(&mutation.DeleteField{Model: "Person", Field: "id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key")

	err = m.RunMutation(&mutation.DeleteField{Model: "Ghost", Field: "id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The model could not be found in the signature.")
}

func TestRouterSkipsOtherDatabases(t *testing.T) {
	ops := backend.NewGenerator(postgres.Dialect{})
	p := testProject(t)
	m := NewAppMutator(mutation.Target{
		AppLabel: "tests", Project: p, Database: "default", Ops: ops,
		Router: mutation.RouterFunc(func(app, model string) string {
			if model == "Book" {
				return "archive"
			}
			return "default"
		}),
	})
	require.NoError(t, m.RunMutations([]mutation.Mutation{&mutation.DeleteModel{Model: "Book"}}))
	sql, err := m.ToSQL()
	require.NoError(t, err)
	assert.True(t, sql.Empty())
	assert.NotNil(t, m.Project().App("tests").Model("Book"))
}

func TestFinalizedMutatorPanics(t *testing.T) {
	m := newMutator(t)
	_, err := m.ToSQL()
	require.NoError(t, err)
	assert.Panics(t, func() {
		_ = m.RunMutation(&mutation.DeleteModel{Model: "Book"})
	})
}
