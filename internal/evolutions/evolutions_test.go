package evolutions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/goevolve/internal/mutation"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

type appliedSet map[string]bool

func (a appliedSet) Applied(_ context.Context, appLabel, label string) (bool, error) {
	return a[appLabel+"."+label], nil
}

func TestSequence(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		SequenceFile: "# evolutions for tests\nadd_age\n\n  rename_name  \n",
	})
	labels, err := Source{AppLabel: "tests", Dir: dir}.Sequence()
	require.NoError(t, err)
	assert.Equal(t, []string{"add_age", "rename_name"}, labels)
}

func TestSequenceMissing(t *testing.T) {
	labels, err := Source{AppLabel: "tests", Dir: filepath.Join(t.TempDir(), "nope")}.Sequence()
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestSequenceDuplicate(t *testing.T) {
	dir := writeFiles(t, map[string]string{SequenceFile: "a\nb\na\n"})
	_, err := Source{AppLabel: "tests", Dir: dir}.Sequence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a" listed twice`)
}

func TestLoadEvo(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"add_age.evo": "MUTATIONS = [\n    AddField('Person', 'age', models.IntegerField, initial=0),\n]\n",
	})
	e, err := Source{AppLabel: "tests", Dir: dir}.Load("add_age")
	require.NoError(t, err)
	require.Len(t, e.Mutations, 1)
	add, ok := e.Mutations[0].(*mutation.AddField)
	require.True(t, ok, "got %T", e.Mutations[0])
	assert.Equal(t, "Person", add.Model)
	assert.Equal(t, "age", add.Field)
	assert.Equal(t, filepath.Join(dir, "add_age.evo"), e.Path)
}

func TestLoadSQL(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"backfill.sql": "-- backfill ages\nUPDATE tests_person\n   SET age = 0;\n\nDELETE FROM tests_person WHERE name = '';\n",
	})
	e, err := Source{AppLabel: "tests", Dir: dir}.Load("backfill")
	require.NoError(t, err)
	require.Len(t, e.Mutations, 1)
	sm, ok := e.Mutations[0].(*mutation.SQLMutation)
	require.True(t, ok)
	assert.Equal(t, "backfill", sm.Tag)
	assert.Equal(t, []string{
		"UPDATE tests_person\n   SET age = 0;",
		"DELETE FROM tests_person WHERE name = '';",
	}, sm.SQL)
}

func TestLoadDatabaseSQL(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"analytics_backfill.sql": "UPDATE t SET x = 1;\n",
	})

	_, err := Source{AppLabel: "tests", Dir: dir, Database: "default"}.Load("backfill")
	require.Error(t, err)

	e, err := Source{AppLabel: "tests", Dir: dir, Database: "analytics"}.Load("backfill")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "analytics_backfill.sql"), e.Path)
}

func TestLoadPrefersPlainSQL(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"x.sql":           "SELECT 1;",
		"analytics_x.sql": "SELECT 2;",
		"x.evo":           "MUTATIONS = []\n",
	})
	e, err := Source{AppLabel: "tests", Dir: dir, Database: "analytics"}.Load("x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.sql"), e.Path)
}

func TestLoadYAML(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"seed.yaml": "sql:\n  - INSERT INTO tests_person (name) VALUES ('a')\n  - INSERT INTO tests_person (name) VALUES ('b')\n",
	})
	e, err := Source{AppLabel: "tests", Dir: dir}.Load("seed")
	require.NoError(t, err)
	sm := e.Mutations[0].(*mutation.SQLMutation)
	assert.Equal(t, "seed", sm.Tag)
	assert.Len(t, sm.SQL, 2)
}

func TestLoadErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"bad.evo":   "MUTATIONS = [ Nope( ]",
		"bad2.yaml": "sql: [unterminated",
	})
	src := Source{AppLabel: "tests", Dir: dir}

	tests := []struct {
		label string
		want  string
	}{
		{"missing", `no .evo, .sql or .yaml script for evolution "missing"`},
		{"bad", "evolutions tests.bad"},
		{"bad2", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			_, err := src.Load(tt.label)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPending(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		SequenceFile: "first\nsecond\nthird\n",
		"first.sql":  "SELECT 1;",
		"second.sql": "SELECT 2;",
		"third.evo":  "MUTATIONS = [\n    DeleteField('Person', 'age'),\n]\n",
	})
	src := Source{AppLabel: "tests", Dir: dir}

	evos, err := src.Pending(context.Background(), appliedSet{"tests.first": true, "other.second": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, Labels(evos))
	assert.Len(t, Mutations(evos), 2)

	all, err := src.All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPendingSkipsMissingScriptsWhenApplied(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		SequenceFile: "gone\nnext\n",
		"next.sql":   "SELECT 1;",
	})
	evos, err := Source{AppLabel: "tests", Dir: dir}.Pending(context.Background(), appliedSet{"tests.gone": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, Labels(evos))
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"empty", "", nil},
		{"comments only", "-- a\n   -- b\n", nil},
		{"one per line", "A;\nB;\n", []string{"A;", "B;"}},
		{"multi line", "CREATE TABLE t (\n  id int\n);\n", []string{"CREATE TABLE t (\n  id int\n);"}},
		{"trailing without semicolon", "A;\nB", []string{"A;", "B"}},
		{"crlf", "A;\r\nB;\r\n", []string{"A;", "B;"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSQL(tt.script))
		})
	}
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tests")
	src := Source{AppLabel: "tests", Dir: dir}

	text := "MUTATIONS = [\n    DeleteField('Person', 'age'),\n]\n"
	path, err := src.Write("drop_age", text)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "drop_age.evo"), path)

	labels, err := src.Sequence()
	require.NoError(t, err)
	assert.Equal(t, []string{"drop_age"}, labels)

	e, err := src.Load("drop_age")
	require.NoError(t, err)
	assert.Len(t, e.Mutations, 1)

	_, err = src.Write("drop_age", text)
	assert.Error(t, err)
}
