package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/signature"
)

func TestDialectCapabilities(t *testing.T) {
	d := Dialect{}
	assert.False(t, d.SupportedChangeAttrs()["unique"])
	assert.True(t, d.SupportedChangeAttrs()["null"])
	assert.False(t, d.SupportedChangeMeta()[signature.MetaConstraints])
	assert.False(t, d.MultiClauseAlter())
	assert.Equal(t, "DECIMAL(10, 2)", d.DataType(signature.MustField("f", signature.DecimalField, nil)))
}

func TestCreateModelUsesUniqueIndexes(t *testing.T) {
	p := signature.NewProject()
	app := signature.NewApp("lake")
	m := signature.NewModel("Event", "")
	require.NoError(t, m.AddField(signature.MustField("id", signature.BigAutoField, map[string]any{"primary_key": true})))
	require.NoError(t, m.AddField(signature.MustField("key", signature.CharField, map[string]any{"max_length": 32, "unique": true})))
	require.NoError(t, m.AddField(signature.MustField("parent", signature.ForeignKey, map[string]any{"related_model": "lake.Event", "null": true})))
	require.NoError(t, app.AddModel(m))
	require.NoError(t, p.AddApp(app))

	g := backend.NewGenerator(Dialect{})
	sql, err := g.CreateModelSQL(dbstate.New("default"), backend.Model{AppLabel: "lake", Sig: m, Project: p})
	require.NoError(t, err)

	stmts := sql.Strings()
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], `"parent_id" BIGINT NULL`)
	assert.NotContains(t, stmts[0], "REFERENCES")
	assert.Contains(t, stmts[1], `CREATE UNIQUE INDEX`)
	assert.Contains(t, stmts[2], `CREATE INDEX`)
	assert.NotContains(t, sql.String(), "FOREIGN KEY")
}

func TestParseIndexColumns(t *testing.T) {
	tests := []struct {
		sql  string
		want []string
	}{
		{"", nil},
		{`CREATE INDEX idx ON tbl (col1, col2)`, []string{"col1", "col2"}},
		{`CREATE UNIQUE INDEX "u" ON "t" ("a")`, []string{"a"}},
		{`CREATE INDEX broken`, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseIndexColumns(tt.sql), tt.sql)
	}
}
