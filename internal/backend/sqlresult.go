package backend

import "strings"

// Statement is one SQL statement with optional bind parameters.
type Statement struct {
	SQL  string
	Args []any
}

// SQLResult is an ordered collection of statements split into three
// phases: Pre runs before SQL, which runs before Post.
type SQLResult struct {
	Pre  []Statement
	SQL  []Statement
	Post []Statement
}

// NewSQLResult returns an empty result.
func NewSQLResult() *SQLResult { return &SQLResult{} }

// SQLResultFrom wraps plain statements into the main phase.
func SQLResultFrom(stmts ...string) *SQLResult {
	r := NewSQLResult()
	for _, s := range stmts {
		r.AddSQL(s)
	}
	return r
}

func (r *SQLResult) AddPre(sql string, args ...any) {
	r.Pre = append(r.Pre, Statement{SQL: sql, Args: args})
}

func (r *SQLResult) AddSQL(sql string, args ...any) {
	r.SQL = append(r.SQL, Statement{SQL: sql, Args: args})
}

func (r *SQLResult) AddPost(sql string, args ...any) {
	r.Post = append(r.Post, Statement{SQL: sql, Args: args})
}

// Add merges other phase by phase.
func (r *SQLResult) Add(other *SQLResult) {
	if other == nil {
		return
	}
	r.Pre = append(r.Pre, other.Pre...)
	r.SQL = append(r.SQL, other.SQL...)
	r.Post = append(r.Post, other.Post...)
}

// Append flattens other, in execution order, onto the end of the main
// phase.
func (r *SQLResult) Append(other *SQLResult) {
	if other == nil {
		return
	}
	r.SQL = append(r.SQL, other.Statements()...)
}

// Statements returns every statement in execution order.
func (r *SQLResult) Statements() []Statement {
	if r == nil {
		return nil
	}
	out := make([]Statement, 0, len(r.Pre)+len(r.SQL)+len(r.Post))
	out = append(out, r.Pre...)
	out = append(out, r.SQL...)
	return append(out, r.Post...)
}

// Empty reports whether the result holds no statements.
func (r *SQLResult) Empty() bool {
	return r == nil || len(r.Pre)+len(r.SQL)+len(r.Post) == 0
}

// Strings returns the statement texts in execution order.
func (r *SQLResult) Strings() []string {
	stmts := r.Statements()
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.SQL
	}
	return out
}

// String renders the statements as a script.
func (r *SQLResult) String() string {
	var b strings.Builder
	for _, s := range r.Strings() {
		b.WriteString(s)
		if !strings.HasSuffix(s, ";") && !strings.HasPrefix(s, "--") {
			b.WriteByte(';')
		}
		b.WriteByte('\n')
	}
	return b.String()
}
