package backend

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sadopc/goevolve/internal/audit"
	"github.com/sadopc/goevolve/internal/evoerr"
)

// Executor runs compiled SQL against a querier, logging and auditing each
// statement.
type Executor struct {
	Backend  string
	Database string
	RunID    string
	Logger   *slog.Logger
	Audit    *audit.Logger

	started  time.Time
	executed int
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// IsBlank reports whether a statement holds nothing but whitespace and
// line comments.
func IsBlank(sql string) bool {
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// Run executes every statement of r in order. The first failure stops
// execution and is returned as an *evoerr.ExecutionError.
func (e *Executor) Run(ctx context.Context, q Querier, appLabel string, r *SQLResult) error {
	if e.started.IsZero() {
		e.started = time.Now()
	}
	for _, st := range r.Statements() {
		if IsBlank(st.SQL) {
			continue
		}
		start := time.Now()
		err := q.Exec(ctx, st.SQL, st.Args...)
		entry := audit.Entry{
			Timestamp:  start,
			RunID:      e.RunID,
			Backend:    e.Backend,
			Database:   e.Database,
			AppLabel:   appLabel,
			Statement:  st.SQL,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			entry.IsError = true
			entry.Error = err.Error()
			e.Audit.Log(entry)
			e.logger().Error("statement failed", "database", e.Database, "app", appLabel, "sql", st.SQL, "error", err)
			return &evoerr.ExecutionError{Statement: st.SQL, Err: err}
		}
		e.executed++
		e.Audit.Log(entry)
		e.logger().Debug("executed", "database", e.Database, "app", appLabel, "sql", st.SQL)
	}
	return nil
}

// Executed returns the number of statements run so far.
func (e *Executor) Executed() int { return e.executed }

// Finish writes the run record to the audit log. runErr is the error that
// ended the run, if any.
func (e *Executor) Finish(evolutions []string, runErr error) {
	entry := audit.Entry{
		Timestamp:  time.Now(),
		RunID:      e.RunID,
		Backend:    e.Backend,
		Database:   e.Database,
		Statements: e.executed,
		Evolutions: evolutions,
	}
	if !e.started.IsZero() {
		entry.DurationMS = time.Since(e.started).Milliseconds()
	}
	if runErr != nil {
		entry.IsError = true
		entry.Error = runErr.Error()
	}
	e.Audit.LogRun(entry)
}
