// Package report renders evolution plans, SQL, diffs and failures for the
// terminal using the styles of a theme.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sadopc/goevolve/internal/audit"
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/diff"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/evolver"
	"github.com/sadopc/goevolve/internal/history"
	"github.com/sadopc/goevolve/internal/theme"
)

// Renderer writes styled reports.
type Renderer struct {
	th *theme.Theme
	hl *Highlighter
}

// New returns a Renderer using th, highlighting SQL for dialect. A nil
// theme renders plain text.
func New(th *theme.Theme, dialect string) *Renderer {
	if th == nil {
		th = theme.Plain()
	}
	return &Renderer{th: th, hl: NewHighlighter(dialect)}
}

// Tasks writes the prepared task list with a status per task.
func (r *Renderer) Tasks(w io.Writer, tasks []evolver.Task) {
	fmt.Fprintln(w, r.th.Title.Render("Evolution plan"))
	if len(tasks) == 0 {
		fmt.Fprintln(w, r.th.MutedText.Render("  no tasks queued"))
		return
	}
	for _, t := range tasks {
		var status string
		switch {
		case !t.EvolutionRequired():
			status = r.th.MutedText.Render("up to date")
		case !t.CanSimulate():
			status = r.th.WarningText.Render("cannot simulate")
		default:
			status = r.th.Changed.Render(plural(len(t.SQL().Statements()), "statement"))
		}
		fmt.Fprintf(w, "  %s %s\n", r.th.AppLabel.Render(t.String()), status)
		if it, ok := t.(*evolver.InstallModelsTask); ok {
			for _, m := range it.Models() {
				fmt.Fprintf(w, "    %s %s\n", r.th.Added.Render("+"), r.th.ModelName.Render(m))
			}
		}
		for _, evo := range t.NewEvolutions() {
			fmt.Fprintf(w, "    %s %s\n", r.th.Key.Render("evolution"), r.th.Value.Render(evo.Label))
		}
	}
}

// SQL writes a script, highlighting each statement.
func (r *Renderer) SQL(w io.Writer, sql *backend.SQLResult) {
	if sql.Empty() {
		fmt.Fprintln(w, r.th.MutedText.Render("-- no SQL to execute"))
		return
	}
	fmt.Fprint(w, r.hl.Highlight(sql.String(), r.th))
}

// Diff writes the differences between the stored and declared models.
func (r *Renderer) Diff(w io.Writer, d *diff.Diff) {
	if d.IsEmpty(false) {
		fmt.Fprintln(w, r.th.SuccessText.Render("The stored signature matches the declared models."))
		return
	}
	fmt.Fprintln(w, r.th.Title.Render("Changes"))
	r.changeLines(w, d.String())
}

func (r *Renderer) changeLines(w io.Writer, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		switch {
		case strings.HasSuffix(line, "has been deleted"):
			line = r.th.Deleted.Render(line)
		case strings.HasSuffix(line, "has been added"):
			line = r.th.Added.Render(line)
		case strings.HasPrefix(line, "In model "):
			line = r.th.ModelName.Render(line)
		default:
			line = r.th.Changed.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

// Hint writes hinted evolution text. Application headers are styled as
// sections.
func (r *Renderer) Hint(w io.Writer, text string) {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(w, r.th.SuccessText.Render("No changes to hint."))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if strings.HasPrefix(line, "#") {
			line = r.th.Section.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

// Status writes stored evolutions grouped by application.
func (r *Renderer) Status(w io.Writer, status []evolver.EvolutionStatus) {
	if len(status) == 0 {
		fmt.Fprintln(w, r.th.MutedText.Render("No stored evolutions."))
		return
	}
	current := ""
	for _, s := range status {
		if s.AppLabel != current {
			current = s.AppLabel
			fmt.Fprintln(w, r.th.AppLabel.Render(current))
		}
		mark := r.th.SuccessText.Render("[X]")
		if !s.Applied {
			mark = r.th.WarningText.Render("[ ]")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, s.Label)
	}
}

// Version writes a summary of a stored signature version.
func (r *Renderer) Version(w io.Writer, v *history.Version) {
	number := "hinted"
	if v.Number != nil {
		number = fmt.Sprintf("%d", *v.Number)
	}
	rows := [][2]string{
		{"version", fmt.Sprintf("%d", v.ID)},
		{"number", number},
		{"run", v.RunID},
		{"recorded", v.CreatedAt.Format("2006-01-02 15:04:05")},
		{"apps", strings.Join(v.Signature.AppLabels(), ", ")},
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s", r.th.Key.Render(fmt.Sprintf("%-9s", row[0])), r.th.Value.Render(row[1]))
	}
	fmt.Fprintln(w, r.th.Box.Render(b.String()))
}

// Audit writes the audited statements of a run followed by its outcome.
func (r *Renderer) Audit(w io.Writer, entries []audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, r.th.MutedText.Render("No audited statements."))
		return
	}
	fmt.Fprintln(w, r.th.Title.Render("Run "+entries[0].RunID))
	for _, e := range entries {
		if e.Kind == audit.KindRun {
			outcome := r.th.SuccessText.Render("committed")
			if e.IsError {
				outcome = r.th.ErrorText.Render("rolled back: " + e.Error)
			}
			fmt.Fprintf(w, "%s %s, %s in %dms\n", outcome, plural(e.Statements, "statement"),
				plural(len(e.Evolutions), "evolution"), e.DurationMS)
			continue
		}
		meta := fmt.Sprintf("%s %s %dms", e.Timestamp.Format("15:04:05"), e.AppLabel, e.DurationMS)
		fmt.Fprintln(w, r.th.MutedText.Render("-- "+meta))
		fmt.Fprintln(w, r.statement(strings.TrimRight(e.Statement, ";")+";"))
		if e.IsError {
			fmt.Fprintln(w, r.th.ErrorText.Render("   "+e.Error))
		}
	}
}

// statement highlights a single statement without a trailing newline.
func (r *Renderer) statement(sql string) string {
	return strings.TrimRight(r.hl.Highlight(sql, r.th), "\n")
}

// Error writes err with whatever detail its type carries.
func (r *Renderer) Error(w io.Writer, err error) {
	var (
		unresolved *evoerr.UnresolvedChangesError
		missing    *evoerr.BaselineMissingError
		execErr    *evoerr.ExecutionError
		simErr     *evoerr.SimulationFailure
	)
	switch {
	case errors.As(err, &unresolved):
		fmt.Fprintln(w, r.th.ErrorText.Render("Your models contain changes that the evolutions do not resolve:"))
		r.changeLines(w, unresolved.Details)
		fmt.Fprintln(w, r.th.MutedText.Render("Run `goevolve evolve --hint` to see a suggested evolution."))
	case errors.As(err, &missing):
		fmt.Fprintln(w, r.th.ErrorText.Render("No stored signature was found."))
		fmt.Fprintln(w, r.th.MutedText.Render("Run `goevolve baseline` to record the current models."))
	case errors.As(err, &execErr):
		fmt.Fprintln(w, r.th.ErrorText.Render("Error executing SQL: "+execErr.Err.Error()))
		fmt.Fprintln(w, r.statement(execErr.Statement))
		fmt.Fprintln(w, r.th.MutedText.Render("The evolution was rolled back."))
	case errors.As(err, &simErr):
		fmt.Fprintln(w, r.th.ErrorText.Render("Cannot simulate the evolution: "+simErr.Message))
	default:
		fmt.Fprintln(w, r.th.ErrorText.Render("Error: "+err.Error()))
	}
}

// Success writes a confirmation line.
func (r *Renderer) Success(w io.Writer, msg string) {
	fmt.Fprintln(w, r.th.SuccessText.Render(msg))
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
