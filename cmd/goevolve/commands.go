package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sadopc/goevolve/internal/audit"
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/evolutions"
	"github.com/sadopc/goevolve/internal/evolver"
	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/report"
)

type evolveFlags struct {
	hint    bool
	execute bool
	sql     bool
	purge   bool
	write   string
}

func newEvolveCmd(g *globalFlags) *cobra.Command {
	var f evolveFlags
	cmd := &cobra.Command{
		Use:   "evolve [app...]",
		Short: "Evolve the database to match the declared models",
		Long: `Evolve prepares the pending evolutions of the given applications, or of
every declared application, and reports what would run. Nothing is
executed without --execute.

With --hint the evolution is proposed from the difference between the
stored and declared signatures instead of stored evolution files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.write != "" && !f.hint {
				return fmt.Errorf("--write requires --hint")
			}
			if f.write != "" && f.execute {
				return fmt.Errorf("--write and --execute cannot be combined")
			}

			s, err := openSession(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := checkLabels(s, args); err != nil {
				return err
			}
			if f.write != "" {
				return writeHints(cmd, s, args, f.write)
			}
			return runEvolve(cmd, s, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.hint, "hint", false, "Propose an evolution from the signature diff")
	cmd.Flags().BoolVarP(&f.execute, "execute", "x", false, "Execute the evolution")
	cmd.Flags().BoolVar(&f.sql, "sql", false, "Print the SQL that would run")
	cmd.Flags().BoolVar(&f.purge, "purge", false, "Drop the tables of applications that are no longer declared")
	cmd.Flags().StringVarP(&f.write, "write", "w", "", "Save the hinted evolution under this label")
	return cmd
}

// checkLabels rejects application labels nothing knows about.
func checkLabels(s *session, labels []string) error {
	known := s.appLabels()
	for _, label := range labels {
		if slices.Contains(known, label) {
			continue
		}
		msg := fmt.Sprintf("unknown application %q", label)
		if sug := backend.Suggest(label, known); len(sug) > 0 {
			msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(sug, ", "))
		}
		return errors.New(msg)
	}
	return nil
}

func runEvolve(cmd *cobra.Command, s *session, labels []string, f evolveFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	e := s.evolver(f.hint)

	if err := e.Load(ctx); err != nil {
		return s.fail(err)
	}
	if len(labels) == 0 {
		if err := e.QueueEvolveAll(); err != nil {
			return s.fail(err)
		}
	} else {
		for _, label := range labels {
			if err := e.QueueEvolveApp(label); err != nil {
				return s.fail(err)
			}
		}
	}
	if f.purge {
		if err := e.QueuePurgeOldApps(); err != nil {
			return s.fail(err)
		}
	}
	if err := e.Prepare(ctx); err != nil {
		return s.fail(err)
	}

	if !e.EvolutionRequired() {
		s.render.Success(out, "No evolution required.")
		if stale := e.StaleApps(); len(stale) > 0 && !f.purge {
			fmt.Fprintf(out, "Stale applications %s can be removed with --purge.\n", strings.Join(stale, ", "))
		}
		return nil
	}

	if f.hint && !f.execute {
		text, err := e.HintText(ctx)
		if err != nil {
			return s.fail(err)
		}
		s.render.Hint(out, text)
		fmt.Fprintln(out)
	}

	if f.sql {
		sql, err := e.SQL(ctx)
		if err != nil {
			return s.fail(err)
		}
		s.render.SQL(out, sql)
		return nil
	}

	s.render.Tasks(out, e.Tasks())
	if !f.execute {
		fmt.Fprintln(out, "\nRun with --execute to apply the evolution.")
		return nil
	}

	if err := e.Execute(ctx); err != nil {
		return s.fail(err)
	}
	s.render.Success(out, fmt.Sprintf("Evolution complete (run %s).", e.RunID()))
	return nil
}

// writeHints saves the proposed mutations of each application as a new
// evolution file in the application's hint directory.
func writeHints(cmd *cobra.Command, s *session, labels []string, name string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	d, err := s.evolver(true).Diff(ctx)
	if err != nil {
		return s.fail(err)
	}
	written := 0
	for _, am := range d.Evolution() {
		if len(labels) > 0 && !slices.Contains(labels, am.AppLabel) {
			continue
		}
		src := evolutions.Source{AppLabel: am.AppLabel, Dir: s.cfg.HintDir(am.AppLabel)}
		path, err := src.Write(name, mutation.Render(am.Mutations))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", path)
		written++
	}
	if written == 0 {
		s.render.Success(out, "No changes to hint.")
	}
	return nil
}

func newBaselineCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Record the declared models as the stored signature",
		Long: `Baseline records the declared models as the first stored signature and
marks every stored evolution as applied. The tables are assumed to exist
already.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, g)
			if err != nil {
				return err
			}
			defer s.Close()

			e := s.evolver(false)
			if err := e.Load(ctx); err == nil {
				return fmt.Errorf("a signature is already recorded for %s", s.db.Name)
			}
			v, err := e.Baseline(ctx)
			if err != nil {
				return s.fail(err)
			}
			s.render.Version(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [app...]",
		Short: "List stored evolutions and whether they have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, g)
			if err != nil {
				return err
			}
			defer s.Close()

			e := s.evolver(false)
			status, err := e.Status(ctx)
			if err != nil {
				return s.fail(err)
			}
			out := cmd.OutOrStdout()
			if err := e.Load(ctx); err == nil {
				s.render.Version(out, e.Stored())
			}
			s.render.Status(out, filterStatus(status, args))
			return nil
		},
	}
}

func filterStatus(status []evolver.EvolutionStatus, labels []string) []evolver.EvolutionStatus {
	if len(labels) == 0 {
		return status
	}
	var out []evolver.EvolutionStatus
	for _, st := range status {
		if slices.Contains(labels, st.AppLabel) {
			out = append(out, st)
		}
	}
	return out
}

func newDiffCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show how the declared models differ from the stored signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, g)
			if err != nil {
				return err
			}
			defer s.Close()

			d, err := s.evolver(false).Diff(ctx)
			if err != nil {
				return s.fail(err)
			}
			s.render.Diff(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func newAuditCmd(g *globalFlags) *cobra.Command {
	var app string
	cmd := &cobra.Command{
		Use:   "audit [run-id]",
		Short: "Show the audited statements of a run (default: the last run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			path, err := cfg.AuditPath()
			if err != nil {
				return err
			}
			dialect := ""
			if db, err := cfg.LookupDatabase(g.database); err == nil {
				dialect = db.Adapter
			}
			render := report.New(selectTheme(g, cfg), dialect)

			runID := ""
			if len(args) > 0 {
				runID = args[0]
			} else if runID, err = audit.LastRun(path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if runID == "" {
				fmt.Fprintf(out, "No audited runs in %s.\n", path)
				return nil
			}
			entries, err := audit.Read(path, audit.Filter{RunID: runID, AppLabel: app})
			if err != nil {
				return err
			}
			render.Audit(out, entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "Only show statements of this application")
	return cmd
}
