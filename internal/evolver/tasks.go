package evolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/evolutions"
	"github.com/sadopc/goevolve/internal/history"
	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/mutator"
	"github.com/sadopc/goevolve/internal/signature"
)

// Task is one unit of work in an evolution run.
type Task interface {
	ID() string
	AppLabel() string
	String() string

	// EvolutionRequired reports whether the task changes the database or
	// the history. Valid after preparation.
	EvolutionRequired() bool
	// CanSimulate reports whether every mutation of the task could be
	// simulated.
	CanSimulate() bool
	SQL() *backend.SQLResult
	NewEvolutions() []history.Evolution

	prepare(ctx context.Context, e *Evolver) error
}

type taskBase struct {
	appLabel    string
	required    bool
	canSimulate bool
	sql         *backend.SQLResult
	evolutions  []history.Evolution
}

func (t *taskBase) AppLabel() string                   { return t.appLabel }
func (t *taskBase) EvolutionRequired() bool            { return t.required }
func (t *taskBase) CanSimulate() bool                  { return t.canSimulate }
func (t *taskBase) NewEvolutions() []history.Evolution { return t.evolutions }

func (t *taskBase) SQL() *backend.SQLResult {
	if t.sql == nil {
		return backend.NewSQLResult()
	}
	return t.sql
}

// runMutations compiles ms for the task's application against the
// evolver's working signature, which advances as the SQL compiles.
func (t *taskBase) runMutations(e *Evolver, ms []mutation.Mutation) error {
	m := mutator.NewAppMutator(e.target(t.appLabel), mutator.WithLogger(e.logger))
	if err := m.RunMutations(ms); err != nil {
		return err
	}
	sql, err := m.ToSQL()
	if err != nil {
		return err
	}
	t.sql = sql
	t.canSimulate = m.CanSimulate()
	return nil
}

// EvolveAppTask applies the pending evolutions of one application: the
// stored evolutions not yet recorded, or in hinted mode the mutations
// proposed by comparing the stored and declared signatures.
type EvolveAppTask struct {
	taskBase
	mutations []mutation.Mutation
	hinted    bool
}

func newEvolveAppTask(label string) *EvolveAppTask {
	return &EvolveAppTask{taskBase: taskBase{appLabel: label, canSimulate: true}}
}

func (t *EvolveAppTask) ID() string     { return "evolve-app:" + t.appLabel }
func (t *EvolveAppTask) String() string { return fmt.Sprintf("Evolve application %q", t.appLabel) }

// Mutations returns the mutations the task runs. Valid after preparation.
func (t *EvolveAppTask) Mutations() []mutation.Mutation { return t.mutations }

// HintText renders the task's mutations as an evolution script.
func (t *EvolveAppTask) HintText() string {
	if len(t.mutations) == 0 {
		return ""
	}
	return mutation.Render(t.mutations)
}

func (t *EvolveAppTask) prepare(ctx context.Context, e *Evolver) error {
	t.hinted = e.hinted
	src, hasSource := e.sources[t.appLabel]

	if e.project.App(t.appLabel) == nil {
		// A new application is installed from its declared models, so
		// its stored evolutions are recorded without running.
		if hasSource && !e.hinted {
			labels, err := src.Sequence()
			if err != nil {
				return err
			}
			for _, label := range labels {
				t.evolutions = append(t.evolutions, history.Evolution{AppLabel: t.appLabel, Label: label})
			}
		}
		t.required = len(t.evolutions) > 0
		return nil
	}

	if e.hinted {
		t.mutations = e.hints.MutationsFor(t.appLabel)
	} else if hasSource {
		pending, err := src.Pending(ctx, e.store)
		if err != nil {
			return err
		}
		t.mutations = evolutions.Mutations(pending)
		for _, label := range evolutions.Labels(pending) {
			t.evolutions = append(t.evolutions, history.Evolution{AppLabel: t.appLabel, Label: label})
		}
	}

	if len(t.mutations) > 0 {
		if err := t.runMutations(e, t.mutations); err != nil {
			return err
		}
	}
	t.required = len(t.mutations) > 0 || len(t.evolutions) > 0
	return nil
}

// PurgeAppTask drops the tables of an application that is no longer
// declared.
type PurgeAppTask struct {
	taskBase
}

func newPurgeAppTask(label string) *PurgeAppTask {
	return &PurgeAppTask{taskBase: taskBase{appLabel: label, canSimulate: true}}
}

func (t *PurgeAppTask) ID() string     { return "purge-app:" + t.appLabel }
func (t *PurgeAppTask) String() string { return fmt.Sprintf("Purge application %q", t.appLabel) }

func (t *PurgeAppTask) prepare(_ context.Context, e *Evolver) error {
	app := e.project.App(t.appLabel)
	if app == nil {
		return nil
	}
	if err := t.runMutations(e, []mutation.Mutation{&mutation.DeleteApplication{}}); err != nil {
		return err
	}
	if len(app.Models()) == 0 {
		e.project.RemoveApp(t.appLabel)
	}
	t.required = true
	return nil
}

// InstallModelsTask creates the tables of declared models that the stored
// signature does not know about.
type InstallModelsTask struct {
	taskBase
	models []string
	newApp bool
}

func (t *InstallModelsTask) ID() string { return "install-models:" + t.appLabel }

func (t *InstallModelsTask) String() string {
	return fmt.Sprintf("Install models %s in application %q", strings.Join(t.models, ", "), t.appLabel)
}

// Models returns the names of the installed models.
func (t *InstallModelsTask) Models() []string { return t.models }

func (t *InstallModelsTask) prepare(_ context.Context, e *Evolver) error {
	declared := e.declared.App(t.appLabel)
	app := e.project.App(t.appLabel)
	if app == nil {
		t.newApp = true
		app = signature.NewApp(t.appLabel)
		app.UpgradeMethod = declared.UpgradeMethod
		app.AppliedMigrations = append([]string(nil), declared.AppliedMigrations...)
		if err := e.project.AddApp(app); err != nil {
			return err
		}
	}
	for _, name := range t.models {
		if err := app.AddModel(declared.Model(name).Clone()); err != nil {
			return fmt.Errorf("install %s.%s: %w", t.appLabel, name, err)
		}
	}

	tgt := e.target(t.appLabel)
	t.sql = backend.NewSQLResult()
	for _, name := range t.models {
		model := tgt.ModelFor(app.Model(name))
		if tgt.DatabaseFor(name) != e.database {
			continue
		}
		sql, err := e.ops.CreateModelSQL(tgt.State, model)
		if err != nil {
			return fmt.Errorf("install %s.%s: %w", t.appLabel, name, err)
		}
		t.sql.Append(sql)
	}
	t.required = true
	return nil
}
