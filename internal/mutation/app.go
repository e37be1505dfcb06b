package mutation

import (
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/signature"
)

// DeleteApplication removes every model of an application. Against a
// scanned database, models whose table is already gone are skipped, so
// deleting an application that was never created is a no-op.
type DeleteApplication struct{}

func (d *DeleteApplication) Name() string            { return "DeleteApplication" }
func (d *DeleteApplication) String() string          { return hint(d) }
func (d *DeleteApplication) HintParams() []string    { return nil }
func (d *DeleteApplication) IsMutable(t Target) bool { return true }

func (d *DeleteApplication) failureContext() failureContext {
	return failureContext{template: `Cannot delete the application "{app}".`}
}

// mutableModels returns the models of the application routed to t's
// database, in reverse declaration order.
func (d *DeleteApplication) mutableModels(t Target, app *signature.AppSignature) []*signature.ModelSignature {
	models := app.Models()
	out := make([]*signature.ModelSignature, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		if modelMutable(t, models[i].ModelName) {
			out = append(out, models[i])
		}
	}
	return out
}

func (d *DeleteApplication) Simulate(sim *Simulation) error {
	app, err := sim.App()
	if err != nil {
		return err
	}
	for _, m := range d.mutableModels(sim.Target, app) {
		app.RemoveModel(m.ModelName)
	}
	if sim.Relations != nil {
		sim.Relations.Invalidate()
	}
	return nil
}

func (d *DeleteApplication) MutateApp(m AppMutator) error {
	t := m.Target()
	app := t.Project.App(t.AppLabel)
	if app == nil {
		return nil
	}
	for _, model := range d.mutableModels(t, app) {
		if t.State != nil && t.State.Scanned() && !t.State.HasTable(t.ModelFor(model).Table()) {
			continue
		}
		if err := m.RunMutation(&DeleteModel{Model: model.ModelName}); err != nil {
			return err
		}
	}
	return nil
}

// SQLMutation runs raw SQL. Without an Update function it cannot be
// simulated, which disables dry-run validation of the evolution it
// belongs to.
type SQLMutation struct {
	Tag string
	SQL []string

	Update func(sim *Simulation) error
}

func (s *SQLMutation) Name() string            { return "SQLMutation" }
func (s *SQLMutation) String() string          { return hint(s) }
func (s *SQLMutation) IsMutable(t Target) bool { return true }

func (s *SQLMutation) HintParams() []string {
	return []string{quote(s.Tag), Value(s.SQL)}
}

func (s *SQLMutation) failureContext() failureContext {
	return failureContext{template: `Cannot run the SQL mutation "` + s.Tag + `" on "{app}".`}
}

func (s *SQLMutation) Simulate(sim *Simulation) error {
	if s.Update == nil {
		return &evoerr.CannotSimulateError{
			Mutation: s.String(),
			Reason:   "SQLMutation has no signature update function",
		}
	}
	return s.Update(sim)
}

func (s *SQLMutation) MutateApp(m AppMutator) error {
	stmts := append([]string(nil), s.SQL...)
	m.AddSQL(s, func() (*backend.SQLResult, error) {
		return backend.SQLResultFrom(stmts...), nil
	})
	return nil
}

// MoveToMigrations hands an application over to migrations. MarkApplied
// names the migrations to record as already applied.
type MoveToMigrations struct {
	MarkApplied []string
}

func (mv *MoveToMigrations) Name() string            { return "MoveToMigrations" }
func (mv *MoveToMigrations) String() string          { return hint(mv) }
func (mv *MoveToMigrations) IsMutable(t Target) bool { return true }

func (mv *MoveToMigrations) HintParams() []string {
	applied := mv.MarkApplied
	if applied == nil {
		applied = []string{}
	}
	return []string{kwarg("mark_applied", applied)}
}

func (mv *MoveToMigrations) Simulate(sim *Simulation) error {
	app, err := sim.App()
	if err != nil {
		return err
	}
	app.UpgradeMethod = signature.UpgradeMigrations
	for _, name := range mv.MarkApplied {
		if !contains(app.AppliedMigrations, name) {
			app.AppliedMigrations = append(app.AppliedMigrations, name)
		}
	}
	return nil
}

func (mv *MoveToMigrations) MutateApp(m AppMutator) error {
	m.AddSQL(mv, nil)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
