// Package mutator batches the operations mutations schedule and compiles
// them to SQL. Model mutations are grouped per model so the backend can
// fold several changes into one statement; the live project signature
// advances one finished operation at a time.
package mutator

import (
	"fmt"
	"log/slog"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/signature"
)

// entry is one step of an app mutator: a batch of operations on one model
// or an application-level operation.
type entry struct {
	model *ModelMutator
	op    *backend.Op
}

// AppMutator runs the mutations of one application against a database.
//
// Mutations are applied to a scratch copy of the project signature as
// they are scheduled, so each sees the effects of the ones before it. The
// live signature only advances as compiled operations finish.
type AppMutator struct {
	target  mutation.Target
	live    *signature.ProjectSignature
	logger  *slog.Logger
	entries []entry

	canSimulate bool
	finalized   bool
	sql         *backend.SQLResult
}

// Option configures an AppMutator.
type Option func(*AppMutator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *AppMutator) { m.logger = l }
}

// NewAppMutator returns a mutator for t.AppLabel. t.Project is the live
// signature; it is cloned for scheduling and advanced by ToSQL.
func NewAppMutator(t mutation.Target, opts ...Option) *AppMutator {
	if t.State == nil {
		t.State = dbstate.New(t.Database)
	}
	m := &AppMutator{
		live:        t.Project,
		canSimulate: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	scratch := t.Project.Clone()
	t.Project = scratch
	t.Relations = signature.NewRelationIndex(scratch)
	m.target = t
	return m
}

// Target returns the scheduling target. Its Project is the scratch
// signature reflecting every mutation run so far.
func (m *AppMutator) Target() mutation.Target { return m.target }

// Project returns the live signature.
func (m *AppMutator) Project() *signature.ProjectSignature { return m.live }

// CanSimulate reports whether every mutation run so far could be
// simulated.
func (m *AppMutator) CanSimulate() bool { return m.canSimulate }

func (m *AppMutator) liveTarget() mutation.Target {
	t := m.target
	t.Project = m.live
	t.Relations = nil
	return t
}

func (m *AppMutator) checkOpen() {
	if m.finalized {
		panic("mutator: scheduling on a finalized mutator")
	}
}

// RunMutations runs each mutation that is mutable against the target.
func (m *AppMutator) RunMutations(ms []mutation.Mutation) error {
	for _, mut := range ms {
		if !mut.IsMutable(m.target) {
			m.logger.Debug("skipping mutation for another database",
				"app", m.target.AppLabel, "mutation", mut.String(), "database", m.target.Database)
			continue
		}
		if err := m.RunMutation(mut); err != nil {
			return err
		}
	}
	return nil
}

// RunMutation schedules the operations of mut and then simulates it on the
// scratch signature.
func (m *AppMutator) RunMutation(mut mutation.Mutation) error {
	m.checkOpen()
	m.logger.Debug("running mutation", "app", m.target.AppLabel, "mutation", mut.String())

	switch mm := mut.(type) {
	case mutation.ModelMutation:
		if err := m.runModelMutation(mm); err != nil {
			return err
		}
	case mutation.AppMutation:
		n := len(m.entries)
		if err := mm.MutateApp(m); err != nil {
			return err
		}
		if !m.scheduledApp(mut, n) {
			m.AddSQL(mut, nil)
		}
	default:
		return fmt.Errorf("mutator: unsupported mutation type %T", mut)
	}

	err := mutation.Simulate(mut, m.target)
	if evoerr.IsCannotSimulate(err) {
		m.canSimulate = false
		m.logger.Warn("mutation cannot be simulated", "app", m.target.AppLabel, "mutation", mut.String())
		return nil
	}
	return err
}

func (m *AppMutator) runModelMutation(mm mutation.ModelMutation) error {
	var sig *signature.ModelSignature
	if app := m.target.Project.App(m.target.AppLabel); app != nil {
		sig = app.Model(mm.ModelName())
	}
	if sig == nil {
		// Let the mutation report the missing app or model.
		if err := mutation.Simulate(mm, m.target); err != nil {
			return err
		}
		return fmt.Errorf("mutator: model %q not found in %q", mm.ModelName(), m.target.AppLabel)
	}

	mu := m.modelMutator(mm.ModelName())
	n := len(mu.ops)
	if err := mm.Mutate(mu, m.target.ModelFor(sig)); err != nil {
		return err
	}
	if len(mu.ops) == n {
		// The signature must still advance when the mutation needs no SQL.
		mu.AddSQL(mm, nil)
	}
	return nil
}

// modelMutator returns the mutator for name, reusing the last entry when it
// belongs to the same model.
func (m *AppMutator) modelMutator(name string) *ModelMutator {
	if n := len(m.entries); n > 0 {
		if last := m.entries[n-1].model; last != nil && last.modelName == name {
			return last
		}
	}
	mu := &ModelMutator{app: m, modelName: name}
	m.entries = append(m.entries, entry{model: mu})
	return mu
}

func (m *AppMutator) scheduledApp(mut mutation.Mutation, since int) bool {
	for _, e := range m.entries[since:] {
		if e.op != nil && len(e.op.Mutations) > 0 && e.op.Mutations[0] == fmt.Stringer(mut) {
			return true
		}
	}
	return false
}

// AddSQL schedules application-level SQL for mut. A nil build schedules
// nothing but still advances the signature.
func (m *AppMutator) AddSQL(mut mutation.Mutation, build func() (*backend.SQLResult, error)) {
	m.checkOpen()
	m.entries = append(m.entries, entry{op: &backend.Op{
		Kind:      backend.OpSQL,
		Mutations: []fmt.Stringer{mut},
		Build:     build,
	}})
}

// ToSQL compiles every scheduled operation, advancing the live signature
// as each finishes. It may be called more than once; compilation happens
// on the first call.
func (m *AppMutator) ToSQL() (*backend.SQLResult, error) {
	if m.finalized {
		return m.sql, nil
	}
	m.finalized = true

	result := backend.NewSQLResult()
	for _, e := range m.entries {
		if e.model != nil {
			sql, err := m.target.Ops.GenerateTableOpsSQL(e.model, e.model.ops)
			if err != nil {
				return nil, fmt.Errorf("mutator %s.%s: %w", m.target.AppLabel, e.model.modelName, err)
			}
			result.Append(sql)
			continue
		}
		if e.op.Build != nil {
			sql, err := e.op.Build()
			if err != nil {
				return nil, fmt.Errorf("mutator %s: %w", m.target.AppLabel, err)
			}
			result.Append(sql)
		}
		if err := m.finishOp(e.op); err != nil {
			return nil, err
		}
	}
	m.sql = result
	return result, nil
}

// finishOp simulates the mutations behind op on the live signature.
func (m *AppMutator) finishOp(op *backend.Op) error {
	for _, s := range op.Mutations {
		mut, ok := s.(mutation.Mutation)
		if !ok {
			return fmt.Errorf("mutator: op carries %T, not a mutation", s)
		}
		if err := mutation.Simulate(mut, m.liveTarget()); err != nil {
			if evoerr.IsCannotSimulate(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// ModelMutator accumulates the operations of consecutive mutations on one
// model. It implements backend.TableMutator for the SQL generator.
type ModelMutator struct {
	app       *AppMutator
	modelName string
	ops       []*backend.Op
}

var (
	_ mutation.ModelMutator = (*ModelMutator)(nil)
	_ mutation.AppMutator   = (*AppMutator)(nil)
	_ backend.TableMutator  = (*ModelMutator)(nil)
)

func (mu *ModelMutator) Target() mutation.Target { return mu.app.target }

// Ops returns the scheduled operations.
func (mu *ModelMutator) Ops() []*backend.Op { return mu.ops }

func (mu *ModelMutator) add(op *backend.Op) {
	mu.app.checkOpen()
	mu.ops = append(mu.ops, op)
}

func (mu *ModelMutator) AddColumn(m mutation.Mutation, f *signature.FieldSignature, initial any) {
	mu.add(&backend.Op{Kind: backend.OpAddColumn, Mutations: []fmt.Stringer{m}, Field: f, Initial: initial})
}

func (mu *ModelMutator) ChangeColumn(m mutation.Mutation, f *signature.FieldSignature, changes map[string]backend.AttrChange, initial any) {
	mu.add(&backend.Op{Kind: backend.OpChangeColumn, Mutations: []fmt.Stringer{m}, Field: f, Changes: changes, Initial: initial})
}

func (mu *ModelMutator) ChangeColumnType(m mutation.Mutation, oldField, newField *signature.FieldSignature, initial any) {
	mu.add(&backend.Op{Kind: backend.OpChangeColumnType, Mutations: []fmt.Stringer{m}, Field: oldField, NewField: newField, Initial: initial})
}

func (mu *ModelMutator) DeleteColumn(m mutation.Mutation, f *signature.FieldSignature) {
	mu.add(&backend.Op{Kind: backend.OpDeleteColumn, Mutations: []fmt.Stringer{m}, Field: f})
}

func (mu *ModelMutator) DeleteModel(m mutation.Mutation) {
	mu.add(&backend.Op{Kind: backend.OpDeleteModel, Mutations: []fmt.Stringer{m}})
}

func (mu *ModelMutator) ChangeMeta(m mutation.Mutation, prop string, oldValue, newValue any) {
	mu.add(&backend.Op{Kind: backend.OpChangeMeta, Mutations: []fmt.Stringer{m}, Prop: prop, OldValue: oldValue, NewValue: newValue})
}

func (mu *ModelMutator) AddSQL(m mutation.Mutation, build func() (*backend.SQLResult, error)) {
	mu.add(&backend.Op{Kind: backend.OpSQL, Mutations: []fmt.Stringer{m}, Build: build})
}

// Model returns the live handle on the model, reflecting every operation
// finished so far.
func (mu *ModelMutator) Model() backend.Model {
	live := mu.app.live
	var sig *signature.ModelSignature
	if app := live.App(mu.app.target.AppLabel); app != nil {
		sig = app.Model(mu.modelName)
	}
	if sig == nil {
		sig = signature.NewModel(mu.modelName, "")
	}
	return backend.Model{AppLabel: mu.app.target.AppLabel, Sig: sig, Project: live}
}

func (mu *ModelMutator) State() *dbstate.State { return mu.app.target.State }

// FinishOp advances the live signature past op.
func (mu *ModelMutator) FinishOp(op *backend.Op) error {
	if err := mu.app.finishOp(op); err != nil {
		return err
	}
	for _, s := range op.Mutations {
		if r, ok := s.(*mutation.RenameModel); ok && r.OldModel == mu.modelName {
			mu.modelName = r.NewModel
		}
	}
	return nil
}
