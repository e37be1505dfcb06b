// Package evolver orchestrates an evolution run: it loads the stored
// signature, prepares one task per application, and executes every task's
// SQL together with the new history entry in a single transaction.
package evolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/sadopc/goevolve/internal/audit"
	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/diff"
	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/evolutions"
	"github.com/sadopc/goevolve/internal/history"
	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/signature"
)

// Errors returned when tasks are queued at the wrong time.
var (
	ErrAlreadyPrepared = errors.New("evolution tasks have already been prepared; new tasks cannot be added")
	ErrAlreadyExecuted = errors.New("evolution has already been executed")
)

// Evolver runs evolutions against one database connection.
type Evolver struct {
	conn     backend.Connection
	ops      backend.Operations
	store    *history.Store
	database string
	router   mutation.Router
	declared *signature.ProjectSignature
	sources  map[string]evolutions.Source
	hinted   bool
	diffOpts diff.Options
	logger   *slog.Logger
	audit    *audit.Logger

	loaded   bool
	stored   *history.Version
	project  *signature.ProjectSignature
	state    *dbstate.State
	hints    *diff.Diff
	tasks    []Task
	installs []*InstallModelsTask
	prepared bool
	executed bool
	runID    string
}

// Option configures an Evolver.
type Option func(*Evolver)

// WithDatabase names the database in routing decisions. The default is
// "default".
func WithDatabase(name string) Option {
	return func(e *Evolver) { e.database = name }
}

// WithRouter sets the router deciding which database owns each model.
func WithRouter(r mutation.Router) Option {
	return func(e *Evolver) { e.router = r }
}

// WithDeclared sets the signature of the declared models. It is required
// for hinted runs, new-model installation, and the final consistency check.
func WithDeclared(p *signature.ProjectSignature) Option {
	return func(e *Evolver) { e.declared = p }
}

// WithSources sets the evolution directories, keyed by application label.
func WithSources(sources map[string]evolutions.Source) Option {
	return func(e *Evolver) { e.sources = sources }
}

// WithHinted makes the run apply mutations proposed by diffing the stored
// and declared signatures instead of stored evolutions.
func WithHinted(hinted bool) Option {
	return func(e *Evolver) { e.hinted = hinted }
}

// WithDiffOptions sets the heuristics used for hinted runs.
func WithDiffOptions(o diff.Options) Option {
	return func(e *Evolver) { e.diffOpts = o }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evolver) { e.logger = l }
}

// WithAudit records every executed statement.
func WithAudit(a *audit.Logger) Option {
	return func(e *Evolver) { e.audit = a }
}

// New returns an evolver for conn. ops generates the SQL for conn's
// backend.
func New(conn backend.Connection, ops backend.Operations, opts ...Option) *Evolver {
	e := &Evolver{conn: conn, ops: ops, database: "default"}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sources == nil {
		e.sources = map[string]evolutions.Source{}
	}
	e.store = history.New(conn, ops.Dialect(), history.WithLogger(e.logger))
	return e
}

// Load reads the latest stored signature and the database state. It fails
// with *evoerr.BaselineMissingError when nothing has been recorded.
func (e *Evolver) Load(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	if err := e.store.EnsureSchema(ctx); err != nil {
		return err
	}
	v, err := e.store.Latest(ctx)
	if errors.Is(err, history.ErrNoVersion) {
		return &evoerr.BaselineMissingError{}
	}
	if err != nil {
		return err
	}
	e.stored = v
	e.project = v.Signature.Clone()

	state, err := dbstate.Scan(ctx, e.database, e.conn)
	if err != nil {
		e.logger.Warn("database scan failed; deriving state from the stored signature", "database", e.database, "error", err)
		state = e.ops.ExpectedState(e.database, e.project)
	}
	e.state = state

	if e.hinted {
		if e.declared == nil {
			return fmt.Errorf("evolver: a hinted run needs the declared models")
		}
		e.hints = diff.New(e.stored.Signature, e.declared, e.diffOpts)
	}
	e.loaded = true
	return nil
}

// Stored returns the version loaded by Load.
func (e *Evolver) Stored() *history.Version { return e.stored }

func (e *Evolver) queued(id string) bool {
	return slices.ContainsFunc(e.tasks, func(t Task) bool { return t.ID() == id })
}

func (e *Evolver) checkQueue() error {
	if e.executed {
		return ErrAlreadyExecuted
	}
	if e.prepared {
		return ErrAlreadyPrepared
	}
	return nil
}

// QueueEvolveApp queues the evolution of one application.
func (e *Evolver) QueueEvolveApp(appLabel string) error {
	if err := e.checkQueue(); err != nil {
		return err
	}
	t := newEvolveAppTask(appLabel)
	if e.queued(t.ID()) {
		return fmt.Errorf("%q has already been queued for evolution", appLabel)
	}
	e.tasks = append(e.tasks, t)
	return nil
}

// QueueEvolveAll queues every declared application, in declaration order.
func (e *Evolver) QueueEvolveAll() error {
	if e.declared == nil {
		return fmt.Errorf("evolver: evolving all applications needs the declared models")
	}
	for _, label := range e.declared.AppLabels() {
		if err := e.QueueEvolveApp(label); err != nil {
			return err
		}
	}
	return nil
}

// QueuePurgeApp queues dropping the tables of an application.
func (e *Evolver) QueuePurgeApp(appLabel string) error {
	if err := e.checkQueue(); err != nil {
		return err
	}
	t := newPurgeAppTask(appLabel)
	if e.queued(t.ID()) {
		return fmt.Errorf("%q is already being tracked for purging", appLabel)
	}
	e.tasks = append(e.tasks, t)
	return nil
}

// QueuePurgeOldApps queues a purge for every stored application that is no
// longer declared. Load must have been called.
func (e *Evolver) QueuePurgeOldApps() error {
	for _, label := range e.StaleApps() {
		if err := e.QueuePurgeApp(label); err != nil {
			return err
		}
	}
	return nil
}

// StaleApps lists the stored applications missing from the declared
// signature.
func (e *Evolver) StaleApps() []string {
	if e.stored == nil || e.declared == nil {
		return nil
	}
	var out []string
	for _, label := range e.stored.Signature.AppLabels() {
		if e.declared.App(label) == nil {
			out = append(out, label)
		}
	}
	return out
}

func (e *Evolver) target(appLabel string) mutation.Target {
	return mutation.Target{
		AppLabel: appLabel,
		Project:  e.project,
		State:    e.state,
		Database: e.database,
		Router:   e.router,
		Ops:      e.ops,
	}
}

// Prepare simulates and compiles every queued task. Installation tasks for
// new models are added in front of the queue. When every mutation could be
// simulated, the result is compared with the declared models and any
// remaining difference fails with *evoerr.UnresolvedChangesError.
func (e *Evolver) Prepare(ctx context.Context) error {
	if e.prepared {
		return nil
	}
	if err := e.Load(ctx); err != nil {
		return err
	}

	canSimulate := true
	for _, t := range e.tasks {
		if err := t.prepare(ctx, e); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		if !t.CanSimulate() {
			canSimulate = false
		}
		e.logger.Info("evolution task prepared",
			"task", t.ID(), "required", t.EvolutionRequired(), "can_simulate", t.CanSimulate(),
			"statements", len(t.SQL().Statements()))
	}

	if e.declared != nil {
		if err := e.prepareInstalls(ctx); err != nil {
			return err
		}
		if canSimulate {
			if err := e.checkResolved(); err != nil {
				return err
			}
		} else {
			e.logger.Warn("some mutations cannot be simulated; skipping the consistency check")
		}
	}
	e.prepared = true
	return nil
}

// prepareInstalls queues the creation of declared models that are still
// missing once the evolutions have been simulated.
func (e *Evolver) prepareInstalls(ctx context.Context) error {
	d := diff.New(e.project, e.declared, diff.Options{})
	var installs []*InstallModelsTask
	for _, t := range e.tasks {
		if _, ok := t.(*EvolveAppTask); !ok {
			continue
		}
		label := t.AppLabel()
		var models []string
		if slices.Contains(d.AddedApps, label) {
			models = e.declared.App(label).ModelNames()
		} else {
			models = d.AddedModels(label)
		}
		if len(models) == 0 && !slices.Contains(d.AddedApps, label) {
			continue
		}
		it := &InstallModelsTask{taskBase: taskBase{appLabel: label, canSimulate: true}, models: models}
		if err := it.prepare(ctx, e); err != nil {
			return fmt.Errorf("%s: %w", it, err)
		}
		e.logger.Info("evolution task prepared", "task", it.ID(), "models", len(models))
		installs = append(installs, it)
	}
	e.installs = installs
	return nil
}

func (e *Evolver) checkResolved() error {
	var labels []string
	for _, t := range e.tasks {
		if _, ok := t.(*EvolveAppTask); ok {
			labels = append(labels, t.AppLabel())
		}
	}
	d := diff.New(subset(e.project, labels), subset(e.declared, labels), diff.Options{})
	if d.IsEmpty(false) {
		return nil
	}
	return &evoerr.UnresolvedChangesError{Details: d.String()}
}

// subset returns a copy of p holding only the given applications.
func subset(p *signature.ProjectSignature, labels []string) *signature.ProjectSignature {
	out := signature.NewProject()
	for _, label := range labels {
		if app := p.App(label); app != nil {
			_ = out.AddApp(app.Clone())
		}
	}
	return out
}

// Tasks returns the tasks in execution order. Valid after Prepare.
func (e *Evolver) Tasks() []Task {
	out := make([]Task, 0, len(e.installs)+len(e.tasks))
	for _, it := range e.installs {
		out = append(out, it)
	}
	return append(out, e.tasks...)
}

// EvolutionRequired reports whether any task has work to do.
func (e *Evolver) EvolutionRequired() bool {
	return slices.ContainsFunc(e.Tasks(), Task.EvolutionRequired)
}

// CanSimulate reports whether every task could be simulated.
func (e *Evolver) CanSimulate() bool {
	for _, t := range e.Tasks() {
		if !t.CanSimulate() {
			return false
		}
	}
	return true
}

// Project returns the signature the run will record. Valid after Prepare.
func (e *Evolver) Project() *signature.ProjectSignature {
	if e.CanSimulate() || e.declared == nil {
		return e.project
	}
	// The simulated signature is incomplete; trust the declared models
	// and keep any stored application that was not purged.
	p := e.declared.Clone()
	for _, app := range e.project.Apps() {
		if p.App(app.AppID) == nil && !e.queued(newPurgeAppTask(app.AppID).ID()) {
			_ = p.AddApp(app.Clone())
		}
	}
	return p
}

// SQL returns every statement the run would execute, in order, without
// executing anything.
func (e *Evolver) SQL(ctx context.Context) (*backend.SQLResult, error) {
	if err := e.Prepare(ctx); err != nil {
		return nil, err
	}
	r := backend.NewSQLResult()
	for _, t := range e.Tasks() {
		if t.SQL().Empty() {
			continue
		}
		r.AddSQL("-- " + t.String())
		r.Append(t.SQL())
	}
	return r, nil
}

// HintText renders the hinted evolution of every queued application that
// has changes, one "# <label>" block each.
func (e *Evolver) HintText(ctx context.Context) (string, error) {
	if err := e.Load(ctx); err != nil {
		return "", err
	}
	if e.hints == nil {
		if e.declared == nil {
			return "", fmt.Errorf("evolver: hint text needs the declared models")
		}
		e.hints = diff.New(e.stored.Signature, e.declared, e.diffOpts)
	}
	return e.hints.HintText(), nil
}

// Diff compares the stored signature with the declared models.
func (e *Evolver) Diff(ctx context.Context) (*diff.Diff, error) {
	if err := e.Load(ctx); err != nil {
		return nil, err
	}
	if e.declared == nil {
		return nil, fmt.Errorf("evolver: diff needs the declared models")
	}
	return diff.New(e.stored.Signature, e.declared, e.diffOpts), nil
}

// RunID returns the identifier of the executed run.
func (e *Evolver) RunID() string { return e.runID }

// Execute runs every task's SQL and records the new signature, all in one
// transaction. Any failure rolls the whole run back.
func (e *Evolver) Execute(ctx context.Context) error {
	if e.executed {
		return ErrAlreadyExecuted
	}
	if err := e.Prepare(ctx); err != nil {
		return err
	}
	if !e.EvolutionRequired() {
		e.logger.Info("no evolution required", "database", e.database)
		e.executed = true
		return nil
	}

	e.runID = uuid.NewString()
	exec := &backend.Executor{
		Backend:  e.ops.Name(),
		Database: e.database,
		RunID:    e.runID,
		Logger:   e.logger,
		Audit:    e.audit,
	}

	applied, err := e.run(ctx, exec)
	exec.Finish(evolutionNames(applied), err)
	if err != nil {
		return err
	}
	e.executed = true
	e.logger.Info("evolution complete", "database", e.database, "run_id", e.runID, "evolutions", len(applied))
	return nil
}

// run executes the required tasks and appends the history entry inside
// one transaction, returning the evolutions it recorded.
func (e *Evolver) run(ctx context.Context, exec *backend.Executor) ([]history.Evolution, error) {
	tx, err := e.conn.Begin(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("evolver begin: %w", err)
	}
	var applied []history.Evolution
	for _, t := range e.Tasks() {
		if !t.EvolutionRequired() {
			continue
		}
		e.logger.Info("executing evolution task", "task", t.ID(), "run_id", e.runID)
		if err := exec.Run(ctx, tx, t.AppLabel(), t.SQL()); err != nil {
			e.rollback(ctx, tx)
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		applied = append(applied, t.NewEvolutions()...)
	}

	if _, err := e.store.In(tx).Add(ctx, history.Entry{
		Signature:  e.Project(),
		Hinted:     e.hinted,
		RunID:      e.runID,
		Evolutions: applied,
	}); err != nil {
		e.rollback(ctx, tx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("evolver commit: %w", err)
	}
	return applied, nil
}

func evolutionNames(evos []history.Evolution) []string {
	names := make([]string, len(evos))
	for i, evo := range evos {
		names[i] = evo.AppLabel + "." + evo.Label
	}
	return names
}

func (e *Evolver) rollback(ctx context.Context, tx backend.Tx) {
	if err := tx.Rollback(ctx); err != nil {
		e.logger.Error("rollback failed", "database", e.database, "error", err)
	}
}

// Baseline records the declared models as the first stored signature,
// marking every stored evolution as applied. Tables are assumed to exist.
func (e *Evolver) Baseline(ctx context.Context) (*history.Version, error) {
	if e.declared == nil {
		return nil, fmt.Errorf("evolver: baseline needs the declared models")
	}
	var applied []history.Evolution
	for _, label := range e.sourceLabels() {
		seq, err := e.sources[label].Sequence()
		if err != nil {
			return nil, err
		}
		for _, l := range seq {
			applied = append(applied, history.Evolution{AppLabel: label, Label: l})
		}
	}
	return e.store.Baseline(ctx, e.declared.Clone(), uuid.NewString(), applied)
}

// EvolutionStatus is one stored evolution and whether it has been applied.
type EvolutionStatus struct {
	AppLabel string
	Label    string
	Applied  bool
}

// Status lists every stored evolution of every source in sequence order.
// It does not need a baseline.
func (e *Evolver) Status(ctx context.Context) ([]EvolutionStatus, error) {
	if err := e.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	var out []EvolutionStatus
	for _, label := range e.sourceLabels() {
		seq, err := e.sources[label].Sequence()
		if err != nil {
			return nil, err
		}
		for _, l := range seq {
			ok, err := e.store.Applied(ctx, label, l)
			if err != nil {
				return nil, err
			}
			out = append(out, EvolutionStatus{AppLabel: label, Label: l, Applied: ok})
		}
	}
	return out, nil
}

func (e *Evolver) sourceLabels() []string {
	labels := make([]string, 0, len(e.sources))
	for label := range e.sources {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	return labels
}

// Describe summarizes the prepared tasks, one line each.
func (e *Evolver) Describe() string {
	var b strings.Builder
	for _, t := range e.Tasks() {
		status := "nothing to do"
		if t.EvolutionRequired() {
			status = fmt.Sprintf("%d statements", len(t.SQL().Statements()))
		}
		fmt.Fprintf(&b, "%s: %s\n", t, status)
	}
	return b.String()
}
