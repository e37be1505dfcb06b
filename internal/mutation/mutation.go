// Package mutation defines the structural schema changes an evolution is
// made of. Every mutation can simulate itself against a project signature,
// schedule database operations on a mutator, and render itself as a line
// of hinted-evolution text.
package mutation

import (
	"fmt"
	"strings"

	"github.com/sadopc/goevolve/internal/backend"
	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/signature"
)

// Mutation is one named structural schema change. Mutations are values:
// two mutations with the same hint text are the same change.
type Mutation interface {
	fmt.Stringer

	// Name is the constructor name used in hint text, e.g. "AddField".
	Name() string
	// HintParams renders the constructor arguments, positional first and
	// keyword arguments sorted.
	HintParams() []string
	// Simulate applies the change to sim's project signature or fails
	// with a *evoerr.SimulationFailure or *evoerr.CannotSimulateError.
	Simulate(sim *Simulation) error
	// IsMutable reports whether the mutation may run against t.
	IsMutable(t Target) bool
}

// ModelMutation is a mutation scoped to one model. Consecutive model
// mutations on the same model share a ModelMutator so their operations
// can be compiled together.
type ModelMutation interface {
	Mutation
	ModelName() string
	Mutate(m ModelMutator, model backend.Model) error
}

// AppMutation is a mutation scoped to a whole application.
type AppMutation interface {
	Mutation
	MutateApp(m AppMutator) error
}

// Router resolves the database that owns a model. An empty result means
// the default for the run.
type Router interface {
	DatabaseFor(appLabel, modelName string) string
}

// RouterFunc adapts a function to Router.
type RouterFunc func(appLabel, modelName string) string

func (f RouterFunc) DatabaseFor(appLabel, modelName string) string { return f(appLabel, modelName) }

// Target is the context a mutation is simulated and compiled in.
type Target struct {
	AppLabel string
	Project  *signature.ProjectSignature
	State    *dbstate.State
	Database string
	Router   Router
	Ops      backend.Operations

	// Relations indexes related_model references in Project. It is built
	// on demand when nil.
	Relations *signature.RelationIndex
}

// DatabaseFor returns the database owning modelName in t's application.
func (t Target) DatabaseFor(modelName string) string {
	if t.Router != nil {
		if db := t.Router.DatabaseFor(t.AppLabel, modelName); db != "" {
			return db
		}
	}
	return t.Database
}

// ModelFor returns a handle on a model of t's application.
func (t Target) ModelFor(sig *signature.ModelSignature) backend.Model {
	return backend.Model{AppLabel: t.AppLabel, Sig: sig, Project: t.Project}
}

// ModelMutator accumulates the operations of consecutive mutations on one
// model. Fields passed in are snapshots taken before the change.
type ModelMutator interface {
	Target() Target

	AddColumn(m Mutation, f *signature.FieldSignature, initial any)
	ChangeColumn(m Mutation, f *signature.FieldSignature, changes map[string]backend.AttrChange, initial any)
	ChangeColumnType(m Mutation, oldField, newField *signature.FieldSignature, initial any)
	DeleteColumn(m Mutation, f *signature.FieldSignature)
	DeleteModel(m Mutation)
	ChangeMeta(m Mutation, prop string, oldValue, newValue any)
	AddSQL(m Mutation, build func() (*backend.SQLResult, error))
}

// AppMutator runs the mutations of one application.
type AppMutator interface {
	Target() Target
	AddSQL(m Mutation, build func() (*backend.SQLResult, error))
	RunMutation(m Mutation) error
}

// Simulate runs m against t.
func Simulate(m Mutation, t Target) error {
	return m.Simulate(NewSimulation(m, t))
}

func hint(m Mutation) string {
	return m.Name() + "(" + strings.Join(m.HintParams(), ", ") + ")"
}

// modelMutable is the default policy: a model mutation runs only against
// the database that owns the model.
func modelMutable(t Target, modelName string) bool {
	return t.DatabaseFor(modelName) == t.Database
}

func fieldFor(t Target, model backend.Model, name string) (*signature.FieldSignature, error) {
	if t.Ops == nil {
		if f := model.Field(name); f != nil {
			return f, nil
		}
		return nil, fmt.Errorf("model %q has no field %q", model.Sig.ModelName, name)
	}
	fields, err := t.Ops.FieldsForNames(model, []string{name})
	if err != nil {
		return nil, err
	}
	return fields[0], nil
}
