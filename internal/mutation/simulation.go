package mutation

import (
	"strings"

	"github.com/sadopc/goevolve/internal/evoerr"
	"github.com/sadopc/goevolve/internal/signature"
)

// Simulation binds one mutation to the target it is applied to. Lookups
// fail uniformly with a SimulationFailure whose message starts with the
// mutation's own failure prefix.
type Simulation struct {
	Target
	Mutation Mutation
}

// NewSimulation returns a simulation of m against t.
func NewSimulation(m Mutation, t Target) *Simulation {
	return &Simulation{Target: t, Mutation: m}
}

// failureContext names what a mutation was acting on. The template may
// reference {app}, {model}, {field} and {prop}.
type failureContext struct {
	template string
	model    string
	field    string
	prop     string
}

type failureDescriber interface {
	failureContext() failureContext
}

// App returns the signature of the simulated application.
func (s *Simulation) App() (*signature.AppSignature, error) {
	if a := s.Project.App(s.AppLabel); a != nil {
		return a, nil
	}
	return nil, s.Fail("The application could not be found in the signature.")
}

// ModelSig returns the signature of a model in the simulated application.
func (s *Simulation) ModelSig(modelName string) (*signature.ModelSignature, error) {
	app, err := s.App()
	if err != nil {
		return nil, err
	}
	if m := app.Model(modelName); m != nil {
		return m, nil
	}
	return nil, s.failAt("The model could not be found in the signature.", modelName, "")
}

// FieldSig returns the signature of a field.
func (s *Simulation) FieldSig(modelName, fieldName string) (*signature.FieldSignature, error) {
	m, err := s.ModelSig(modelName)
	if err != nil {
		return nil, err
	}
	if f := m.Field(fieldName); f != nil {
		return f, nil
	}
	return nil, s.failAt("The field could not be found in the signature.", modelName, fieldName)
}

// Fail returns a SimulationFailure for the bound mutation.
func (s *Simulation) Fail(msg string) error {
	return s.failAt(msg, "", "")
}

func (s *Simulation) failAt(msg, modelName, fieldName string) error {
	fc := failureContext{template: "Cannot simulate the mutation."}
	if d, ok := s.Mutation.(failureDescriber); ok {
		fc = d.failureContext()
	}
	if modelName != "" {
		fc.model = modelName
	}
	if fieldName != "" {
		fc.field = fieldName
	}
	prefix := strings.NewReplacer(
		"{app}", s.AppLabel,
		"{model}", fc.model,
		"{field}", fc.field,
		"{prop}", fc.prop,
	).Replace(fc.template)

	return &evoerr.SimulationFailure{
		AppLabel:  s.AppLabel,
		ModelName: fc.model,
		FieldName: fc.field,
		PropName:  fc.prop,
		Message:   prefix + " " + msg,
	}
}

// relations returns the relation index of the simulated project.
func (s *Simulation) relations() *signature.RelationIndex {
	if s.Relations == nil {
		s.Relations = signature.NewRelationIndex(s.Project)
	}
	return s.Relations
}
