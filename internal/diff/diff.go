// Package diff compares two project signatures and proposes the mutations
// that turn one into the other.
//
// The proposal is a hint: field and model renames are guessed from
// matching types and shapes, and non-null additions carry a placeholder
// initial value that has to be filled in before the evolution can run.
// Simulation, not this package, decides whether the proposal applies.
package diff

import (
	"fmt"
	"strings"

	"github.com/sadopc/goevolve/internal/mutation"
	"github.com/sadopc/goevolve/internal/signature"
)

// Options controls the heuristics of New.
type Options struct {
	// DetectRenames treats a deleted and an added field of the same type
	// (or a deleted and an added model with the same fields) as a rename.
	DetectRenames bool
}

// FieldRename is a field matched by the rename heuristic.
type FieldRename struct {
	Old string
	New string
}

// FieldChange lists the attributes that changed on one field.
type FieldChange struct {
	Field string
	Attrs []string
}

// ModelChange describes the differences found in one model.
type ModelChange struct {
	Model string
	// RenamedFrom is the old name when the model was matched as a rename.
	RenamedFrom  string
	TableChanged bool
	Added        []string
	Deleted      []string
	Renamed      []FieldRename
	Changed      []FieldChange
	MetaChanged  []string
}

func (c *ModelChange) empty() bool {
	return c.RenamedFrom == "" && !c.TableChanged && len(c.Added) == 0 && len(c.Deleted) == 0 &&
		len(c.Renamed) == 0 && len(c.Changed) == 0 && len(c.MetaChanged) == 0
}

// AppChange describes the differences found in one application present on
// both sides.
type AppChange struct {
	AppLabel string
	Changed  []*ModelChange
	// Deleted models are dropped by DeleteModel.
	Deleted []string
	// Added models have no mutation; their tables are created by the
	// model installation path.
	Added []string
	// MarkApplied is set when the application moved to migrations.
	MarkApplied []string
	Migrated    bool
}

func (c *AppChange) empty() bool {
	return len(c.Changed) == 0 && len(c.Deleted) == 0 && len(c.Added) == 0 && !c.Migrated
}

// AppMutations is the proposed mutation list of one application.
type AppMutations struct {
	AppLabel  string
	Mutations []mutation.Mutation
}

// Diff is the result of comparing an old and a new project signature.
type Diff struct {
	Old, New *signature.ProjectSignature

	Changed []*AppChange
	// DeletedApps are present in Old only.
	DeletedApps []string
	// AddedApps are present in New only and need installation.
	AddedApps []string

	mutations []AppMutations
}

// New compares old with cur. Neither signature is modified.
func New(old, cur *signature.ProjectSignature, opts Options) *Diff {
	d := &Diff{Old: old, New: cur}
	b := &builder{
		opts:      opts,
		work:      old.Clone(),
		cur:       cur,
		mutations: map[string][]mutation.Mutation{},
	}

	var shared []string
	for _, label := range old.AppLabels() {
		if cur.App(label) == nil {
			d.DeletedApps = append(d.DeletedApps, label)
			continue
		}
		shared = append(shared, label)
	}
	for _, label := range cur.AppLabels() {
		if old.App(label) == nil {
			d.AddedApps = append(d.AddedApps, label)
		}
	}

	// Model renames go first across every application, so relations in
	// other applications already point at the new names when their
	// fields are compared.
	changes := make(map[string]*AppChange, len(shared))
	for _, label := range shared {
		changes[label] = b.models(label)
	}
	for _, label := range shared {
		c := changes[label]
		b.fields(label, c)
		b.app(label, c)
		if !c.empty() {
			d.Changed = append(d.Changed, c)
		}
	}

	for _, label := range shared {
		if ms := b.mutations[label]; len(ms) > 0 {
			d.mutations = append(d.mutations, AppMutations{AppLabel: label, Mutations: ms})
		}
	}
	for _, label := range d.DeletedApps {
		d.mutations = append(d.mutations, AppMutations{
			AppLabel:  label,
			Mutations: []mutation.Mutation{&mutation.DeleteApplication{}},
		})
	}
	return d
}

// IsEmpty reports whether the signatures are equivalent. With ignoreApps,
// deleted and added applications are not counted.
func (d *Diff) IsEmpty(ignoreApps bool) bool {
	if ignoreApps {
		return len(d.Changed) == 0
	}
	return len(d.Changed) == 0 && len(d.DeletedApps) == 0 && len(d.AddedApps) == 0
}

// Evolution returns the proposed mutations per application, in the order
// the applications appear in the old signature.
func (d *Diff) Evolution() []AppMutations {
	return d.mutations
}

// MutationsFor returns the proposed mutations of one application.
func (d *Diff) MutationsFor(appLabel string) []mutation.Mutation {
	for _, am := range d.mutations {
		if am.AppLabel == appLabel {
			return am.Mutations
		}
	}
	return nil
}

// AddedModels returns the models of appLabel that need installation.
func (d *Diff) AddedModels(appLabel string) []string {
	for _, c := range d.Changed {
		if c.AppLabel == appLabel {
			return c.Added
		}
	}
	return nil
}

// Apply simulates the proposed mutations on p, installs added models and
// applications from the new signature, and drops deleted applications.
func (d *Diff) Apply(p *signature.ProjectSignature) error {
	for _, am := range d.mutations {
		t := mutation.Target{AppLabel: am.AppLabel, Project: p}
		for _, m := range am.Mutations {
			if err := mutation.Simulate(m, t); err != nil {
				return fmt.Errorf("diff apply %s: %w", am.AppLabel, err)
			}
		}
	}
	for _, c := range d.Changed {
		app := p.App(c.AppLabel)
		for _, name := range c.Added {
			if err := app.AddModel(d.New.App(c.AppLabel).Model(name).Clone()); err != nil {
				return fmt.Errorf("diff apply %s: %w", c.AppLabel, err)
			}
		}
	}
	for _, label := range d.DeletedApps {
		p.RemoveApp(label)
	}
	for _, label := range d.AddedApps {
		if err := p.AddApp(d.New.App(label).Clone()); err != nil {
			return fmt.Errorf("diff apply: %w", err)
		}
	}
	return nil
}

// HintText renders the proposed mutations as hinted evolution text, one
// block per application.
func (d *Diff) HintText() string {
	var sb strings.Builder
	for i, am := range d.mutations {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# %s\n", am.AppLabel)
		sb.WriteString(mutation.Render(am.Mutations))
	}
	return sb.String()
}

// String describes the differences for humans.
func (d *Diff) String() string {
	var lines []string
	for _, label := range d.DeletedApps {
		lines = append(lines, fmt.Sprintf("The application %s has been deleted", label))
	}
	for _, label := range d.AddedApps {
		lines = append(lines, fmt.Sprintf("The application %s has been added", label))
	}
	for _, c := range d.Changed {
		for _, name := range c.Deleted {
			lines = append(lines, fmt.Sprintf("The model %s.%s has been deleted", c.AppLabel, name))
		}
		for _, name := range c.Added {
			lines = append(lines, fmt.Sprintf("The model %s.%s has been added", c.AppLabel, name))
		}
		if c.Migrated {
			lines = append(lines, fmt.Sprintf("The application %s has moved to migrations", c.AppLabel))
		}
		for _, mc := range c.Changed {
			lines = append(lines, fmt.Sprintf("In model %s.%s:", c.AppLabel, mc.Model))
			if mc.RenamedFrom != "" {
				lines = append(lines, fmt.Sprintf("    Renamed from '%s'", mc.RenamedFrom))
			}
			if mc.TableChanged {
				lines = append(lines, "    Table name has changed")
			}
			for _, r := range mc.Renamed {
				lines = append(lines, fmt.Sprintf("    Field '%s' has been renamed to '%s'", r.Old, r.New))
			}
			for _, name := range mc.Added {
				lines = append(lines, fmt.Sprintf("    Field '%s' has been added", name))
			}
			for _, name := range mc.Deleted {
				lines = append(lines, fmt.Sprintf("    Field '%s' has been deleted", name))
			}
			for _, fc := range mc.Changed {
				lines = append(lines, fmt.Sprintf("    In field '%s':", fc.Field))
				for _, attr := range fc.Attrs {
					lines = append(lines, fmt.Sprintf("        Property '%s' has changed", attr))
				}
			}
			for _, prop := range mc.MetaChanged {
				lines = append(lines, fmt.Sprintf("    Meta property '%s' has changed", prop))
			}
		}
	}
	return strings.Join(lines, "\n")
}
