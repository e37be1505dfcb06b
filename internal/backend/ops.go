package backend

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/sadopc/goevolve/internal/dbstate"
	"github.com/sadopc/goevolve/internal/signature"
)

// OpKind tags an Op.
type OpKind string

const (
	OpAddColumn        OpKind = "add_column"
	OpChangeColumn     OpKind = "change_column"
	OpChangeColumnType OpKind = "change_column_type"
	OpDeleteColumn     OpKind = "delete_column"
	OpDeleteModel      OpKind = "delete_model"
	OpChangeMeta       OpKind = "change_meta"
	OpSQL              OpKind = "sql"
)

// AttrChange is the old and new value of one field attribute.
type AttrChange struct {
	Old any
	New any
}

// Op is one structural operation scheduled by a mutation on a model
// mutator.
type Op struct {
	Kind OpKind

	// Mutations are the mutations whose simulation must run once this op
	// has been compiled. Merged ops carry more than one.
	Mutations []fmt.Stringer

	// Field is a snapshot of the affected field before the change.
	Field *signature.FieldSignature
	// NewField is the replacement field of a change_column_type op.
	NewField *signature.FieldSignature
	Initial  any
	Changes  map[string]AttrChange

	Prop     string
	OldValue any
	NewValue any

	// SQL is the literal SQL of an sql op. Build, when set, produces it
	// instead, at the point the op is compiled.
	SQL   *SQLResult
	Build func() (*SQLResult, error)
}

// ChangedAttrs returns the names in Changes, sorted.
func (op *Op) ChangedAttrs() []string {
	names := make([]string, 0, len(op.Changes))
	for k := range op.Changes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TableMutator is the view of a model mutator that SQL generators need
// while compiling its ops.
type TableMutator interface {
	// Model returns the live model handle, reflecting every op finished so
	// far.
	Model() Model
	State() *dbstate.State
	// FinishOp advances the live signature past op.
	FinishOp(op *Op) error
}

// MergeOps collapses adjacent change_column ops on the same field into one.
// Attributes that end up with identical old and new values are dropped; an
// op left with no changes still carries its mutations so the signature
// advances.
func MergeOps(ops []*Op) []*Op {
	var out []*Op
	for _, op := range ops {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if prev.Kind == OpChangeColumn && op.Kind == OpChangeColumn &&
				prev.Field != nil && op.Field != nil && prev.Field.Name == op.Field.Name {
				merged := &Op{
					Kind:      OpChangeColumn,
					Mutations: append(append([]fmt.Stringer(nil), prev.Mutations...), op.Mutations...),
					Field:     prev.Field,
					Initial:   prev.Initial,
					Changes:   map[string]AttrChange{},
				}
				if op.Initial != nil {
					merged.Initial = op.Initial
				}
				for k, c := range prev.Changes {
					merged.Changes[k] = c
				}
				for k, c := range op.Changes {
					if first, ok := merged.Changes[k]; ok {
						c.Old = first.Old
					}
					merged.Changes[k] = c
				}
				for k, c := range merged.Changes {
					if reflect.DeepEqual(c.Old, c.New) {
						delete(merged.Changes, k)
					}
				}
				out[len(out)-1] = merged
				continue
			}
		}
		out = append(out, op)
	}
	return out
}
