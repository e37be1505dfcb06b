// Package evoerr defines the structured errors raised while simulating,
// compiling and executing evolutions.
package evoerr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoConnection is returned when an operation needs a live database.
var ErrNoConnection = errors.New("no database connection")

// CannotSimulateError means a mutation carries no way to update the
// signature. Execution may continue, but dry-run validation is skipped.
type CannotSimulateError struct {
	Mutation string
	Reason   string
}

func (e *CannotSimulateError) Error() string {
	if e.Mutation == "" {
		return "cannot simulate: " + e.Reason
	}
	return fmt.Sprintf("cannot simulate %s: %s", e.Mutation, e.Reason)
}

// SimulationFailure means a mutation is inconsistent with the signature it
// was applied to.
type SimulationFailure struct {
	AppLabel  string
	ModelName string
	FieldName string
	PropName  string
	Message   string
}

func (e *SimulationFailure) Error() string { return e.Message }

// NotImplementedError means the target backend cannot perform a change.
type NotImplementedError struct {
	Backend   string
	AppLabel  string
	ModelName string
	FieldName string
	Attr      string
	Message   string
}

func (e *NotImplementedError) Error() string { return e.Message }

// BaselineMissingError means no stored signature exists for the target.
type BaselineMissingError struct {
	AppLabel  string
	ModelName string
}

func (e *BaselineMissingError) Error() string {
	var b strings.Builder
	b.WriteString("the stored evolution signature")
	if e.AppLabel != "" {
		fmt.Fprintf(&b, " for %q", e.AppLabel)
		if e.ModelName != "" {
			fmt.Fprintf(&b, " model %q", e.ModelName)
		}
	}
	b.WriteString(" could not be found; record a baseline with `goevolve baseline` first")
	return b.String()
}

// ExecutionError wraps a database failure with the statement that caused it.
type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("error executing SQL: %s\n  statement: %s", e.Err, e.Statement)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// UnresolvedChangesError means the declared signature still differs from
// the simulated result of every pending evolution.
type UnresolvedChangesError struct {
	Details string
}

func (e *UnresolvedChangesError) Error() string {
	return "the declared models contain changes that the pending evolutions do not resolve:\n" + e.Details
}

// IsCannotSimulate reports whether err is, or wraps, a CannotSimulateError.
func IsCannotSimulate(err error) bool {
	var cs *CannotSimulateError
	return errors.As(err, &cs)
}
