// Copyright Contributors to the Sykli project

// Package elaborate converts a declarative pipeline.Pipeline into a
// concrete, immutable task DAG: matrix expansion, group flattening,
// capability resolution, input_from wiring, condition pruning, and
// validation.
package elaborate

import "fmt"

// ErrorKind distinguishes the elaboration violations that must be
// individually typed so callers can report them precisely.
type ErrorKind string

const (
	ErrCycle              ErrorKind = "cycle"
	ErrDuplicateName      ErrorKind = "duplicate_name"
	ErrUnknownDependsOn   ErrorKind = "unknown_depends_on"
	ErrEmptyEnvKey        ErrorKind = "empty_env_key"
	ErrMissingCapability  ErrorKind = "missing_capability"
	ErrUndeclaredMount    ErrorKind = "undeclared_mount"
	ErrConditionParse     ErrorKind = "condition_parse"
	ErrInvalidK8sOptions  ErrorKind = "invalid_k8s_options"
)

// Error is a single elaboration violation, distinguishable by Kind
// and naming every task involved.
type Error struct {
	Kind  ErrorKind
	Tasks []string
	Msg   string
}

func (e *Error) Error() string {
	if len(e.Tasks) == 0 {
		return fmt.Sprintf("elaboration: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("elaboration: %s: %s (tasks: %v)", e.Kind, e.Msg, e.Tasks)
}

// Errors aggregates every violation found during a single elaboration
// pass (validate runs exhaustively rather than stopping at the first
// problem, so users see every fix they need to make at once).
type Errors struct {
	Violations []*Error
}

func (e *Errors) Error() string {
	if len(e.Violations) == 1 {
		return e.Violations[0].Error()
	}
	return fmt.Sprintf("elaboration: %d violations (first: %s)", len(e.Violations), e.Violations[0].Error())
}

func (e *Errors) add(kind ErrorKind, msg string, tasks ...string) {
	e.Violations = append(e.Violations, &Error{Kind: kind, Tasks: tasks, Msg: msg})
}

func (e *Errors) errOrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}
