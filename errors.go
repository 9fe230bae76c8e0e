package loom

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors
var (
	// ErrUndefinedVariable is returned when a name resolves to neither a
	// variable in any live frame nor a top-level function.
	ErrUndefinedVariable = errors.New("undefined variable")

	// ErrDuplicateDeclaration is returned when a declaration reuses a
	// name already bound in the current frame.
	ErrDuplicateDeclaration = errors.New("duplicate declaration")

	// ErrConstReassignment is returned when assigning to a const binding.
	ErrConstReassignment = errors.New("cannot reassign const")

	// ErrInvalidResumeState is returned when a resume call does not match
	// the state's awaiting kind.
	ErrInvalidResumeState = errors.New("invalid resume state")

	// ErrNotPaused is returned when inspecting a pending request on a
	// state that has none.
	ErrNotPaused = errors.New("state is not paused")
)

// RuntimeError wraps an engine fault with the name and frame it occurred
// in. These are fatal: the run transitions to StatusError.
type RuntimeError struct {
	Name  string
	Frame string
	Err   error
}

func (e *RuntimeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s (in %s)", e.Err.Error(), e.Frame)
	}
	return fmt.Sprintf("%s: %s (in %s)", e.Err.Error(), e.Name, e.Frame)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// TypeCoercionError is returned when a value cannot be coerced to a
// declared type. AI responses that mismatch their target type raise this
// rather than silently storing an untyped value.
type TypeCoercionError struct {
	Target string
	Value  string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %s to %s", e.Value, e.Target)
}

// GeneratedCodeSyntaxError is returned when vibe-generated code fails to
// parse. It is distinct from provider failures and never retried by the
// generic retry wrapper; regeneration is a driver policy decision.
type GeneratedCodeSyntaxError struct {
	Source string
	Err    error
}

func (e *GeneratedCodeSyntaxError) Error() string {
	return "generated code failed to parse: " + e.Err.Error()
}

func (e *GeneratedCodeSyntaxError) Unwrap() error {
	return e.Err
}

// FunctionRedeclaredError is returned when vibe-generated code declares a
// function name that already exists and the redeclare policy is reject.
type FunctionRedeclaredError struct {
	Name string
}

func (e *FunctionRedeclaredError) Error() string {
	return "generated code redeclares function: " + e.Name
}

// CircularDependencyError is raised during module loading when the import
// graph re-enters a path still being loaded. Cycle lists the resolved
// paths in import order, ending with the repeated entry.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return "import cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// ImportConflictError is raised when two imports bind different things to
// the same name.
type ImportConflictError struct {
	Name     string
	Existing string
	Imported string
}

func (e *ImportConflictError) Error() string {
	return fmt.Sprintf("import conflict: %q already bound from %s, cannot rebind from %s",
		e.Name, e.Existing, e.Imported)
}

// ExportNotFoundError is raised when a requested export is absent from a
// loaded module.
type ExportNotFoundError struct {
	Module string
	Name   string
}

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("module %s has no export %q", e.Module, e.Name)
}

// UnsupportedValueError is raised at serialize time when a value has no
// defined durable encoding.
type UnsupportedValueError struct {
	Detail string
}

func (e *UnsupportedValueError) Error() string {
	return "value has no durable encoding: " + e.Detail
}

// DeserializationVersionError is raised when a serialized state document
// carries an unrecognized version. Deserialization fails closed rather
// than guessing.
type DeserializationVersionError struct {
	Version int
}

func (e *DeserializationVersionError) Error() string {
	return fmt.Sprintf("unrecognized state document version %d", e.Version)
}

// RunError is the terminal error recorded on a failed state. It survives
// serialization, unlike a live Go error value.
type RunError struct {
	Message string `json:"message"`
}

func (e *RunError) Error() string {
	return e.Message
}
