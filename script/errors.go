package script

import (
	"fmt"

	"golang.org/x/xerrors"
)

// EvalError is a located diagnostic: "Evaluation failure at file "<f>",
// line <l>, column <c>. Cause:\n<specific message>".
type EvalError struct {
	File    string
	Line    int
	Col     int
	Cause   error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("Evaluation failure at file %q, line %d, column %d. Cause:\n%v",
		e.File, e.Line, e.Col, e.Cause)
}

func (e *EvalError) Unwrap() error { return e.Cause }

func newEvalError(pos SourcePosition, cause error) *EvalError {
	return &EvalError{File: pos.File, Line: pos.Line, Col: pos.Col, Cause: cause}
}

func evalErrorf(pos SourcePosition, format string, args ...interface{}) *EvalError {
	return newEvalError(pos, xerrors.Errorf(format, args...))
}

var errEmptyName = xerrors.New("variable name must not be empty")

func errReservedName(name string) error {
	return xerrors.Errorf("%q: reserved names (beginning with \".\") cannot be set directly", name)
}

// Bug is an internal invariant violation: a condition the implementation
// believes cannot occur. Builtins return it as an error; parseFunctionCall
// fills in the call's file and line and passes it up unwrapped, and cmd/mbld
// prints it and exits with status 1, as it does for any other error.
type Bug struct {
	File    string
	Line    int
	Payload string
}

func (b *Bug) Error() string {
	if b.Payload == "" {
		return fmt.Sprintf("internal invariant violation at %s:%d", b.File, b.Line)
	}
	return fmt.Sprintf("internal invariant violation at %s:%d: %s", b.File, b.Line, b.Payload)
}

func bug(payload string) error {
	return &Bug{Payload: payload}
}
