package expr

import (
	"errors"
	"fmt"
)

// CompileError reports a malformed or unsafe expression. It is surfaced at
// load time; an expression that compiles never becomes unsafe at runtime.
type CompileError struct {
	Message string
	Expr    string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error: %s\n  in: %s", e.Message, e.Expr)
}

// EvalError reports a runtime evaluation failure, most commonly an unknown
// identifier. Callers treat it as "this rule does not fire this tick" and
// bump a diagnostics counter; it never aborts a run.
type EvalError struct {
	Message string
	Expr    string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("eval error: %s\n  in: %s", e.Message, e.Expr)
}

// IsCompileError reports whether err is a CompileError.
// Uses errors.As to handle wrapped errors.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// IsEvalError reports whether err is an EvalError.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

func compileErrf(src, format string, args ...any) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...), Expr: src}
}

func evalErrf(src, format string, args ...any) *EvalError {
	return &EvalError{Message: fmt.Sprintf(format, args...), Expr: src}
}
