package query

import "fmt"

// SyntaxError reports an expression that could not be parsed: prose, a
// truncated line, or a construct outside the language.
type SyntaxError struct {
	Expr string
	Pos  int // byte offset into Expr, -1 when unknown
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
	}
	return "syntax error: " + e.Msg
}

// EvalError reports a failure while binding or running a parsed expression.
// Disallowed is set when the expression names a capability outside the
// evaluation namespace (file, process or import access).
type EvalError struct {
	Stage      string
	Msg        string
	Disallowed bool
	Err        error
}

func (e *EvalError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stage != "" {
		return fmt.Sprintf("evaluation error in %s: %s", e.Stage, msg)
	}
	return "evaluation error: " + msg
}

func (e *EvalError) Unwrap() error { return e.Err }

func syntaxErr(expr string, pos int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Expr: expr, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func evalErr(stage, format string, args ...any) *EvalError {
	return &EvalError{Stage: stage, Msg: fmt.Sprintf(format, args...)}
}
