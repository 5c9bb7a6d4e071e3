package query

import "fmt"

// SyntaxError is returned by Compile for malformed expressions. Pos is the
// byte offset into the source where the problem was found.
type SyntaxError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Source, e.Msg)
}

type EvalErrorKind int

const (
	ErrTypeMismatch EvalErrorKind = iota
	ErrRuntime
)

func (k EvalErrorKind) String() string {
	switch k {
	case ErrTypeMismatch:
		return "type mismatch"
	case ErrRuntime:
		return "runtime"
	}
	return "unknown"
}

// EvalError is the only error Evaluate returns.
type EvalError struct {
	Kind EvalErrorKind
	Msg  string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func typeMismatch(format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: ErrTypeMismatch, Msg: fmt.Sprintf(format, args...)}
}

func runtimeError(format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: ErrRuntime, Msg: fmt.Sprintf(format, args...)}
}

func syntaxErrorf(pos int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
