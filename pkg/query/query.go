// Package query implements the small jq-like language used by resource
// mappings to select and transform raw provider objects.
//
// Expressions are compiled once with Compile and evaluated many times.
// Evaluation is a pure tree walk over immutable nodes, so a compiled Expr may
// be shared by any number of goroutines.
package query

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Expr is a compiled query expression.
type Expr struct {
	src  string
	root node
}

// Compile parses src. Every syntax problem, including calls to unknown
// functions and invalid literal regular expressions, is reported here as a
// *SyntaxError so evaluation never meets one.
func Compile(src string) (*Expr, error) {
	root, err := parse(src, 0)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			se.Source = src
		}
		return nil, err
	}

	return &Expr{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string {
	return e.src
}

// Evaluate returns the first output of the expression, or Null when the
// expression produces no output.
func (e *Expr) Evaluate(input Value) (Value, error) {
	out, err := e.EvaluateAll(input)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return Null{}, nil
	}
	return out[0], nil
}

// EvaluateAll returns every output of the expression in order. A panic
// inside the interpreter is returned as a runtime EvalError.
func (e *Expr) EvaluateAll(input Value) (out []Value, err error) {
	if input == nil {
		input = Null{}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = runtimeError("evaluating %q panicked: %v", e.String(), r)
		}
	}()

	out, err = eval(e.root, input)
	if err != nil {
		var ee *EvalError
		if errors.As(err, &ee) {
			return nil, ee
		}
		return nil, &EvalError{Kind: ErrRuntime, Msg: err.Error()}
	}
	return out, nil
}

// Constant returns the value of an expression that is a plain literal.
func (e *Expr) Constant() (Value, bool) {
	lit, ok := e.root.(*literalNode)
	if !ok {
		return nil, false
	}
	return lit.value, true
}

// Compiler caches compiled expressions by source text so reloading a mapping
// configuration does not re-parse unchanged queries.
type Compiler struct {
	cache *lru.Cache[string, *Expr]
}

func NewCompiler(size int) (*Compiler, error) {
	if size <= 0 {
		size = 1024
	}

	cache, err := lru.New[string, *Expr](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression cache: %w", err)
	}

	return &Compiler{cache: cache}, nil
}

func (c *Compiler) Compile(src string) (*Expr, error) {
	if c == nil {
		return Compile(src)
	}

	if e, ok := c.cache.Get(src); ok {
		return e, nil
	}

	e, err := Compile(src)
	if err != nil {
		return nil, err
	}

	c.cache.Add(src, e)
	return e, nil
}

// Len reports how many compiled expressions are cached.
func (c *Compiler) Len() int {
	return c.cache.Len()
}
