package templating

import (
	"fmt"
	"math"
	"sync"

	"github.com/dop251/goja"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator computes the numeric result of an eval directive. The scope holds
// the entry's top-level attributes.
type Evaluator interface {
	Evaluate(expression string, scope map[string]any) (float64, error)
}

// NewEvaluator returns the evaluator registered under engine ("expr" or "js").
func NewEvaluator(engine string) (Evaluator, error) {
	switch engine {
	case "", "expr":
		return NewExprEvaluator(), nil
	case "js":
		return NewJSEvaluator(), nil
	default:
		return nil, fmt.Errorf("unknown eval engine %q", engine)
	}
}

// ExprEvaluator evaluates expressions with expr-lang. Compiled programs are
// cached by source text.
type ExprEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{programs: make(map[string]*vm.Program)}
}

func (e *ExprEvaluator) Evaluate(expression string, scope map[string]any) (float64, error) {
	program, err := e.compile(expression)
	if err != nil {
		return 0, err
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	return toFloat(expression, out)
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expression, err)
	}
	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

// JSEvaluator evaluates expressions as JavaScript with goja. A runtime is
// created per call since goja runtimes are not safe for concurrent use.
type JSEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*goja.Program
}

func NewJSEvaluator() *JSEvaluator {
	return &JSEvaluator{programs: make(map[string]*goja.Program)}
}

func (e *JSEvaluator) Evaluate(expression string, scope map[string]any) (float64, error) {
	program, err := e.compile(expression)
	if err != nil {
		return 0, err
	}
	runtime := goja.New()
	for name, v := range scope {
		if err = runtime.Set(name, v); err != nil {
			return 0, fmt.Errorf("failed to bind %q: %w", name, err)
		}
	}
	value, err := runtime.RunProgram(program)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	return toFloat(expression, value.Export())
}

func (e *JSEvaluator) compile(expression string) (*goja.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := goja.Compile("eval", "("+expression+")", false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expression, err)
	}
	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

func toFloat(expression string, v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, fmt.Errorf("expression %q produced %T, not a number", expression, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expression %q produced %v", expression, f)
	}
	return f, nil
}
