package scenario

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/hansl/specification/pkg/diag"
)

// ExpressionError is returned when a response assertion cannot be compiled
// or evaluated.
type ExpressionError struct {
	Expr string
	Err  error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// The payload is exposed as `response`; map keys are text, so an integer key
// 0 is reached as response["0"].
var exprEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("response", cel.DynType))
})

// ResponseSatisfies decodes the payload of response name and evaluates expr
// against it. The expression must yield true.
func (w *World) ResponseSatisfies(name, expr string) error {
	data, err := w.ResponseData(name)
	if err != nil {
		return err
	}
	v, err := diag.Decode(data)
	if err != nil {
		return fmt.Errorf("response %q: %w", name, err)
	}
	native, err := diag.ToNative(v)
	if err != nil {
		return fmt.Errorf("response %q: %w", name, err)
	}
	ok, err := evaluate(expr, native)
	if err != nil {
		return err
	}
	if !ok {
		return &MismatchError{What: fmt.Sprintf("response %q satisfies %s", name, expr), Want: true, Got: false}
	}
	return nil
}

func evaluate(expr string, response any) (bool, error) {
	env, err := exprEnv()
	if err != nil {
		return false, &ExpressionError{Expr: expr, Err: err}
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, &ExpressionError{Expr: expr, Err: issues.Err()}
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, &ExpressionError{Expr: expr, Err: err}
	}
	out, _, err := prg.Eval(map[string]any{"response": response})
	if err != nil {
		return false, &ExpressionError{Expr: expr, Err: err}
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, &ExpressionError{Expr: expr, Err: fmt.Errorf("result is %s, not bool", out.Type().TypeName())}
	}
	return b, nil
}
