package template

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/hansl/specification/pkg/diag"
	"github.com/hansl/specification/pkg/variables"
)

// RenderError reports a directive that failed to render.
type RenderError struct {
	Offset    int
	Directive string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template: render %%(%s) at offset %d: %v", e.Directive, e.Offset, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// NotationError reports rendered text that is not valid diagnostic
// notation.
type NotationError struct {
	Text string
	Err  error
}

func (e *NotationError) Error() string {
	return fmt.Sprintf("template: rendered text %q is not valid notation: %v", e.Text, e.Err)
}

func (e *NotationError) Unwrap() error { return e.Err }

// RenderText concatenates literal runs and directive output in order. env is
// only read.
func (t *Template) RenderText(rng *rand.Rand, env variables.View) (string, error) {
	var b strings.Builder
	b.Grow(len(t.source))
	for _, p := range t.parts {
		if !p.IsDirective() {
			b.WriteString(p.Literal)
			continue
		}
		out, err := p.Generator.Render(rng, env)
		if err != nil {
			return "", &RenderError{Offset: p.Offset, Directive: p.Generator.String(), Err: err}
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// RenderBytes renders the template and compiles the text to CBOR.
func (t *Template) RenderBytes(rng *rand.Rand, env variables.View) ([]byte, error) {
	text, err := t.RenderText(rng, env)
	if err != nil {
		return nil, err
	}
	b, err := diag.Compile(text)
	if err != nil {
		return nil, &NotationError{Text: text, Err: err}
	}
	return b, nil
}

var _ variables.Renderable = (*Template)(nil)
