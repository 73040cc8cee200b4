// Package template parses payload templates: diagnostic notation with
// embedded %(spec) directives and %% escapes. A parsed Template renders to
// notation text and then to its binary encoding.
package template

import (
	"fmt"
	"strings"

	"github.com/hansl/specification/pkg/fuzz"
)

// SyntaxError reports a percent sign that does not start a valid directive.
type SyntaxError struct {
	Offset int
	Span   string
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template: %s at offset %d: %q", e.Msg, e.Offset, e.Span)
}

// DirectiveError reports a directive whose spec failed to compile.
type DirectiveError struct {
	Offset int
	Spec   string
	Err    error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("template: directive %%(%s) at offset %d: %v", e.Spec, e.Offset, e.Err)
}

func (e *DirectiveError) Unwrap() error { return e.Err }

// Part is a literal run or a compiled directive. Generator is nil for
// literals; a %% escape is the literal "%".
type Part struct {
	Literal   string
	Generator fuzz.Generator
	Offset    int
}

func (p Part) IsDirective() bool { return p.Generator != nil }

// Template is an immutable, parsed template.
type Template struct {
	source string
	parts  []Part
}

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokEscape
	tokDirective
)

// token is a literal run, a %% escape, or a directive whose text is the
// inner spec.
type token struct {
	kind   tokenKind
	offset int
	text   string
}

// Parse splits text into literal runs and directives, compiling every
// directive. Delimiter errors are reported before any directive is compiled.
func Parse(text string) (*Template, error) {
	toks, err := scan(text)
	if err != nil {
		return nil, err
	}

	var parts []Part
	var ctx notationState
	for _, tk := range toks {
		switch tk.kind {
		case tokEscape:
			ctx = ctx.advance("%")
			parts = append(parts, Part{Literal: "%", Offset: tk.offset})
		case tokDirective:
			g, err := fuzz.Compile(tk.text)
			if err != nil {
				return nil, &DirectiveError{Offset: tk.offset, Spec: tk.text, Err: err}
			}
			if ctx.inHexBytes() {
				g = fuzz.InByteString(g)
			}
			ctx = ctx.afterDirective()
			parts = append(parts, Part{Generator: g, Offset: tk.offset})
		default:
			ctx = ctx.advance(tk.text)
			parts = append(parts, Part{Literal: tk.text, Offset: tk.offset})
		}
	}
	return &Template{source: text, parts: parts}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// scan tokenizes text. Every directive closes the literal run before it,
// possibly empty, and the run after the last directive is always emitted.
func scan(text string) ([]token, error) {
	var toks []token
	litStart := 0
	for i := 0; i < len(text); {
		if text[i] != '%' {
			i++
			continue
		}
		toks = append(toks, token{kind: tokLiteral, offset: litStart, text: text[litStart:i]})
		switch {
		case i+1 < len(text) && text[i+1] == '%':
			toks = append(toks, token{kind: tokEscape, offset: i, text: "%%"})
			i += 2
		case i+1 < len(text) && text[i+1] == '(':
			closeAt := strings.IndexByte(text[i+2:], ')')
			if closeAt < 0 {
				return nil, &SyntaxError{Offset: i, Span: text[i:], Msg: "unterminated directive"}
			}
			end := i + 2 + closeAt + 1
			toks = append(toks, token{kind: tokDirective, offset: i, text: text[i+2 : end-1]})
			i = end
		default:
			end := min(i+2, len(text))
			return nil, &SyntaxError{Offset: i, Span: text[i:end], Msg: "invalid escape"}
		}
		litStart = i
	}
	toks = append(toks, token{kind: tokLiteral, offset: litStart, text: text[litStart:]})
	return toks, nil
}

// Source returns the text the template was parsed from.
func (t *Template) Source() string { return t.source }

// Parts returns a copy of the template's parts in order.
func (t *Template) Parts() []Part {
	out := make([]Part, len(t.parts))
	copy(out, t.parts)
	return out
}

// Directives returns the compiled generators in order.
func (t *Template) Directives() []fuzz.Generator {
	var out []fuzz.Generator
	for _, p := range t.parts {
		if p.IsDirective() {
			out = append(out, p.Generator)
		}
	}
	return out
}

func (t *Template) String() string { return t.source }
