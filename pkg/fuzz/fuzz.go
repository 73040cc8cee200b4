// Package fuzz compiles directive specifications such as "hex:4" or
// "int:0..10" into generators that render a piece of diagnostic notation
// from a random source and a variable environment.
package fuzz

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/hansl/specification/pkg/variables"
)

// MaxSize bounds the length parameter of sized generators.
const MaxSize = 1 << 16

// Generator renders one directive. Generators are immutable and safe to
// share; all randomness comes from the rng passed to Render.
type Generator interface {
	Render(rng *rand.Rand, env variables.View) (string, error)
	// String returns the canonical spec the generator was compiled from.
	String() string
}

// UnknownGeneratorError reports a spec whose kind is not recognised.
type UnknownGeneratorError struct {
	Token string
}

func (e *UnknownGeneratorError) Error() string {
	return fmt.Sprintf("unknown generator %q", e.Token)
}

// CompileError reports a known kind with invalid parameters.
type CompileError struct {
	Spec string
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid generator %q: %s", e.Spec, e.Msg)
}

// UnresolvedError reports a reference to an unbound variable.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("variable %q is not defined", e.Name)
}

// NotRenderableError reports a reference to a variable whose kind has no
// textual form for the directive.
type NotRenderableError struct {
	Name      string
	Kind      variables.Kind
	Directive string
}

func (e *NotRenderableError) Error() string {
	return fmt.Sprintf("%s variable %q cannot be rendered by %s", e.Kind, e.Name, e.Directive)
}

// CycleError reports a template that references itself, directly or
// through other templates.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "template cycle: " + strings.Join(e.Chain, " -> ")
}

// Compile parses spec ("kind" or "kind:args", surrounding space ignored).
func Compile(spec string) (Generator, error) {
	spec = strings.TrimSpace(spec)
	kind, args, hasArgs := strings.Cut(spec, ":")
	kind = strings.TrimSpace(kind)
	args = strings.TrimSpace(args)

	bad := func(format string, a ...any) error {
		return &CompileError{Spec: spec, Msg: fmt.Sprintf(format, a...)}
	}
	noArgs := func() error {
		if hasArgs {
			return bad("%s takes no parameters", kind)
		}
		return nil
	}

	switch kind {
	case "hex", "bytes", "text":
		if !hasArgs {
			return nil, bad("%s requires a length", kind)
		}
		n, err := parseSize(args)
		if err != nil {
			return nil, bad("%v", err)
		}
		switch kind {
		case "hex":
			return hexGen{n: n}, nil
		case "bytes":
			return bytesGen{n: n}, nil
		default:
			return textGen{n: n}, nil
		}
	case "int":
		if !hasArgs {
			return intGen{min: 0, max: 1<<32 - 1}, nil
		}
		lo, hi, err := parseRange(args)
		if err != nil {
			return nil, bad("%v", err)
		}
		return intGen{min: lo, max: hi}, nil
	case "bool":
		if err := noArgs(); err != nil {
			return nil, err
		}
		return boolGen{}, nil
	case "oneof":
		if !hasArgs || args == "" {
			return nil, bad("oneof requires at least one alternative")
		}
		alts := strings.Split(args, "|")
		for i := range alts {
			alts[i] = strings.TrimSpace(alts[i])
		}
		return oneofGen{alts: alts}, nil
	case "var", "hexof":
		if !hasArgs || args == "" {
			return nil, bad("%s requires a variable name", kind)
		}
		if strings.ContainsAny(args, " \t\r\n") {
			return nil, bad("variable name %q contains whitespace", args)
		}
		return varGen{name: args, bare: kind == "hexof"}, nil
	default:
		return nil, &UnknownGeneratorError{Token: kind}
	}
}

// MustCompile is like Compile but panics on error. It is meant for
// package-level generators built from constant specs.
func MustCompile(spec string) Generator {
	g, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return g
}

// InByteString adapts g for use inside an h'...' literal: variable
// references render their address as bare hex. Other generators are
// returned unchanged.
func InByteString(g Generator) Generator {
	if v, ok := g.(varGen); ok {
		v.inner = true
		return v
	}
	return g
}
