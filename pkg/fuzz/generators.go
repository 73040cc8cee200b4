package fuzz

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/hansl/specification/pkg/variables"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func parseSize(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("length %q is not an integer", s)
	}
	if n < 0 || n > MaxSize {
		return 0, fmt.Errorf("length %d out of range [0, %d]", n, MaxSize)
	}
	return n, nil
}

func parseRange(s string) (int64, int64, error) {
	a, b, ok := strings.Cut(s, "..")
	if !ok {
		return 0, 0, fmt.Errorf("range %q is not of the form A..B", s)
	}
	lo, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("range start %q: %w", a, err)
	}
	hi, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("range end %q: %w", b, err)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("empty range %d..%d", lo, hi)
	}
	return lo, hi, nil
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

type hexGen struct{ n int }

func (g hexGen) Render(rng *rand.Rand, _ variables.View) (string, error) {
	return hex.EncodeToString(randomBytes(rng, g.n)), nil
}

func (g hexGen) String() string { return "hex:" + strconv.Itoa(g.n) }

type bytesGen struct{ n int }

func (g bytesGen) Render(rng *rand.Rand, _ variables.View) (string, error) {
	return "h'" + hex.EncodeToString(randomBytes(rng, g.n)) + "'", nil
}

func (g bytesGen) String() string { return "bytes:" + strconv.Itoa(g.n) }

type textGen struct{ n int }

func (g textGen) Render(rng *rand.Rand, _ variables.View) (string, error) {
	var b strings.Builder
	b.Grow(g.n + 2)
	b.WriteByte('"')
	for range g.n {
		b.WriteByte(alphanumeric[rng.IntN(len(alphanumeric))])
	}
	b.WriteByte('"')
	return b.String(), nil
}

func (g textGen) String() string { return "text:" + strconv.Itoa(g.n) }

// intGen draws uniformly from [min, max].
type intGen struct{ min, max int64 }

func (g intGen) Render(rng *rand.Rand, _ variables.View) (string, error) {
	span := uint64(g.max) - uint64(g.min)
	var off uint64
	if span == math.MaxUint64 {
		off = rng.Uint64()
	} else {
		off = rng.Uint64N(span + 1)
	}
	return strconv.FormatInt(int64(uint64(g.min)+off), 10), nil
}

func (g intGen) String() string {
	return fmt.Sprintf("int:%d..%d", g.min, g.max)
}

type boolGen struct{}

func (boolGen) Render(rng *rand.Rand, _ variables.View) (string, error) {
	if rng.IntN(2) == 1 {
		return "true", nil
	}
	return "false", nil
}

func (boolGen) String() string { return "bool" }

type oneofGen struct{ alts []string }

func (g oneofGen) Render(rng *rand.Rand, _ variables.View) (string, error) {
	return g.alts[rng.IntN(len(g.alts))], nil
}

func (g oneofGen) String() string { return "oneof:" + strings.Join(g.alts, "|") }

// varGen renders a variable. Address-like variables render as h'<hex>', or
// as bare hex when bare (hexof) or inner (already inside h'...') is set;
// template variables expand recursively.
type varGen struct {
	name  string
	bare  bool
	inner bool
}

func (g varGen) String() string {
	if g.bare {
		return "hexof:" + g.name
	}
	return "var:" + g.name
}

func (g varGen) directive() string {
	if g.bare {
		return "hexof"
	}
	return "var"
}

func (g varGen) Render(rng *rand.Rand, env variables.View) (string, error) {
	v, ok := env.Get(g.name)
	if !ok {
		return "", &UnresolvedError{Name: g.name}
	}
	switch t := v.(type) {
	case variables.IdentityVar, variables.AddressVar, variables.SymbolVar:
		a, err := variables.AddressOf(t)
		if err != nil {
			return "", err
		}
		if g.bare || g.inner {
			return a.Hex(), nil
		}
		return "h'" + a.Hex() + "'", nil
	case variables.TemplateVar:
		if g.bare {
			return "", &NotRenderableError{Name: g.name, Kind: t.Kind(), Directive: g.directive()}
		}
		return expand(rng, env, g.name, t.Template)
	case variables.ResponseVar:
		return "", &NotRenderableError{Name: g.name, Kind: t.Kind(), Directive: g.directive()}
	default:
		return "", fmt.Errorf("variable %q has unsupported type %T", g.name, v)
	}
}

// expansion is the view handed to a nested template. It remembers which
// template names are being expanded so a self reference fails instead of
// recursing forever.
type expansion struct {
	variables.View
	chain []string
}

func expand(rng *rand.Rand, env variables.View, name string, tmpl variables.Renderable) (string, error) {
	var chain []string
	base := env
	if x, ok := env.(*expansion); ok {
		chain = x.chain
		base = x.View
	}
	if slices.Contains(chain, name) {
		cycle := append(slices.Clone(chain), name)
		return "", &CycleError{Chain: cycle}
	}
	next := &expansion{View: base, chain: append(slices.Clone(chain), name)}
	return tmpl.RenderText(rng, next)
}
