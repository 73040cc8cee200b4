package fuzz

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/diag"
	"github.com/hansl/specification/pkg/variables"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}

// single is a template made of one directive.
type single struct{ g Generator }

func (s single) RenderText(rng *rand.Rand, env variables.View) (string, error) {
	return s.g.Render(rng, env)
}

func (s single) RenderBytes(rng *rand.Rand, env variables.View) ([]byte, error) {
	text, err := s.RenderText(rng, env)
	if err != nil {
		return nil, err
	}
	return diag.Compile(text)
}

func (s single) Source() string { return "%(" + s.g.String() + ")" }

func TestCompile_Canonical(t *testing.T) {
	cases := map[string]string{
		"hex:4":         "hex:4",
		"  bytes:2  ":   "bytes:2",
		"int":           "int:0..4294967295",
		"int: -5 .. 5":  "int:-5..5",
		"text:3":        "text:3",
		"bool":          "bool",
		"oneof:a| b |c": "oneof:a|b|c",
		"var:alice":     "var:alice",
		"hexof: MFX":    "hexof:MFX",
		"hex:0":         "hex:0",
		"oneof:only":    "oneof:only",
		"int:-1..-1":    "int:-1..-1",
		"int:0..65536":  "int:0..65536",
		"bytes:65536":   "bytes:65536",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			g, err := Compile(in)
			require.NoError(t, err)
			require.Equal(t, want, g.String())
		})
	}
}

func TestCompile_Unknown(t *testing.T) {
	_, err := Compile("nope:4")
	var unknown *UnknownGeneratorError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "nope", unknown.Token)

	_, err = Compile("")
	require.True(t, errors.As(err, &unknown))
}

func TestCompile_BadParameters(t *testing.T) {
	for _, in := range []string{
		"hex", "hex:", "hex:x", "hex:-1", "hex:65537",
		"bytes", "text:1.5",
		"int:5", "int:5..1", "int:a..b", "int:0..99999999999999999999",
		"bool:1", "oneof", "oneof:", "var", "var:", "var:a b", "hexof:",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Compile(in)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
		})
	}
}

func TestRender_Shapes(t *testing.T) {
	env := variables.New()
	rng := newRNG(0)

	out, err := MustCompile("hex:4").Render(rng, env)
	require.NoError(t, err)
	require.Len(t, out, 8)
	require.Equal(t, strings.ToLower(out), out)

	out, err = MustCompile("bytes:3").Render(rng, env)
	require.NoError(t, err)
	require.Regexp(t, `^h'[0-9a-f]{6}'$`, out)

	out, err = MustCompile("hex:0").Render(rng, env)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = MustCompile("text:5").Render(rng, env)
	require.NoError(t, err)
	require.Regexp(t, `^"[A-Za-z0-9]{5}"$`, out)

	out, err = MustCompile("bool").Render(rng, env)
	require.NoError(t, err)
	require.Contains(t, []string{"true", "false"}, out)

	out, err = MustCompile("oneof:1|[]|{}").Render(rng, env)
	require.NoError(t, err)
	require.Contains(t, []string{"1", "[]", "{}"}, out)
}

func TestRender_IntBounds(t *testing.T) {
	rng := newRNG(7)
	env := variables.New()

	g := MustCompile("int:-3..3")
	for range 200 {
		out, err := g.Render(rng, env)
		require.NoError(t, err)
		n, err := strconv.ParseInt(out, 10, 64)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(-3))
		require.LessOrEqual(t, n, int64(3))
	}

	out, err := MustCompile("int:9..9").Render(rng, env)
	require.NoError(t, err)
	require.Equal(t, "9", out)

	full := MustCompile("int:-9223372036854775808..9223372036854775807")
	for range 20 {
		out, err := full.Render(rng, env)
		require.NoError(t, err)
		_, err = strconv.ParseInt(out, 10, 64)
		require.NoError(t, err)
	}
}

func TestRender_Deterministic(t *testing.T) {
	env := variables.New()
	specs := []string{"hex:16", "bytes:8", "int", "text:10", "bool", "oneof:a|b|c|d"}

	render := func() []string {
		rng := newRNG(42)
		var out []string
		for _, s := range specs {
			v, err := MustCompile(s).Render(rng, env)
			require.NoError(t, err)
			out = append(out, v)
		}
		return out
	}
	require.Equal(t, render(), render())
}

func TestRender_Variables(t *testing.T) {
	env := variables.New()
	illegal := address.Illegal()
	require.NoError(t, env.Insert("illegal", variables.AddressVar{Address: illegal}))
	require.NoError(t, env.Insert("MFX", variables.SymbolVar{Address: address.FromPublicKey([]byte("mfx"))}))
	require.NoError(t, env.Insert("payload", variables.TemplateVar{Template: single{MustCompile("var:illegal")}}))
	require.NoError(t, env.Insert("r", variables.ResponseVar{}))

	rng := newRNG(0)

	out, err := MustCompile("var:illegal").Render(rng, env)
	require.NoError(t, err)
	require.Equal(t, "h'"+illegal.Hex()+"'", out)

	out, err = MustCompile("hexof:illegal").Render(rng, env)
	require.NoError(t, err)
	require.Equal(t, illegal.Hex(), out)

	out, err = MustCompile("var:MFX").Render(rng, env)
	require.NoError(t, err)
	require.Equal(t, "h'"+address.FromPublicKey([]byte("mfx")).Hex()+"'", out)

	out, err = MustCompile("var:payload").Render(rng, env)
	require.NoError(t, err)
	require.Equal(t, "h'"+illegal.Hex()+"'", out)

	_, err = MustCompile("var:missing").Render(rng, env)
	var unresolved *UnresolvedError
	require.True(t, errors.As(err, &unresolved))
	require.Equal(t, "missing", unresolved.Name)

	_, err = MustCompile("var:r").Render(rng, env)
	var nr *NotRenderableError
	require.True(t, errors.As(err, &nr))
	require.Equal(t, variables.KindResponse, nr.Kind)

	_, err = MustCompile("hexof:payload").Render(rng, env)
	require.True(t, errors.As(err, &nr))
	require.Equal(t, "hexof", nr.Directive)
}

func TestRender_Cycle(t *testing.T) {
	env := variables.New()
	require.NoError(t, env.Insert("a", variables.TemplateVar{Template: single{MustCompile("var:b")}}))
	require.NoError(t, env.Insert("b", variables.TemplateVar{Template: single{MustCompile("var:a")}}))
	require.NoError(t, env.Insert("self", variables.TemplateVar{Template: single{MustCompile("var:self")}}))

	_, err := MustCompile("var:a").Render(newRNG(0), env)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	require.Equal(t, []string{"a", "b", "a"}, cycle.Chain)
	require.Equal(t, "template cycle: a -> b -> a", err.Error())

	_, err = MustCompile("var:self").Render(newRNG(0), env)
	require.True(t, errors.As(err, &cycle))
	require.Equal(t, []string{"self", "self"}, cycle.Chain)
}

func TestRender_SameTemplateTwiceIsNotACycle(t *testing.T) {
	env := variables.New()
	require.NoError(t, env.Insert("leaf", variables.TemplateVar{Template: single{MustCompile("int:1..1")}}))
	require.NoError(t, env.Insert("pair", variables.TemplateVar{Template: pair{MustCompile("var:leaf"), MustCompile("var:leaf")}}))

	out, err := MustCompile("var:pair").Render(newRNG(0), env)
	require.NoError(t, err)
	require.Equal(t, "[1, 1]", out)
}

type pair struct{ a, b Generator }

func (p pair) RenderText(rng *rand.Rand, env variables.View) (string, error) {
	a, err := p.a.Render(rng, env)
	if err != nil {
		return "", err
	}
	b, err := p.b.Render(rng, env)
	if err != nil {
		return "", err
	}
	return "[" + a + ", " + b + "]", nil
}

func (p pair) RenderBytes(rng *rand.Rand, env variables.View) ([]byte, error) {
	text, err := p.RenderText(rng, env)
	if err != nil {
		return nil, err
	}
	return diag.Compile(text)
}

func (p pair) Source() string { return "[%(" + p.a.String() + "), %(" + p.b.String() + ")]" }

func TestInByteString(t *testing.T) {
	env := variables.New()
	require.NoError(t, env.Insert("x", variables.AddressVar{Address: address.Illegal()}))

	g := InByteString(MustCompile("var:x"))
	require.Equal(t, "var:x", g.String())
	out, err := g.Render(newRNG(0), env)
	require.NoError(t, err)
	require.Equal(t, address.Illegal().Hex(), out)

	h := MustCompile("hex:2")
	require.Equal(t, h, InByteString(h))
}
