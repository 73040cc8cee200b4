package diag

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompile_KnownEncodings(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []byte
	}{
		{"uint", "5", []byte{0x05}},
		{"negative", "-1", []byte{0x20}},
		{"hex int", "0x18", []byte{0x18, 0x18}},
		{"binary int", "0b101", []byte{0x05}},
		{"text", `"a"`, []byte{0x61, 0x61}},
		{"escaped text", `"\u0041"`, []byte{0x61, 0x41}},
		{"hex bytes", "h'0102'", []byte{0x42, 0x01, 0x02}},
		{"hex bytes with spaces", "h'01 02'", []byte{0x42, 0x01, 0x02}},
		{"quoted bytes", "'ab'", []byte{0x42, 0x61, 0x62}},
		{"base64 bytes", "b64'AQI='", []byte{0x42, 0x01, 0x02}},
		{"embedded", "<<1, 2>>", []byte{0x42, 0x01, 0x02}},
		{"array", "[1, 2]", []byte{0x82, 0x01, 0x02}},
		{"empty array", "[]", []byte{0x80}},
		{"map sorted", `{1: 2, 0: "x"}`, []byte{0xa2, 0x00, 0x61, 0x78, 0x01, 0x02}},
		{"bytes key", "{h'01': 1}", []byte{0xa1, 0x41, 0x01, 0x01}},
		{"signed zero keys", "{-0.0: 2, 0.0: 1}", []byte{0xa2, 0xf9, 0x00, 0x00, 0x01, 0xf9, 0x80, 0x00, 0x02}},
		{"int and float keys", "{1: 1, 1.0: 2}", []byte{0xa2, 0x01, 0x01, 0xf9, 0x3c, 0x00, 0x02}},
		{"tag", "1(0)", []byte{0xc1, 0x00}},
		{"bools", "[true, false]", []byte{0x82, 0xf5, 0xf4}},
		{"null", "null", []byte{0xf6}},
		{"undefined", "undefined", []byte{0xf7}},
		{"simple", "simple(16)", []byte{0xf0}},
		{"simple two byte", "simple(32)", []byte{0xf8, 0x20}},
		{"comment", "/ five / 5", []byte{0x05}},
		{"nested", `{"a": [1, {"b": h''}]}`, []byte{0xa1, 0x61, 0x61, 0x82, 0x01, 0xa1, 0x61, 0x62, 0x40}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compile(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompile_Floats(t *testing.T) {
	b, err := Compile("1.5")
	require.NoError(t, err)
	v, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, 1.5, v)

	b, err = Compile("-Infinity")
	require.NoError(t, err)
	v, err = Decode(b)
	require.NoError(t, err)
	require.Less(t, v.(float64), 0.0)
}

func TestCompile_BigIntegers(t *testing.T) {
	b, err := Compile("18446744073709551616")
	require.NoError(t, err)
	v, err := Decode(b)
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("18446744073709551616", 10)
	switch n := v.(type) {
	case big.Int:
		require.Zero(t, want.Cmp(&n))
	case *big.Int:
		require.Zero(t, want.Cmp(n))
	default:
		t.Fatalf("unexpected type %T", v)
	}
}

func TestCompile_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"unclosed array":  "[1,",
		"duplicate key":   "{1: 2, 1: 3}",
		"duplicate float": "{1.5: 2, 1.50: 3}",
		"odd hex":         "h'0'",
		"stray percent":   "%",
		"trailing item":   "1 2",
		"indefinite":      "[_ 1]",
		"unknown keyword": "nope",
		"bad escape":      `'\q'`,
		"array key":       "{[1]: 2}",
		"unclosed text":   `"abc`,
		"unclosed tag":    "1(2",
		"reserved simple": "simple(24)",
		"open comment":    "/ never closed",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(in)
			require.Error(t, err)
			var syn *SyntaxError
			require.True(t, errors.As(err, &syn), "want *SyntaxError, got %T", err)
		})
	}
}

func TestSyntaxError_Position(t *testing.T) {
	_, err := Compile("[1,\n  ?]")
	var syn *SyntaxError
	require.True(t, errors.As(err, &syn))
	require.Equal(t, 2, syn.Line)
	require.Equal(t, 3, syn.Col)
}

func TestDiagnose_RoundTrip(t *testing.T) {
	b, err := Compile(`{0: h'0102', 1: [1, -2, "x"]}`)
	require.NoError(t, err)

	text, err := Diagnose(b)
	require.NoError(t, err)

	again, err := Compile(text)
	require.NoError(t, err)
	require.Equal(t, b, again)
}

func FuzzCompile(f *testing.F) {
	f.Add("5")
	f.Add(`{0: h'01', "a": [1, 2.5, true, null]}`)
	f.Add("<<1, [2]>>")
	f.Add("1(h'00')")
	f.Add("[[[[[[")
	f.Add("'\\'")

	f.Fuzz(func(t *testing.T, in string) {
		b, err := Compile(in)
		if err != nil {
			return
		}
		if err := DecMode().Wellformed(b); err != nil {
			t.Fatalf("compiled %q to malformed bytes %x: %v", in, b, err)
		}
		again, err := Compile(in)
		if err != nil || !bytes.Equal(b, again) {
			t.Fatalf("compile of %q is not deterministic", in)
		}
	})
}
