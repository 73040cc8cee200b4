package diag

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const maxDepth = 256

// SyntaxError reports malformed diagnostic notation.
type SyntaxError struct {
	Offset int
	Line   int
	Col    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("diag: line %d col %d: %s", e.Line, e.Col, e.Msg)
}

// Compile parses diagnostic notation and returns the canonical binary
// encoding of the single data item it describes.
func Compile(text string) ([]byte, error) {
	v, err := Parse(text)
	if err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("diag: encode: %w", err)
	}
	return b, nil
}

// Parse parses diagnostic notation into values the shared encoder accepts:
// uint64, int64, *big.Int, float64, string, []byte, bool, nil, []any,
// map[any]any, cbor.Tag and cbor.RawMessage (undefined and simple values).
// Float map keys are held by bit pattern and encode as the float.
func Parse(text string) (any, error) {
	p := &parser{src: text}
	p.skip()
	if p.eof() {
		return nil, p.errorf("empty input")
	}
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	p.skip()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after data item", p.src[p.pos])
	}
	return v, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *parser) errorf(format string, args ...any) *SyntaxError {
	return p.errorAt(p.pos, format, args...)
}

func (p *parser) errorAt(offset int, format string, args ...any) *SyntaxError {
	line, col := 1, 1
	for i := 0; i < offset && i < len(p.src); i++ {
		if p.src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &SyntaxError{Offset: offset, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// skip consumes whitespace and /comments/.
func (p *parser) skip() {
	for !p.eof() {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case c == '/':
			end := strings.IndexByte(p.src[p.pos+1:], '/')
			if end < 0 {
				return
			}
			p.pos += end + 2
		default:
			return
		}
	}
}

func (p *parser) expect(c byte) error {
	p.skip()
	if p.peek() != c {
		if p.eof() {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.peek())
	}
	p.pos++
	return nil
}

func (p *parser) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, p.errorf("nesting deeper than %d", maxDepth)
	}
	p.skip()
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}

	switch c := p.peek(); {
	case c == '[':
		return p.array(depth)
	case c == '{':
		return p.mapping(depth)
	case c == '"':
		return p.text()
	case c == '\'':
		return p.quotedBytes()
	case c == '/':
		return nil, p.errorf("unterminated comment")
	case p.hasPrefix("h'"):
		return p.hexBytes()
	case p.hasPrefix("b64'"):
		return p.base64Bytes()
	case p.hasPrefix("<<"):
		return p.embedded(depth)
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number(depth)
	case isIdentStart(c):
		return p.keyword(depth)
	default:
		return nil, p.errorf("unexpected character %q", c)
	}
}

func (p *parser) array(depth int) (any, error) {
	p.pos++ // [
	p.skip()
	if p.peek() == '_' {
		return nil, p.errorf("indefinite-length arrays are not supported")
	}
	items := []any{}
	if p.peek() == ']' {
		p.pos++
		return items, nil
	}
	for {
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skip()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return items, nil
		default:
			return nil, p.errorf("expected ',' or ']' in array")
		}
	}
}

func (p *parser) mapping(depth int) (any, error) {
	p.pos++ // {
	p.skip()
	if p.peek() == '_' {
		return nil, p.errorf("indefinite-length maps are not supported")
	}
	m := map[any]any{}
	if p.peek() == '}' {
		p.pos++
		return m, nil
	}
	seen := map[string]struct{}{}
	for {
		p.skip()
		keyAt := p.pos
		k, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		key, err := mapKey(k)
		if err != nil {
			return nil, p.errorAt(keyAt, "%v", err)
		}
		enc, err := encMode.Marshal(key)
		if err != nil {
			return nil, p.errorAt(keyAt, "encode map key: %v", err)
		}
		if _, dup := seen[string(enc)]; dup {
			return nil, p.errorAt(keyAt, "duplicate map key %s", p.src[keyAt:p.pos])
		}
		seen[string(enc)] = struct{}{}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		m[key] = v
		p.skip()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return m, nil
		default:
			return nil, p.errorf("expected ',' or '}' in map")
		}
	}
}

// mapKey converts a parsed value into a comparable Go map key with the same
// encoding.
func mapKey(v any) (any, error) {
	switch k := v.(type) {
	case []byte:
		return cbor.ByteString(k), nil
	case cbor.Tag:
		content, err := mapKey(k.Content)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: k.Number, Content: content}, nil
	case *big.Int:
		return nil, fmt.Errorf("integer key %s out of 64-bit range", k)
	case []any, map[any]any, cbor.RawMessage:
		return nil, fmt.Errorf("unsupported map key type %T", v)
	case float64:
		if math.IsNaN(k) {
			return nil, fmt.Errorf("NaN map key")
		}
		return floatKey(math.Float64bits(k)), nil
	default:
		return v, nil
	}
}

// floatKey is a float map key compared by bit pattern, so 0.0 and -0.0 stay
// distinct keys as their encodings are.
type floatKey uint64

func (k floatKey) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(math.Float64frombits(uint64(k)))
}

func (p *parser) text() (any, error) {
	start := p.pos
	p.pos++ // "
	for !p.eof() {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			p.pos++
			var s string
			if err := json.Unmarshal([]byte(p.src[start:p.pos]), &s); err != nil {
				return nil, p.errorAt(start, "invalid text string: %v", err)
			}
			return s, nil
		default:
			p.pos++
		}
	}
	return nil, p.errorAt(start, "unterminated text string")
}

func (p *parser) quotedBytes() (any, error) {
	start := p.pos
	p.pos++ // '
	var b strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return nil, p.errorAt(start, "unterminated byte string")
			}
			next := p.src[p.pos+1]
			if next != '\'' && next != '\\' {
				return nil, p.errorf("invalid escape \\%c in byte string", next)
			}
			b.WriteByte(next)
			p.pos += 2
		case '\'':
			p.pos++
			return []byte(b.String()), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errorAt(start, "unterminated byte string")
}

// body returns the text between the opening quote at p.pos and the next
// quote, advancing past it.
func (p *parser) body(prefix string) (string, int, error) {
	start := p.pos
	p.pos += len(prefix)
	end := strings.IndexByte(p.src[p.pos:], '\'')
	if end < 0 {
		return "", start, p.errorAt(start, "unterminated %s string", strings.TrimSuffix(prefix, "'"))
	}
	s := p.src[p.pos : p.pos+end]
	p.pos += end + 1
	return strings.Join(strings.Fields(s), ""), start, nil
}

func (p *parser) hexBytes() (any, error) {
	s, start, err := p.body("h'")
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, p.errorAt(start, "invalid hex byte string: %v", err)
	}
	return b, nil
}

func (p *parser) base64Bytes() (any, error) {
	s, start, err := p.body("b64'")
	if err != nil {
		return nil, err
	}
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, p.errorAt(start, "invalid base64 byte string: %v", err)
	}
	return b, nil
}

// embedded parses <<item, item>> into a byte string holding the encoded
// sequence.
func (p *parser) embedded(depth int) (any, error) {
	p.pos += 2 // <<
	var out []byte
	p.skip()
	if p.hasPrefix(">>") {
		p.pos += 2
		return []byte{}, nil
	}
	for {
		v, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		b, err := encMode.Marshal(v)
		if err != nil {
			return nil, p.errorf("encode embedded item: %v", err)
		}
		out = append(out, b...)
		p.skip()
		switch {
		case p.peek() == ',':
			p.pos++
		case p.hasPrefix(">>"):
			p.pos += 2
			return out, nil
		default:
			return nil, p.errorf("expected ',' or '>>' in embedded sequence")
		}
	}
}

func (p *parser) number(depth int) (any, error) {
	start := p.pos
	neg := false
	if p.peek() == '-' {
		neg = true
		p.pos++
		if p.hasPrefix("Infinity") {
			p.pos += len("Infinity")
			return math.Inf(-1), nil
		}
	}

	base := 10
	switch {
	case p.hasPrefix("0x") || p.hasPrefix("0X"):
		base = 16
	case p.hasPrefix("0o"):
		base = 8
	case p.hasPrefix("0b"):
		base = 2
	}
	if base != 10 {
		p.pos += 2
	}

	digitsAt := p.pos
	isFloat := false
scan:
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case isDigit(c, base):
			p.pos++
		case base == 10 && (c == '.' || c == 'e' || c == 'E'):
			isFloat = true
			p.pos++
			if (c == 'e' || c == 'E') && (p.peek() == '+' || p.peek() == '-') {
				p.pos++
			}
		default:
			break scan
		}
	}
	digits := p.src[digitsAt:p.pos]
	if digits == "" {
		return nil, p.errorAt(start, "malformed number")
	}
	if p.peek() == '_' {
		return nil, p.errorf("encoding indicators are not supported")
	}

	if isFloat {
		f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return nil, p.errorAt(start, "malformed float %q", p.src[start:p.pos])
		}
		return f, nil
	}

	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, p.errorAt(start, "malformed integer %q", p.src[start:p.pos])
	}
	if neg {
		n.Neg(n)
	}

	// N(item) is a tag.
	if p.peek() == '(' {
		if neg || !n.IsUint64() {
			return nil, p.errorAt(start, "invalid tag number %s", n)
		}
		p.pos++
		content, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return cbor.Tag{Number: n.Uint64(), Content: content}, nil
	}
	return integer(n), nil
}

// integer picks the narrowest Go type the encoder maps to the same CBOR
// major type.
func integer(n *big.Int) any {
	if n.IsUint64() {
		return n.Uint64()
	}
	if n.IsInt64() {
		return n.Int64()
	}
	return n
}

func (p *parser) keyword(depth int) (any, error) {
	start := p.pos
	for !p.eof() && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	word := p.src[start:p.pos]
	switch word {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	case "undefined":
		return cbor.RawMessage{0xf7}, nil
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "simple":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		p.skip()
		at := p.pos
		v, err := p.number(depth + 1)
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		n, ok := v.(uint64)
		if !ok {
			return nil, p.errorAt(at, "invalid simple value")
		}
		return simpleValue(n, p.errorAt(at, "simple value %d is reserved", n))
	default:
		return nil, p.errorAt(start, "unknown keyword %q", word)
	}
}

func simpleValue(n uint64, reserved error) (any, error) {
	switch {
	case n < 20:
		return cbor.RawMessage{0xe0 | byte(n)}, nil
	case n < 32:
		// 20..23 have keyword spellings; 24..31 are reserved.
		return nil, reserved
	case n <= 255:
		return cbor.RawMessage{0xf8, byte(n)}, nil
	default:
		return nil, reserved
	}
}

func isDigit(c byte, base int) bool {
	switch base {
	case 2:
		return c == '0' || c == '1'
	case 8:
		return c >= '0' && c <= '7'
	case 16:
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	default:
		return c >= '0' && c <= '9'
	}
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
