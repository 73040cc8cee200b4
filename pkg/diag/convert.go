package diag

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
)

type model int

const (
	jsonModel model = iota
	nativeModel
)

// ToJSON maps a decoded CBOR value into the JSON data model: numbers become
// json.Number, byte strings become lowercase hex text, tags are transparent,
// and map keys are rendered as text (integers in decimal, byte strings in
// hex).
func ToJSON(v any) (any, error) {
	return convert(v, jsonModel)
}

// ToNative is like ToJSON but keeps numbers as int64, uint64 or float64 and
// byte strings as []byte, which is what expression engines expect.
func ToNative(v any) (any, error) {
	return convert(v, nativeModel)
}

func convert(v any, m model) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case uint64:
		if m == jsonModel {
			return json.Number(strconv.FormatUint(t, 10)), nil
		}
		if t <= math.MaxInt64 {
			return int64(t), nil
		}
		return t, nil
	case int64:
		if m == jsonModel {
			return json.Number(strconv.FormatInt(t, 10)), nil
		}
		return t, nil
	case big.Int:
		return convertBig(&t, m), nil
	case *big.Int:
		return convertBig(t, m), nil
	case float32:
		return convertFloat(float64(t), m), nil
	case float64:
		return convertFloat(t, m), nil
	case []byte:
		if m == jsonModel {
			return hex.EncodeToString(t), nil
		}
		return t, nil
	case cbor.ByteString:
		return convert([]byte(t), m)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case cbor.SimpleValue:
		return convert(uint64(t), m)
	case cbor.Tag:
		return convert(t.Content, m)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			c, err := convert(item, m)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			key, err := keyText(k)
			if err != nil {
				return nil, err
			}
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("diag: map keys collide as %q", key)
			}
			c, err := convert(item, m)
			if err != nil {
				return nil, err
			}
			out[key] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("diag: unsupported value type %T", v)
	}
}

func convertBig(n *big.Int, m model) any {
	if m == jsonModel {
		return json.Number(n.String())
	}
	switch {
	case n.IsInt64():
		return n.Int64()
	case n.IsUint64():
		return n.Uint64()
	default:
		return n.String()
	}
}

func convertFloat(f float64, m model) any {
	if m == nativeModel {
		return f
	}
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}

func keyText(k any) (string, error) {
	switch t := k.(type) {
	case string:
		return t, nil
	case cbor.ByteString:
		return hex.EncodeToString([]byte(t)), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case nil:
		return "null", nil
	case cbor.Tag:
		return keyText(t.Content)
	default:
		return "", fmt.Errorf("diag: unsupported map key type %T", k)
	}
}
