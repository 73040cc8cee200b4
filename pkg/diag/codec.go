// Package diag compiles CBOR diagnostic notation into its binary encoding and
// maps decoded CBOR values into the data models used by the schema and
// expression layers.
package diag

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode  = mustEncMode()
	decMode  = mustDecMode()
	diagMode = mustDiagMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("diag: invalid encode options: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		DefaultMapType: reflect.TypeOf(map[any]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("diag: invalid decode options: %v", err))
	}
	return dm
}

func mustDiagMode() cbor.DiagMode {
	dm, err := cbor.DiagOptions{
		ByteStringEncoding: cbor.ByteStringBase16Encoding,
	}.DiagMode()
	if err != nil {
		panic(fmt.Sprintf("diag: invalid diagnostic options: %v", err))
	}
	return dm
}

// EncMode is the deterministic (RFC 8949 core) encoder shared by every
// package that puts bytes on the wire.
func EncMode() cbor.EncMode {
	return encMode
}

// DecMode rejects duplicate map keys and decodes maps as map[any]any.
func DecMode() cbor.DecMode {
	return decMode
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode decodes exactly one CBOR data item into a generic value.
func Decode(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("diag: decode: %w", err)
	}
	return v, nil
}

// Diagnose renders binary CBOR back into diagnostic notation, with byte
// strings in h'' form.
func Diagnose(data []byte) (string, error) {
	s, err := diagMode.Diagnose(data)
	if err != nil {
		return "", fmt.Errorf("diag: diagnose: %w", err)
	}
	return s, nil
}
