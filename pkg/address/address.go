// Package address defines the fixed-width binary identifier used for
// principals and symbols on the wire.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Size is the encoded width of every Address: one kind byte followed by a
// SHA-224 digest.
const Size = 1 + sha256.Size224

// Tag is the CBOR tag number that marks an Address on the wire.
const Tag = 10000

// Kind is the first byte of an Address.
type Kind byte

const (
	KindAnonymous Kind = 0x00
	KindPublicKey Kind = 0x01
	KindIllegal   Kind = 0x02
)

// Address is a fixed-width identifier. The zero value is the anonymous address.
type Address [Size]byte

// Anonymous returns the address of the unauthenticated principal.
func Anonymous() Address {
	return Address{}
}

// Illegal returns a sentinel address that no server accepts as a destination.
func Illegal() Address {
	var a Address
	a[0] = byte(KindIllegal)
	return a
}

// FromPublicKey derives the address of a public key.
func FromPublicKey(pub []byte) Address {
	var a Address
	a[0] = byte(KindPublicKey)
	sum := sha256.Sum224(pub)
	copy(a[1:], sum[:])
	return a
}

// FromBytes parses a raw address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("address: invalid length %d (want %d)", len(b), Size)
	}
	copy(a[:], b)
	switch Kind(a[0]) {
	case KindAnonymous, KindPublicKey, KindIllegal:
		return a, nil
	default:
		return Address{}, fmt.Errorf("address: unknown kind 0x%02x", a[0])
	}
}

// FromHex parses the hex form produced by Hex.
func FromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// Kind returns the address kind.
func (a Address) Kind() Kind {
	return Kind(a[0])
}

func (a Address) IsAnonymous() bool {
	return a == Address{}
}

func (a Address) IsIllegal() bool {
	return a.Kind() == KindIllegal
}

// Bytes returns a copy of the raw address.
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// Hex returns the lowercase hex encoding of the raw address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) String() string {
	switch a.Kind() {
	case KindAnonymous:
		if a.IsAnonymous() {
			return "anonymous"
		}
	case KindIllegal:
		return "illegal"
	}
	return a.Hex()
}

// MarshalCBOR encodes the address as a tagged byte string.
func (a Address) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: Tag, Content: a[:]})
}

// UnmarshalCBOR accepts a tagged or an untagged byte string.
func (a *Address) UnmarshalCBOR(data []byte) error {
	var raw cbor.RawTag
	if err := cbor.Unmarshal(data, &raw); err == nil {
		if raw.Number != Tag {
			return fmt.Errorf("address: unexpected tag %d", raw.Number)
		}
		data = raw.Content
	}
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	parsed, err := FromBytes(b)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
