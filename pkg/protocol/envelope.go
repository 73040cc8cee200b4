package protocol

import (
	"errors"
	"fmt"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/diag"
	"github.com/hansl/specification/pkg/identity"
)

// ErrSignature is returned when an envelope fails verification.
var ErrSignature = errors.New("protocol: envelope signature invalid")

// Envelope wraps an encoded message with the signer's public key and a
// signature over the payload. Anonymous envelopes carry neither.
type Envelope struct {
	Payload   []byte `cbor:"0,keyasint"`
	PublicKey []byte `cbor:"1,keyasint,omitempty"`
	Signature []byte `cbor:"2,keyasint,omitempty"`
}

// Seal signs payload as id.
func Seal(id identity.Identity, payload []byte) (*Envelope, error) {
	env := &Envelope{Payload: payload}
	if id.Address().IsAnonymous() {
		return env, nil
	}
	sig, err := id.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: sign envelope: %w", err)
	}
	env.PublicKey = id.PublicKey()
	env.Signature = sig
	return env, nil
}

// Verify checks the signature, if any. An envelope with a key but no
// signature, or the reverse, is rejected.
func (e *Envelope) Verify() error {
	switch {
	case len(e.PublicKey) == 0 && len(e.Signature) == 0:
		return nil
	case len(e.PublicKey) == 0 || len(e.Signature) == 0:
		return fmt.Errorf("%w: key and signature must be present together", ErrSignature)
	}
	if err := identity.Verify(e.PublicKey, e.Payload, e.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// Sender returns the address that sealed the envelope.
func (e *Envelope) Sender() address.Address {
	if len(e.PublicKey) == 0 {
		return address.Anonymous()
	}
	return address.FromPublicKey(e.PublicKey)
}

func (e *Envelope) Encode() ([]byte, error) {
	b, err := diag.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	return b, nil
}

// OpenEnvelope decodes and verifies an envelope.
func OpenEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := diag.DecMode().Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if err := env.Verify(); err != nil {
		return nil, err
	}
	return &env, nil
}
