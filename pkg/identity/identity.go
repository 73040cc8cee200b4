// Package identity provides the signing principals scenarios send requests as.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/hansl/specification/pkg/address"
)

// Identity is a principal that can sign requests. Beyond its address it is
// opaque to the rest of the module.
type Identity interface {
	Address() address.Address
	// PublicKey returns nil for principals that do not sign.
	PublicKey() []byte
	// Sign returns nil, nil for principals that do not sign.
	Sign(data []byte) ([]byte, error)
}

// Anonymous is the unauthenticated principal.
type Anonymous struct{}

func (Anonymous) Address() address.Address { return address.Anonymous() }

func (Anonymous) PublicKey() []byte { return nil }

func (Anonymous) Sign([]byte) ([]byte, error) { return nil, nil }

// Ed25519 is a key-backed principal.
type Ed25519 struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	addr    address.Address
}

// NewEd25519 generates a fresh key from the system random source.
func NewEd25519() (*Ed25519, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519FromKey(priv), nil
}

func NewEd25519FromKey(priv ed25519.PrivateKey) *Ed25519 {
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519{
		privKey: priv,
		pubKey:  pub,
		addr:    address.FromPublicKey(pub),
	}
}

// Derive expands entropy into a key bound to name with HKDF-SHA256, so the
// same entropy and name always yield the same principal.
func Derive(entropy []byte, name string) (*Ed25519, error) {
	if len(entropy) == 0 {
		return nil, errors.New("identity: empty entropy")
	}
	r := hkdf.New(sha256.New, entropy, []byte("specification-identity"), []byte(name))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519FromKey(ed25519.NewKeyFromSeed(seed)), nil
}

// LoadPEM reads a PKCS#8 PEM encoded Ed25519 private key.
func LoadPEM(path string) (*Ed25519, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return ParsePEM(data)
}

func ParsePEM(data []byte) (*Ed25519, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("identity: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse PKCS#8 key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: unsupported key type %T", key)
	}
	return NewEd25519FromKey(priv), nil
}

// MarshalPEM encodes the private key as PKCS#8 PEM.
func (s *Ed25519) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(s.privKey)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func (s *Ed25519) Address() address.Address {
	return s.addr
}

func (s *Ed25519) PublicKey() []byte {
	return s.pubKey
}

func (s *Ed25519) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privKey, data), nil
}

// Verify checks a signature made by the holder of pub.
func Verify(pub, message, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, signature) {
		return errors.New("signature verification failed")
	}
	return nil
}
