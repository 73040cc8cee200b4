package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hansl/specification/pkg/address"
)

func TestAnonymous(t *testing.T) {
	var id Identity = Anonymous{}
	require.True(t, id.Address().IsAnonymous())
	require.Nil(t, id.PublicKey())

	sig, err := id.Sign([]byte("payload"))
	require.NoError(t, err)
	require.Nil(t, sig)
}

func TestEd25519_SignVerify(t *testing.T) {
	signer, err := NewEd25519()
	require.NoError(t, err)
	require.Equal(t, address.FromPublicKey(signer.PublicKey()), signer.Address())

	sig, err := signer.Sign([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, Verify(signer.PublicKey(), []byte("hello"), sig))
	require.Error(t, Verify(signer.PublicKey(), []byte("tampered"), sig))
}

func TestDerive_Deterministic(t *testing.T) {
	entropy := []byte("0123456789abcdef0123456789abcdef")

	a, err := Derive(entropy, "alice")
	require.NoError(t, err)
	again, err := Derive(entropy, "alice")
	require.NoError(t, err)
	bob, err := Derive(entropy, "bob")
	require.NoError(t, err)

	require.Equal(t, a.Address(), again.Address())
	require.NotEqual(t, a.Address(), bob.Address())

	_, err = Derive(nil, "alice")
	require.Error(t, err)
}

func TestPEM_RoundTrip(t *testing.T) {
	signer, err := NewEd25519()
	require.NoError(t, err)

	data, err := signer.MarshalPEM()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "faucet.pem")
	require.NoError(t, os.WriteFile(path, data, 0600))

	loaded, err := LoadPEM(path)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), loaded.Address())

	_, err = ParsePEM([]byte("not pem"))
	require.ErrorContains(t, err, "no PEM block")
}
