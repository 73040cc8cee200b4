package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/identity"
)

func newIdentity(t *testing.T) *identity.Ed25519 {
	t.Helper()
	id, err := identity.NewEd25519()
	require.NoError(t, err)
	return id
}

func TestRequest_RoundTrip(t *testing.T) {
	alice := newIdentity(t)
	req := &RequestMessage{
		Version:   Version,
		From:      alice.Address(),
		To:        address.Anonymous(),
		Method:    "ledger.info",
		Data:      []byte{0xa0},
		Timestamp: 1700000000,
		ID:        []byte{1, 2, 3},
	}

	b, err := EncodeRequest(req)
	require.NoError(t, err)
	got, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestResponse_DataAndError(t *testing.T) {
	ok := &ResponseMessage{Version: Version, Data: []byte{0x05}}
	b, err := EncodeResponse(ok)
	require.NoError(t, err)
	got, err := DecodeResponse(b)
	require.NoError(t, err)
	data, err := got.Result()
	require.NoError(t, err)
	require.Equal(t, []byte{0x05}, data)

	failed := Errorf(7, "no {thing}", map[string]string{"thing": "coffee"})
	b, err = EncodeResponse(failed)
	require.NoError(t, err)
	got, err = DecodeResponse(b)
	require.NoError(t, err)
	_, err = got.Result()
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, int64(7), remote.Code)
	require.Equal(t, "no coffee", remote.Text())
}

func TestResponse_RejectsOtherBodyTypes(t *testing.T) {
	// {4: "text"}
	_, err := DecodeResponse([]byte{0xa1, 0x04, 0x64, 't', 'e', 'x', 't'})
	require.ErrorContains(t, err, "major type 3")
}

func TestEnvelope_SealVerify(t *testing.T) {
	alice := newIdentity(t)

	env, err := Seal(alice, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, env.Verify())
	require.Equal(t, alice.Address(), env.Sender())

	b, err := env.Encode()
	require.NoError(t, err)
	opened, err := OpenEnvelope(b)
	require.NoError(t, err)
	require.Equal(t, env, opened)

	env.Payload = []byte("tampered")
	require.ErrorIs(t, env.Verify(), ErrSignature)
}

func TestEnvelope_Anonymous(t *testing.T) {
	env, err := Seal(identity.Anonymous{}, []byte("payload"))
	require.NoError(t, err)
	require.Empty(t, env.PublicKey)
	require.Empty(t, env.Signature)
	require.NoError(t, env.Verify())
	require.True(t, env.Sender().IsAnonymous())

	env.PublicKey = newIdentity(t).PublicKey()
	require.ErrorIs(t, env.Verify(), ErrSignature)
}

func echoServer(t *testing.T, server identity.Identity) *httptest.Server {
	t.Helper()
	h := NewHandler(server, func(_ context.Context, sender address.Address, req *RequestMessage) *ResponseMessage {
		if req.Method != "echo" {
			return Errorf(ErrCodeUnknownMethod, "unknown method {method}", map[string]string{"method": req.Method})
		}
		return &ResponseMessage{Data: req.Data}
	}).WithClock(func() time.Time { return time.Unix(42, 0) })
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransport_Send(t *testing.T) {
	server := newIdentity(t)
	alice := newIdentity(t)
	srv := echoServer(t, server)
	tr := NewHTTPTransport(srv.URL, WithTimeout(5*time.Second), WithRateLimit(100, 1))

	resp, err := tr.Send(context.Background(), alice, &RequestMessage{
		Version: Version,
		From:    alice.Address(),
		Method:  "echo",
		Data:    []byte{0x82, 0x01, 0x02},
		ID:      []byte{9},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Equal(t, []byte{0x82, 0x01, 0x02}, resp.Data)
	require.Equal(t, server.Address(), resp.From)
	require.Equal(t, alice.Address(), resp.To)
	require.Equal(t, []byte{9}, resp.ID)
	require.Equal(t, int64(42), resp.Timestamp)
}

func TestHTTPTransport_RemoteErrors(t *testing.T) {
	alice := newIdentity(t)
	srv := echoServer(t, newIdentity(t))
	tr := NewHTTPTransport(srv.URL)

	resp, err := tr.Send(context.Background(), alice, &RequestMessage{From: alice.Address(), Method: "nope"})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeUnknownMethod, resp.Error.Code)
	require.Equal(t, "unknown method nope", resp.Error.Text())

	// Sealed by alice but claiming to be anonymous.
	resp, err = tr.Send(context.Background(), alice, &RequestMessage{From: address.Anonymous(), Method: "echo"})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeSenderMismatch, resp.Error.Code)
}

func TestHTTPTransport_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(srv.URL).Send(context.Background(), identity.Anonymous{}, &RequestMessage{Method: "echo"})
	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, http.StatusInternalServerError, status.Status)
	require.Equal(t, "boom", status.Body)
}

func TestHTTPTransport_RejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff})
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(srv.URL).Send(context.Background(), identity.Anonymous{}, &RequestMessage{Method: "echo"})
	require.ErrorContains(t, err, "decode envelope")
}

func TestHTTPTransport_CanceledContext(t *testing.T) {
	srv := echoServer(t, newIdentity(t))
	tr := NewHTTPTransport(srv.URL, WithRateLimit(1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Send(ctx, identity.Anonymous{}, &RequestMessage{Method: "echo"})
	require.Error(t, err)
}

func TestHandler_RejectsGet(t *testing.T) {
	srv := echoServer(t, newIdentity(t))
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
