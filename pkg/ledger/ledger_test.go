package ledger

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/observability"
	"github.com/hansl/specification/pkg/protocol"
)

type fixture struct {
	mem    *Memory
	client *Client
	mfx    address.Address
	alice  *identity.Ed25519
	bob    *identity.Ed25519
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server, err := identity.NewEd25519()
	require.NoError(t, err)
	alice, err := identity.NewEd25519()
	require.NoError(t, err)
	bob, err := identity.NewEd25519()
	require.NoError(t, err)

	mfx := SymbolAddress("MFX")
	mem := NewMemory(map[string]address.Address{"MFX": mfx})
	srv := httptest.NewServer(protocol.NewHandler(server, mem.Handle))
	t.Cleanup(srv.Close)

	client := NewClient(protocol.NewHTTPTransport(srv.URL), server.Address()).
		WithClock(func() time.Time { return time.Unix(1700000000, 0) })
	return &fixture{mem: mem, client: client, mfx: mfx, alice: alice, bob: bob}
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	info, err := f.client.Info(context.Background(), identity.Anonymous{})
	require.NoError(t, err)
	require.Equal(t, map[string]address.Address{"MFX": f.mfx}, info.Symbols)
	require.Len(t, info.Hash, 32)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.mem.WithVersion("1.4.2")
	st, err := f.client.Status(context.Background(), identity.Anonymous{})
	require.NoError(t, err)
	require.Equal(t, &Status{Name: "memory-ledger", Version: "1.4.2"}, st)
}

func TestBalanceAndSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.Mint(f.alice.Address(), f.mfx, big.NewInt(100))

	bal, err := f.client.Balance(ctx, f.alice, f.alice.Address(), f.mfx)
	require.NoError(t, err)
	require.Equal(t, int64(100), bal.Int64())

	bal, err = f.client.Balance(ctx, f.bob, f.bob.Address(), f.mfx)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.NoError(t, f.client.Send(ctx, f.alice, f.bob.Address(), big.NewInt(30), f.mfx))

	bal, err = f.client.Balance(ctx, f.alice, f.alice.Address(), f.mfx)
	require.NoError(t, err)
	require.Equal(t, int64(70), bal.Int64())
	bal, err = f.client.Balance(ctx, f.bob, f.bob.Address(), f.mfx)
	require.NoError(t, err)
	require.Equal(t, int64(30), bal.Int64())
}

func TestSend_RemoteErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.Mint(f.alice.Address(), f.mfx, big.NewInt(10))

	cases := []struct {
		name string
		id   identity.Identity
		to   address.Address
		amt  int64
		sym  address.Address
		code int64
	}{
		{"insufficient", f.alice, f.bob.Address(), 11, f.mfx, ErrCodeInsufficientFunds},
		{"zero amount", f.alice, f.bob.Address(), 0, f.mfx, ErrCodeInvalidAmount},
		{"illegal destination", f.alice, address.Illegal(), 1, f.mfx, ErrCodeInvalidAccount},
		{"unknown symbol", f.alice, f.bob.Address(), 1, SymbolAddress("NOPE"), ErrCodeUnknownSymbol},
		{"anonymous", identity.Anonymous{}, f.bob.Address(), 1, f.mfx, ErrCodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.client.Send(ctx, tc.id, tc.to, big.NewInt(tc.amt), tc.sym)
			var remote *protocol.RemoteError
			require.True(t, errors.As(err, &remote), "got %v", err)
			require.Equal(t, tc.code, remote.Code)
		})
	}

	bal, err := f.client.Balance(ctx, f.alice, f.alice.Address(), f.mfx)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())
}

func TestCall_UnknownMethod(t *testing.T) {
	f := newFixture(t)
	resp, err := f.client.Call(context.Background(), f.alice, "ledger.nope", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.ErrCodeUnknownMethod, resp.Error.Code)
	require.Len(t, resp.ID, 16)
	require.Equal(t, f.alice.Address(), resp.To)
}

func TestCall_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	resp, err := f.client.Call(context.Background(), f.alice, MethodSend, []byte{0x05})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.ErrCodeInvalidArguments, resp.Error.Code)
}

func TestCall_Telemetry(t *testing.T) {
	f := newFixture(t)
	spans := tracetest.NewInMemoryExporter()
	cfg := observability.DefaultConfig()
	cfg.Enabled = true
	cfg.Global = false
	cfg.SpanExporter = spans
	cfg.MetricReader = metric.NewManualReader()
	p, err := observability.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	f.client.WithTelemetry(p)
	_, err = f.client.Info(context.Background(), identity.Anonymous{})
	require.NoError(t, err)
	require.NoError(t, p.Flush(context.Background()))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	require.Equal(t, "ledger.call", got[0].Name)
	var method string
	for _, kv := range got[0].Attributes {
		if kv.Key == observability.AttrMethod {
			method = kv.Value.AsString()
		}
	}
	require.Equal(t, MethodInfo, method)
}
