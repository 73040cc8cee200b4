// Package ledger is a client for the ledger methods of a server: symbol
// discovery, balance queries and transfers. It also provides Memory, an
// in-process ledger that serves the same methods.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/diag"
	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/observability"
	"github.com/hansl/specification/pkg/protocol"
)

// Method names.
const (
	MethodStatus  = "status"
	MethodInfo    = "ledger.info"
	MethodBalance = "ledger.balance"
	MethodSend    = "ledger.send"
)

// Remote error codes returned by ledger methods.
const (
	ErrCodeUnknownSymbol     int64 = 1001
	ErrCodeInsufficientFunds int64 = 1002
	ErrCodeInvalidAmount     int64 = 1003
	ErrCodeInvalidAccount    int64 = 1004
	ErrCodeUnauthorized      int64 = 1005
)

type statusReturns struct {
	Name    string `cbor:"0,keyasint"`
	Version string `cbor:"1,keyasint"`
}

type infoReturns struct {
	Symbols    []address.Address          `cbor:"0,keyasint"`
	Hash       []byte                     `cbor:"1,keyasint,omitempty"`
	LocalNames map[address.Address]string `cbor:"2,keyasint,omitempty"`
}

type balanceArgs struct {
	Account *address.Address  `cbor:"0,keyasint,omitempty"`
	Symbols []address.Address `cbor:"1,keyasint,omitempty"`
}

type balanceReturns struct {
	Balances map[address.Address]*big.Int `cbor:"0,keyasint"`
}

type sendArgs struct {
	From   *address.Address `cbor:"0,keyasint,omitempty"`
	To     address.Address  `cbor:"1,keyasint"`
	Amount *big.Int         `cbor:"2,keyasint"`
	Symbol address.Address  `cbor:"3,keyasint"`
}

// Status identifies the server software.
type Status struct {
	Name    string
	Version string
}

// Info describes the ledger's symbols.
type Info struct {
	// Symbols maps each symbol's local name to its address.
	Symbols map[string]address.Address
	Hash    []byte
}

// Client calls ledger methods through a Transport.
type Client struct {
	transport protocol.Transport
	server    address.Address
	clock     func() time.Time
	telemetry *observability.Provider
}

// NewClient returns a client that addresses requests to server.
func NewClient(t protocol.Transport, server address.Address) *Client {
	return &Client{transport: t, server: server, clock: time.Now}
}

// WithClock overrides clock for testing.
func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

// WithTelemetry traces every call as a "ledger.call" operation.
func (c *Client) WithTelemetry(p *observability.Provider) *Client {
	c.telemetry = p
	return c
}

// Call sends method with raw CBOR data as id and returns the response as
// received, remote errors included.
func (c *Client) Call(ctx context.Context, id identity.Identity, method string, data []byte) (resp *protocol.ResponseMessage, err error) {
	if c.telemetry != nil {
		var finish func(error)
		ctx, finish = c.telemetry.TrackOperation(ctx, "ledger.call", observability.AttrMethod.String(method))
		defer func() { finish(err) }()
	}
	reqID := uuid.New()
	req := &protocol.RequestMessage{
		Version:   protocol.Version,
		From:      id.Address(),
		To:        c.server,
		Method:    method,
		Data:      data,
		Timestamp: c.clock().Unix(),
		ID:        reqID[:],
	}
	return c.transport.Send(ctx, id, req)
}

func (c *Client) call(ctx context.Context, id identity.Identity, method string, args, out any) error {
	var data []byte
	if args != nil {
		b, err := diag.Marshal(args)
		if err != nil {
			return fmt.Errorf("ledger: encode %s arguments: %w", method, err)
		}
		data = b
	}
	resp, err := c.Call(ctx, id, method, data)
	if err != nil {
		return err
	}
	body, err := resp.Result()
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := diag.DecMode().Unmarshal(body, out); err != nil {
		return fmt.Errorf("ledger: decode %s result: %w", method, err)
	}
	return nil
}

// Status asks the server for its name and version.
func (c *Client) Status(ctx context.Context, id identity.Identity) (*Status, error) {
	var ret statusReturns
	if err := c.call(ctx, id, MethodStatus, nil, &ret); err != nil {
		return nil, err
	}
	return &Status{Name: ret.Name, Version: ret.Version}, nil
}

// Info fetches the symbol table.
func (c *Client) Info(ctx context.Context, id identity.Identity) (*Info, error) {
	var ret infoReturns
	if err := c.call(ctx, id, MethodInfo, nil, &ret); err != nil {
		return nil, err
	}
	info := &Info{Symbols: make(map[string]address.Address, len(ret.Symbols)), Hash: ret.Hash}
	for _, sym := range ret.Symbols {
		name, ok := ret.LocalNames[sym]
		if !ok {
			name = sym.String()
		}
		info.Symbols[name] = sym
	}
	return info, nil
}

// Balance returns the balance of account for symbol. A missing entry is a
// zero balance.
func (c *Client) Balance(ctx context.Context, id identity.Identity, account, symbol address.Address) (*big.Int, error) {
	var ret balanceReturns
	args := balanceArgs{Account: &account, Symbols: []address.Address{symbol}}
	if err := c.call(ctx, id, MethodBalance, args, &ret); err != nil {
		return nil, err
	}
	if amount, ok := ret.Balances[symbol]; ok && amount != nil {
		return amount, nil
	}
	return new(big.Int), nil
}

// Send transfers amount of symbol from id to to.
func (c *Client) Send(ctx context.Context, id identity.Identity, to address.Address, amount *big.Int, symbol address.Address) error {
	args := sendArgs{To: to, Amount: amount, Symbol: symbol}
	return c.call(ctx, id, MethodSend, args, nil)
}
