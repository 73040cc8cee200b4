// Package scenario drives payload scenarios: it owns the per-scenario
// variable environment and random source, renders templates into CBOR
// requests, sends them through a transport and checks the responses.
package scenario

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/ledger"
	"github.com/hansl/specification/pkg/observability"
	"github.com/hansl/specification/pkg/protocol"
	"github.com/hansl/specification/pkg/schema"
	"github.com/hansl/specification/pkg/tape"
	"github.com/hansl/specification/pkg/template"
	"github.com/hansl/specification/pkg/variables"
)

// Well-known variable names bound by Init.
const (
	VarAnonymous = "anonymous"
	VarIllegal   = "illegal"
	VarFaucet    = "faucet"
)

// Config is shared by every World of a run. Transport is required unless
// Replayer is set, in which case responses come from the tape.
type Config struct {
	Transport     protocol.Transport
	Replayer      *tape.Replayer
	Recorder      *tape.Recorder
	Validator     *schema.Validator
	Faucet        identity.Identity
	Server        address.Address
	Seed          uint64
	ServerVersion *semver.Constraints
	Logger        *slog.Logger
	Clock         func() time.Time
	// Telemetry, if set, traces every ledger call.
	Telemetry *observability.Provider
}

// MismatchError reports an observed value that differs from the expected
// one.
type MismatchError struct {
	What string
	Want any
	Got  any
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: want %v, got %v", e.What, e.Want, e.Got)
}

// World is the state of one scenario. It is not safe for concurrent use;
// steps of a scenario run one after another.
type World struct {
	name      string
	env       *variables.Env
	rng       *rand.Rand
	seed      uint64
	replayer  *tape.Replayer
	transport protocol.Transport
	client    *ledger.Client
	validator *schema.Validator
	recorder  *tape.Recorder
	faucet    identity.Identity
	version   *semver.Constraints
	logger    *slog.Logger
}

// NewWorld creates the state for scenario name with an empty environment.
// Call Init before running steps.
func NewWorld(name string, cfg *Config) (*World, error) {
	if cfg == nil {
		return nil, errors.New("scenario: nil config")
	}
	if cfg.Validator == nil {
		return nil, errors.New("scenario: a schema validator is required")
	}

	seed := cfg.Seed
	var transport protocol.Transport
	switch {
	case cfg.Replayer != nil:
		s, err := cfg.Replayer.Seed(name)
		if err != nil {
			return nil, err
		}
		seed = s
		transport = cfg.Replayer.Transport(name)
	case cfg.Transport != nil:
		transport = cfg.Transport
	default:
		return nil, errors.New("scenario: a transport or a replay tape is required")
	}
	if cfg.Recorder != nil {
		transport = tape.NewRecordingTransport(transport, cfg.Recorder, name)
	}

	runID := uuid.NewString()
	if cfg.Recorder != nil {
		runID = cfg.Recorder.RunID()
	}
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}

	client := ledger.NewClient(transport, cfg.Server)
	if cfg.Clock != nil {
		client.WithClock(cfg.Clock)
	}
	if cfg.Telemetry != nil {
		client.WithTelemetry(cfg.Telemetry)
	}

	w := &World{
		name:      name,
		env:       variables.New(),
		transport: transport,
		client:    client,
		validator: cfg.Validator,
		recorder:  cfg.Recorder,
		faucet:    cfg.Faucet,
		version:   cfg.ServerVersion,
		replayer:  cfg.Replayer,
		logger:    base.With("component", "scenario", "scenario", name, "run_id", runID),
	}
	w.Seed(seed)
	return w, nil
}

// Name returns the scenario name the world was created for.
func (w *World) Name() string { return w.name }

// Logger returns the scenario's logger.
func (w *World) Logger() *slog.Logger { return w.logger }

// Init binds the well-known variables and one symbol variable per symbol the
// server reports. If a server version constraint is configured, the server's
// status is checked first.
func (w *World) Init(ctx context.Context) error {
	if err := w.InsertVar(VarAnonymous, variables.IdentityVar{Identity: identity.Anonymous{}}); err != nil {
		return err
	}
	if err := w.InsertVar(VarIllegal, variables.AddressVar{Address: address.Illegal()}); err != nil {
		return err
	}
	caller := identity.Identity(identity.Anonymous{})
	if w.faucet != nil {
		if err := w.InsertVar(VarFaucet, variables.IdentityVar{Identity: w.faucet}); err != nil {
			return err
		}
		caller = w.faucet
	}

	if w.version != nil {
		st, err := w.client.Status(ctx, caller)
		if err != nil {
			return fmt.Errorf("scenario: server status: %w", err)
		}
		v, err := semver.NewVersion(st.Version)
		if err != nil {
			return fmt.Errorf("scenario: server %s reports version %q: %w", st.Name, st.Version, err)
		}
		if !w.version.Check(v) {
			return &MismatchError{What: "server version", Want: w.version.String(), Got: v.String()}
		}
	}

	info, err := w.client.Info(ctx, caller)
	if err != nil {
		return fmt.Errorf("scenario: ledger info: %w", err)
	}
	names := make([]string, 0, len(info.Symbols))
	for name := range info.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.InsertVar(name, variables.SymbolVar{Address: info.Symbols[name]}); err != nil {
			return err
		}
	}
	w.logger.DebugContext(ctx, "scenario initialized", "symbols", len(names))
	return nil
}

// Seed replaces the random source with a PCG stream seeded by seed.
func (w *World) Seed(seed uint64) {
	w.seed = seed
	w.rng = rand.New(rand.NewPCG(seed, 0))
	w.logger.Debug("random source seeded", "seed", seed)
	if w.recorder != nil {
		w.recorder.RecordRNGSeed(w.name, seed)
	}
}

// InsertVar binds name to v. Rebinding a name is an error.
func (w *World) InsertVar(name string, v variables.Var) error {
	if err := w.env.Insert(name, v); err != nil {
		return err
	}
	w.logger.Debug("variable bound", "name", name, "kind", v.Kind())
	return nil
}

// NewIdentity binds name to an Ed25519 identity derived from the current
// seed and the scenario name. It does not draw from the random source, so
// template output does not depend on how many identities were created.
func (w *World) NewIdentity(name string) error {
	entropy := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(w.name)), w.seed)
	id, err := identity.Derive(append(entropy, w.name...), name)
	if err != nil {
		return err
	}
	return w.InsertVar(name, variables.IdentityVar{Identity: id})
}

// RegisterTemplate parses text and binds it to name without rendering it.
func (w *World) RegisterTemplate(name, text string) error {
	t, err := template.Parse(text)
	if err != nil {
		return fmt.Errorf("template %q: %w", name, err)
	}
	return w.InsertVar(name, variables.TemplateVar{Template: t})
}

// Render renders the template bound to name into CBOR.
func (w *World) Render(name string) ([]byte, error) {
	t, err := w.env.Template(name)
	if err != nil {
		return nil, err
	}
	return w.RenderTemplate(name, t)
}

// RenderTemplate renders t against a snapshot of the environment into CBOR.
// The payload is taped under key; during replay it must equal the next
// taped payload of the scenario.
func (w *World) RenderTemplate(key string, t variables.Renderable) ([]byte, error) {
	data, err := t.RenderBytes(w.rng, w.env.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("render %q: %w", key, err)
	}
	if w.recorder != nil {
		w.recorder.RecordRender(w.name, key, data)
	}
	if w.replayer != nil {
		taped, err := w.replayer.NextRender(w.name)
		if err != nil {
			return nil, err
		}
		if taped.Key != key || !bytes.Equal(taped.Value, data) {
			return nil, &MismatchError{
				What: fmt.Sprintf("replayed render of %q", key),
				Want: fmt.Sprintf("%s %x", taped.Key, taped.Value),
				Got:  fmt.Sprintf("%s %x", key, data),
			}
		}
	}
	w.logger.Debug("rendered", "template", key, "size", len(data))
	return data, nil
}

// Send signs data as the identity bound to idName and sends it as method.
// Remote errors are part of the returned response, not of the error.
func (w *World) Send(ctx context.Context, idName, method string, data []byte) (*protocol.ResponseMessage, error) {
	id, err := w.env.Identity(idName)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Call(ctx, id, method, data)
	if err != nil {
		return nil, fmt.Errorf("send %s as %q: %w", method, idName, err)
	}
	return resp, nil
}

// Call renders the template bound to msg, sends it as idName and binds the
// response to into.
func (w *World) Call(ctx context.Context, idName, method, msg, into string) error {
	if v, ok := w.env.Get(into); ok {
		// Fail before anything goes on the wire.
		return &variables.DuplicateError{Name: into, Existing: v.Kind()}
	}
	data, err := w.Render(msg)
	if err != nil {
		return err
	}
	resp, err := w.Send(ctx, idName, method, data)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		w.logger.InfoContext(ctx, "remote error", "method", method, "code", resp.Error.Code, "message", resp.Error.Text())
	}
	return w.InsertVar(into, variables.ResponseVar{Response: resp})
}

// ResponseData returns the payload of the response bound to name. A
// response carrying a remote error has no payload.
func (w *World) ResponseData(name string) ([]byte, error) {
	resp, err := w.env.Response(name)
	if err != nil {
		return nil, err
	}
	data, err := resp.Result()
	if err != nil {
		return nil, fmt.Errorf("response %q: %w", name, err)
	}
	return data, nil
}

// ResponseMatches validates the payload of response name against rule.
func (w *World) ResponseMatches(name, rule string) error {
	data, err := w.ResponseData(name)
	if err != nil {
		return err
	}
	if _, err := w.validator.Matches(rule, data); err != nil {
		return fmt.Errorf("response %q: %w", name, err)
	}
	return nil
}

// ResponseError checks that response name carries a remote error with code.
func (w *World) ResponseError(name string, code int64) error {
	resp, err := w.env.Response(name)
	if err != nil {
		return err
	}
	if resp.Error == nil {
		return &MismatchError{What: fmt.Sprintf("response %q error code", name), Want: code, Got: "success"}
	}
	if resp.Error.Code != code {
		return &MismatchError{What: fmt.Sprintf("response %q error code", name), Want: code, Got: resp.Error.Code}
	}
	return nil
}

// Balance queries the balance of the account behind idName, which may be
// any variable carrying an address.
func (w *World) Balance(ctx context.Context, idName, symbol string) (*big.Int, error) {
	sym, err := w.env.Symbol(symbol)
	if err != nil {
		return nil, err
	}
	account, err := w.env.AddressOf(idName)
	if err != nil {
		return nil, err
	}
	caller, err := w.env.Identity(idName)
	if err != nil {
		caller = identity.Anonymous{}
	}
	return w.client.Balance(ctx, caller, account, sym)
}

// SetBalance moves funds between the faucet and idName until idName holds
// exactly amount of symbol.
func (w *World) SetBalance(ctx context.Context, idName string, amount *big.Int, symbol string) error {
	current, err := w.Balance(ctx, idName, symbol)
	if err != nil {
		return err
	}
	reserve, err := w.Balance(ctx, VarFaucet, symbol)
	if err != nil {
		return err
	}
	if new(big.Int).Add(current, reserve).Cmp(amount) < 0 {
		return fmt.Errorf("scenario: faucet holds %s %s, cannot bring %q from %s to %s", reserve, symbol, idName, current, amount)
	}

	switch diff := new(big.Int).Sub(amount, current); diff.Sign() {
	case 1:
		err = w.Transfer(ctx, VarFaucet, diff, symbol, idName)
	case -1:
		err = w.Transfer(ctx, idName, diff.Neg(diff), symbol, VarFaucet)
	}
	if err != nil {
		return err
	}

	got, err := w.Balance(ctx, idName, symbol)
	if err != nil {
		return err
	}
	if got.Cmp(amount) != 0 {
		return &MismatchError{What: fmt.Sprintf("balance of %q in %s", idName, symbol), Want: amount, Got: got}
	}
	return nil
}

// Transfer sends amount of symbol from the identity bound to from to the
// address behind to.
func (w *World) Transfer(ctx context.Context, from string, amount *big.Int, symbol, to string) error {
	id, err := w.env.Identity(from)
	if err != nil {
		return err
	}
	dest, err := w.env.AddressOf(to)
	if err != nil {
		return err
	}
	sym, err := w.env.Symbol(symbol)
	if err != nil {
		return err
	}
	if err := w.client.Send(ctx, id, dest, amount, sym); err != nil {
		return fmt.Errorf("transfer %s %s from %q to %q: %w", amount, symbol, from, to, err)
	}
	w.logger.DebugContext(ctx, "transfer", "from", from, "to", to, "amount", amount.String(), "symbol", symbol)
	return nil
}
