package ledger

import (
	"context"
	"crypto/sha256"
	"math/big"
	"sort"
	"sync"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/diag"
	"github.com/hansl/specification/pkg/protocol"
)

// Memory is an in-process ledger. It serves MethodInfo, MethodBalance and
// MethodSend through Handle and is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	version  string
	symbols  map[address.Address]string
	balances map[address.Address]map[address.Address]*big.Int
}

// NewMemory creates a ledger with the given symbols, keyed by local name.
func NewMemory(symbols map[string]address.Address) *Memory {
	m := &Memory{
		version:  "0.0.0",
		symbols:  make(map[address.Address]string, len(symbols)),
		balances: make(map[address.Address]map[address.Address]*big.Int),
	}
	for name, sym := range symbols {
		m.symbols[sym] = name
	}
	return m
}

// WithVersion sets the version reported by MethodStatus.
func (m *Memory) WithVersion(v string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = v
	return m
}

// SymbolAddress derives a stable symbol address from its name.
func SymbolAddress(name string) address.Address {
	return address.FromPublicKey([]byte("symbol:" + name))
}

// Mint credits amount of symbol to account.
func (m *Memory) Mint(account, symbol address.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(account, symbol, amount)
}

func (m *Memory) balance(account, symbol address.Address) *big.Int {
	if b, ok := m.balances[account][symbol]; ok {
		return b
	}
	return new(big.Int)
}

func (m *Memory) credit(account, symbol address.Address, amount *big.Int) {
	acct, ok := m.balances[account]
	if !ok {
		acct = make(map[address.Address]*big.Int)
		m.balances[account] = acct
	}
	acct[symbol] = new(big.Int).Add(m.balance(account, symbol), amount)
}

// Handle implements protocol.HandlerFunc.
func (m *Memory) Handle(_ context.Context, sender address.Address, req *protocol.RequestMessage) *protocol.ResponseMessage {
	switch req.Method {
	case MethodStatus:
		return m.status()
	case MethodInfo:
		return m.info()
	case MethodBalance:
		var args balanceArgs
		if err := decodeArgs(req.Data, &args); err != nil {
			return invalidArguments(err)
		}
		return m.balanceOf(sender, args)
	case MethodSend:
		var args sendArgs
		if err := decodeArgs(req.Data, &args); err != nil {
			return invalidArguments(err)
		}
		return m.send(sender, args)
	default:
		return protocol.Errorf(protocol.ErrCodeUnknownMethod, "unknown method {method}", map[string]string{"method": req.Method})
	}
}

func decodeArgs(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return diag.DecMode().Unmarshal(data, out)
}

func invalidArguments(err error) *protocol.ResponseMessage {
	return protocol.Errorf(protocol.ErrCodeInvalidArguments, "invalid arguments: {error}", map[string]string{"error": err.Error()})
}

func result(v any) *protocol.ResponseMessage {
	b, err := diag.Marshal(v)
	if err != nil {
		return protocol.Errorf(protocol.ErrCodeUnknown, "encode result: {error}", map[string]string{"error": err.Error()})
	}
	return &protocol.ResponseMessage{Data: b}
}

func (m *Memory) status() *protocol.ResponseMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return result(statusReturns{Name: "memory-ledger", Version: m.version})
}

func (m *Memory) info() *protocol.ResponseMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ret := infoReturns{LocalNames: make(map[address.Address]string, len(m.symbols))}
	for sym, name := range m.symbols {
		ret.Symbols = append(ret.Symbols, sym)
		ret.LocalNames[sym] = name
	}
	sort.Slice(ret.Symbols, func(i, j int) bool { return ret.Symbols[i].Hex() < ret.Symbols[j].Hex() })

	h := sha256.New()
	for _, sym := range ret.Symbols {
		h.Write(sym[:])
		h.Write([]byte(ret.LocalNames[sym]))
	}
	ret.Hash = h.Sum(nil)
	return result(ret)
}

func (m *Memory) balanceOf(sender address.Address, args balanceArgs) *protocol.ResponseMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account := sender
	if args.Account != nil {
		account = *args.Account
	}
	if account.IsAnonymous() || account.IsIllegal() {
		return protocol.Errorf(ErrCodeInvalidAccount, "invalid account {account}", map[string]string{"account": account.String()})
	}
	symbols := args.Symbols
	if len(symbols) == 0 {
		for sym := range m.symbols {
			symbols = append(symbols, sym)
		}
	}

	ret := balanceReturns{Balances: make(map[address.Address]*big.Int, len(symbols))}
	for _, sym := range symbols {
		if _, known := m.symbols[sym]; !known {
			return protocol.Errorf(ErrCodeUnknownSymbol, "unknown symbol {symbol}", map[string]string{"symbol": sym.String()})
		}
		if b := m.balance(account, sym); b.Sign() > 0 {
			ret.Balances[sym] = new(big.Int).Set(b)
		}
	}
	return result(ret)
}

func (m *Memory) send(sender address.Address, args sendArgs) *protocol.ResponseMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := sender
	if args.From != nil {
		from = *args.From
	}
	switch {
	case sender.IsAnonymous():
		return protocol.Errorf(ErrCodeUnauthorized, "anonymous senders cannot transfer", nil)
	case from != sender:
		return protocol.Errorf(ErrCodeUnauthorized, "{sender} cannot send on behalf of {from}",
			map[string]string{"sender": sender.String(), "from": from.String()})
	case args.To.IsAnonymous() || args.To.IsIllegal():
		return protocol.Errorf(ErrCodeInvalidAccount, "invalid account {account}", map[string]string{"account": args.To.String()})
	case args.Amount == nil || args.Amount.Sign() <= 0:
		return protocol.Errorf(ErrCodeInvalidAmount, "amount must be positive", nil)
	}
	if _, known := m.symbols[args.Symbol]; !known {
		return protocol.Errorf(ErrCodeUnknownSymbol, "unknown symbol {symbol}", map[string]string{"symbol": args.Symbol.String()})
	}
	have := m.balance(from, args.Symbol)
	if have.Cmp(args.Amount) < 0 {
		return protocol.Errorf(ErrCodeInsufficientFunds, "insufficient funds: have {have}, need {need}",
			map[string]string{"have": have.String(), "need": args.Amount.String()})
	}
	m.credit(from, args.Symbol, new(big.Int).Neg(args.Amount))
	m.credit(args.To, args.Symbol, args.Amount)
	return &protocol.ResponseMessage{}
}
