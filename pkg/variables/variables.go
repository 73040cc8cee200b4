// Package variables holds the single-assignment, typed variable environment
// that scenarios bind names into and templates read from.
package variables

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/protocol"
)

// Kind names the variant of a Var.
type Kind string

const (
	KindIdentity Kind = "identity"
	KindAddress  Kind = "address"
	KindSymbol   Kind = "symbol"
	KindTemplate Kind = "template"
	KindResponse Kind = "response"
)

// Var is one of IdentityVar, AddressVar, SymbolVar, TemplateVar or
// ResponseVar.
type Var interface {
	Kind() Kind
	isVar()
}

// Renderable is a parsed template that can be expanded against a View.
type Renderable interface {
	RenderText(rng *rand.Rand, env View) (string, error)
	// RenderBytes renders and compiles the text to CBOR.
	RenderBytes(rng *rand.Rand, env View) ([]byte, error)
	Source() string
}

type IdentityVar struct {
	Identity identity.Identity
}

type AddressVar struct {
	Address address.Address
}

// SymbolVar is a ledger symbol, identified by its address.
type SymbolVar struct {
	Address address.Address
}

type TemplateVar struct {
	Template Renderable
}

type ResponseVar struct {
	Response *protocol.ResponseMessage
}

func (IdentityVar) Kind() Kind { return KindIdentity }
func (AddressVar) Kind() Kind  { return KindAddress }
func (SymbolVar) Kind() Kind   { return KindSymbol }
func (TemplateVar) Kind() Kind { return KindTemplate }
func (ResponseVar) Kind() Kind { return KindResponse }

func (IdentityVar) isVar() {}
func (AddressVar) isVar()  {}
func (SymbolVar) isVar()   {}
func (TemplateVar) isVar() {}
func (ResponseVar) isVar() {}

// AddressOf returns the address carried by an identity, address or symbol
// variable.
func AddressOf(v Var) (address.Address, error) {
	switch t := v.(type) {
	case IdentityVar:
		return t.Identity.Address(), nil
	case AddressVar:
		return t.Address, nil
	case SymbolVar:
		return t.Address, nil
	case TemplateVar, ResponseVar:
		return address.Address{}, fmt.Errorf("variables: %s variable has no address", v.Kind())
	default:
		return address.Address{}, fmt.Errorf("variables: unknown variable type %T", v)
	}
}

// DuplicateError is returned when a name is bound twice.
type DuplicateError struct {
	Name     string
	Existing Kind
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("variable %q is already defined (as %s)", e.Name, e.Existing)
}

// NotFoundError is returned by the typed accessors when a name is unbound or
// bound to a different kind.
type NotFoundError struct {
	Name string
	Want Kind
	Got  Kind
}

func (e *NotFoundError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("variable %q is not defined", e.Name)
	}
	return fmt.Sprintf("variable %q is a %s, not a %s", e.Name, e.Got, e.Want)
}

// View is a read-only lookup into an environment.
type View interface {
	Get(name string) (Var, bool)
}

// Env maps names to variables. Names are bound once and never rebound or
// removed. Env is not safe for concurrent mutation.
type Env struct {
	vars map[string]Var
}

func New() *Env {
	return &Env{vars: make(map[string]Var)}
}

// Insert binds name to v. It fails, leaving the existing binding untouched,
// if name is already bound.
func (e *Env) Insert(name string, v Var) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("variables: empty variable name")
	}
	if v == nil {
		return fmt.Errorf("variables: nil value for %q", name)
	}
	if prev, ok := e.vars[name]; ok {
		return &DuplicateError{Name: name, Existing: prev.Kind()}
	}
	e.vars[name] = v
	return nil
}

func (e *Env) Get(name string) (Var, bool) {
	v, ok := e.vars[name]
	return v, ok
}

func (e *Env) Len() int { return len(e.vars) }

// Names returns the bound names in sorted order.
func (e *Env) Names() []string {
	names := make([]string, 0, len(e.vars))
	for k := range e.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a View over the current bindings. Later inserts into e are
// not visible through it.
func (e *Env) Snapshot() View {
	m := make(snapshot, len(e.vars))
	for k, v := range e.vars {
		m[k] = v
	}
	return m
}

type snapshot map[string]Var

func (s snapshot) Get(name string) (Var, bool) {
	v, ok := s[name]
	return v, ok
}

func lookup[T Var](e *Env, name string, want Kind) (T, error) {
	var zero T
	v, ok := e.vars[name]
	if !ok {
		return zero, &NotFoundError{Name: name, Want: want}
	}
	t, ok := v.(T)
	if !ok {
		return zero, &NotFoundError{Name: name, Want: want, Got: v.Kind()}
	}
	return t, nil
}

func (e *Env) Identity(name string) (identity.Identity, error) {
	v, err := lookup[IdentityVar](e, name, KindIdentity)
	return v.Identity, err
}

func (e *Env) Address(name string) (address.Address, error) {
	v, err := lookup[AddressVar](e, name, KindAddress)
	return v.Address, err
}

func (e *Env) Symbol(name string) (address.Address, error) {
	v, err := lookup[SymbolVar](e, name, KindSymbol)
	return v.Address, err
}

func (e *Env) Template(name string) (Renderable, error) {
	v, err := lookup[TemplateVar](e, name, KindTemplate)
	return v.Template, err
}

func (e *Env) Response(name string) (*protocol.ResponseMessage, error) {
	v, err := lookup[ResponseVar](e, name, KindResponse)
	return v.Response, err
}

// AddressOf resolves name through any variable that carries an address.
func (e *Env) AddressOf(name string) (address.Address, error) {
	v, ok := e.vars[name]
	if !ok {
		return address.Address{}, &NotFoundError{Name: name, Want: KindAddress}
	}
	return AddressOf(v)
}
