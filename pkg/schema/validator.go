package schema

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hansl/specification/pkg/diag"
)

// UnknownRuleError is returned for a rule the document does not define.
type UnknownRuleError struct {
	Rule   string
	Source string
}

func (e *UnknownRuleError) Error() string {
	return fmt.Sprintf("schema: %s defines no rule %q", e.Source, e.Rule)
}

// ValidationError is returned when a payload does not conform to a rule,
// or cannot be checked at all. Detail holds the engine's full diagnostic.
type ValidationError struct {
	Rule   string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: payload does not match %q: %v", e.Rule, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator checks payloads against the rules of a shared Source.
type Validator struct {
	src    *Source
	logger *slog.Logger
}

func NewValidator(src *Source) *Validator {
	return &Validator{
		src:    src,
		logger: slog.Default().With("component", "schema", "schema", src.Name()),
	}
}

// HasRule fails if rule is not defined, or if the document itself does not
// compile.
func (v *Validator) HasRule(rule string) error {
	defs, err := v.src.load()
	if err != nil {
		return err
	}
	if _, ok := defs[rule]; !ok {
		return &UnknownRuleError{Rule: rule, Source: v.src.Name()}
	}
	return nil
}

// Matches reports whether payload, a CBOR data item, conforms to rule. It
// returns (true, nil) on success; every other outcome is (false, err) with
// the engine diagnostic attached and logged.
func (v *Validator) Matches(rule string, payload []byte) (bool, error) {
	if err := v.HasRule(rule); err != nil {
		return false, err
	}
	defs, _ := v.src.load()

	doc, err := synthetic(rule, defs)
	if err != nil {
		return false, v.fail(rule, "", fmt.Errorf("build root: %w", err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(syntheticURL, bytes.NewReader(doc)); err != nil {
		return false, v.fail(rule, "", err)
	}
	compiled, err := c.Compile(syntheticURL)
	if err != nil {
		return false, v.fail(rule, fmt.Sprintf("%#v", err), err)
	}

	decoded, err := diag.Decode(payload)
	if err != nil {
		return false, v.fail(rule, "", err)
	}
	instance, err := diag.ToJSON(decoded)
	if err != nil {
		return false, v.fail(rule, "", err)
	}
	if err := compiled.Validate(instance); err != nil {
		return false, v.fail(rule, fmt.Sprintf("%#v", err), err)
	}
	return true, nil
}

func (v *Validator) fail(rule, detail string, err error) error {
	if detail == "" {
		detail = err.Error()
	}
	v.logger.Error("schema validation failed", "rule", rule, "diagnostic", detail)
	return &ValidationError{Rule: rule, Detail: detail, Err: err}
}
