package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"

	"github.com/cucumber/godog"

	"github.com/hansl/specification/pkg/observability"
)

// Step argument patterns.
const (
	identPattern  = `(\w[\w.@]*)`
	methodPattern = `([A-Za-z_][A-Za-z0-9_.]*)`
	amountPattern = `(\d+)`
	wordPattern   = `(\S+)`
)

var schemaStep = regexp.MustCompile(`^response ` + identPattern + ` matches schema ` + wordPattern + `$`)

// Suite binds scenario steps to Worlds created from one shared Config.
type Suite struct {
	cfg       *Config
	telemetry *observability.Provider
}

// NewSuite returns a suite. A nil telemetry provider disables step tracing;
// otherwise ledger calls are traced too unless cfg already sets Telemetry.
func NewSuite(cfg *Config, telemetry *observability.Provider) *Suite {
	if telemetry != nil && cfg.Telemetry == nil {
		c := *cfg
		c.Telemetry = telemetry
		cfg = &c
	}
	return &Suite{cfg: cfg, telemetry: telemetry}
}

// ScenarioKey names a scenario on the tape. Pickle ids are assigned in file
// order, so the key is stable for an unchanged set of features.
func ScenarioKey(sc *godog.Scenario) string {
	return sc.Uri + ":" + sc.Id
}

type steps struct {
	suite  *Suite
	world  *World
	finish func(error)
}

// InitializeScenario is a godog ScenarioInitializer.
func (s *Suite) InitializeScenario(sc *godog.ScenarioContext) {
	st := &steps{suite: s}

	sc.Before(func(ctx context.Context, p *godog.Scenario) (context.Context, error) {
		if err := s.checkRules(p); err != nil {
			return ctx, err
		}
		w, err := NewWorld(ScenarioKey(p), s.cfg)
		if err != nil {
			return ctx, err
		}
		st.world = w
		w.Logger().InfoContext(ctx, "scenario started", "title", p.Name)
		return ctx, w.Init(ctx)
	})
	sc.After(func(ctx context.Context, p *godog.Scenario, err error) (context.Context, error) {
		if st.world == nil {
			return ctx, nil
		}
		if err != nil {
			st.world.Logger().ErrorContext(ctx, "scenario failed", "title", p.Name, "error", err)
		} else {
			st.world.Logger().InfoContext(ctx, "scenario passed", "title", p.Name)
		}
		return ctx, nil
	})

	if s.telemetry != nil {
		sc.StepContext().Before(func(ctx context.Context, step *godog.Step) (context.Context, error) {
			if st.finish != nil {
				st.finish(nil)
			}
			name := ""
			if st.world != nil {
				name = st.world.Name()
			}
			ctx, st.finish = s.telemetry.TrackOperation(ctx, "scenario.step",
				observability.AttrScenario.String(name),
				observability.AttrStep.String(step.Text),
			)
			return ctx, nil
		})
		sc.StepContext().After(func(ctx context.Context, _ *godog.Step, _ godog.StepResultStatus, err error) (context.Context, error) {
			if st.finish != nil {
				st.finish(err)
				st.finish = nil
			}
			return ctx, nil
		})
	}

	sc.Step(`^an identity `+identPattern+`$`, st.anIdentity)
	sc.Step(`^a symbol `+wordPattern+`$`, st.aSymbol)
	sc.Step(`^`+identPattern+` has `+amountPattern+` `+wordPattern+`$`, st.hasAmount)
	sc.Step(`^`+identPattern+` sends `+amountPattern+` `+wordPattern+` to `+identPattern+`$`, st.sends)
	sc.Step(`^the balance of `+identPattern+` should be `+amountPattern+` `+wordPattern+`$`, st.balanceShouldBe)
	sc.Step(`^a cbor `+identPattern+` =$`, st.aCborDocString)
	sc.Step(`^a cbor `+identPattern+` = (.+)$`, st.aCbor)
	sc.Step(`^calling `+methodPattern+` with `+identPattern+` into `+identPattern+`$`, st.calling)
	sc.Step(`^`+identPattern+` calling `+methodPattern+` with `+identPattern+` into `+identPattern+`$`, st.callingAs)
	sc.Step(schemaStep.String(), st.matchesSchema)
	sc.Step(`^response `+identPattern+` satisfies (.+)$`, st.satisfies)
	sc.Step(`^response `+identPattern+` is an error with code (-?\d+)$`, st.isErrorWithCode)
	sc.Step(`^the random seed is (\d+)$`, st.randomSeed)
}

// checkRules rejects a scenario that names a schema rule the schema does
// not define, before any of its steps run.
func (s *Suite) checkRules(p *godog.Scenario) error {
	var errs []error
	for _, step := range p.Steps {
		m := schemaStep.FindStringSubmatch(step.Text)
		if m == nil {
			continue
		}
		if err := s.cfg.Validator.HasRule(m[2]); err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", step.Text, err))
		}
	}
	return errors.Join(errs...)
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func (st *steps) anIdentity(name string) error {
	return st.world.NewIdentity(name)
}

func (st *steps) aSymbol(name string) error {
	_, err := st.world.env.Symbol(name)
	return err
}

func (st *steps) hasAmount(ctx context.Context, id, amount, symbol string) error {
	n, err := parseAmount(amount)
	if err != nil {
		return err
	}
	return st.world.SetBalance(ctx, id, n, symbol)
}

func (st *steps) sends(ctx context.Context, from, amount, symbol, to string) error {
	n, err := parseAmount(amount)
	if err != nil {
		return err
	}
	return st.world.Transfer(ctx, from, n, symbol, to)
}

func (st *steps) balanceShouldBe(ctx context.Context, id, amount, symbol string) error {
	want, err := parseAmount(amount)
	if err != nil {
		return err
	}
	got, err := st.world.Balance(ctx, id, symbol)
	if err != nil {
		return err
	}
	if got.Cmp(want) != 0 {
		return &MismatchError{What: fmt.Sprintf("balance of %q in %s", id, symbol), Want: want, Got: got}
	}
	return nil
}

func (st *steps) aCbor(name, text string) error {
	return st.world.RegisterTemplate(name, text)
}

func (st *steps) aCborDocString(name string, doc *godog.DocString) error {
	return st.world.RegisterTemplate(name, doc.Content)
}

func (st *steps) calling(ctx context.Context, method, msg, into string) error {
	return st.world.Call(ctx, VarAnonymous, method, msg, into)
}

func (st *steps) callingAs(ctx context.Context, id, method, msg, into string) error {
	return st.world.Call(ctx, id, method, msg, into)
}

func (st *steps) matchesSchema(name, rule string) error {
	return st.world.ResponseMatches(name, rule)
}

func (st *steps) satisfies(name, expr string) error {
	return st.world.ResponseSatisfies(name, expr)
}

func (st *steps) isErrorWithCode(name, code string) error {
	c, err := strconv.ParseInt(code, 10, 64)
	if err != nil {
		return err
	}
	return st.world.ResponseError(name, c)
}

func (st *steps) randomSeed(seed string) error {
	n, err := strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return err
	}
	st.world.Seed(n)
	return nil
}
