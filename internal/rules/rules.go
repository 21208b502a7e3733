// Package rules implements the ordered, first-match-wins policy engine
// that mediates every signing attempt.
package rules

import "time"

// Action is what a matching rule does.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

// ViolationKind classifies why a request was denied.
type ViolationKind string

const (
	ViolationDefaultDeny ViolationKind = "DEFAULT_DENY"
	ViolationRuleReject  ViolationKind = "RULE_REJECT"
)

// Violation describes one reason a request was not allowed.
type Violation struct {
	Kind        ViolationKind
	Description string
}

// Criterion is one predicate inside a rule. Criteria within a rule are
// ANDed; Type selects which evaluator in the dispatcher runs, and Config
// carries the type-specific parameters.
type Criterion struct {
	Type   string
	Config map[string]any
}

// Rule is one entry in a Document. Criteria are conjunctive; Enabled is
// a pointer so a document decoded from JSON/a database that omits the
// field defaults to enabled rather than silently dropping the rule. Use
// Enable to build a literal.
type Rule struct {
	Action      Action
	Description string
	Enabled     *bool
	Criteria    []Criterion
}

// Enable builds a *bool for Rule.Enabled.
func Enable(v bool) *bool {
	return &v
}

// isEnabled reports whether rule should be evaluated: true unless
// explicitly disabled.
func (r Rule) isEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Document is an ordered policy for one signer. Evaluation order is the
// stored order; the first rule whose criteria all hold wins.
type Document struct {
	ID       string
	SignerID string
	Version  int
	Rules    []Rule
}

// Context is the per-request evaluation snapshot. It is supplied
// externally (see internal/policyctx) — the verdict never depends on a
// clock or any other ambient state; the engine reads the clock only to
// fill Verdict.EvaluationTimeMs.
type Context struct {
	SignerAddress          string
	ToAddress              string // empty means contract deployment
	ValueWei               string // decimal string
	FunctionSelector       string // empty means no calldata / plain transfer
	ChainID                string
	RollingDailySpendWei   string
	RollingMonthlySpendWei string
	RequestCountLastHour   int
	RequestCountToday      int
	CurrentHourUTC         int
	CallerIP               string
	Timestamp              time.Time
}

// Verdict is the engine's output for one evaluation.
type Verdict struct {
	Allowed          bool
	Violations       []Violation
	EvaluatedCount   int
	EvaluationTimeMs float64
}

// Engine evaluates policy documents against a context.
type Engine struct {
	dispatch map[string]criterionEvaluator
}

type criterionEvaluator func(cfg map[string]any, ctx Context) (bool, error)

// NewEngine builds an engine with the standard criteria dispatcher.
func NewEngine() *Engine {
	e := &Engine{dispatch: make(map[string]criterionEvaluator)}
	e.dispatch["ethValue"] = evalEthValue
	e.dispatch["evmAddress"] = evalEVMAddress
	e.dispatch["evmNetwork"] = evalEVMNetwork
	e.dispatch["evmFunction"] = evalEVMFunction
	e.dispatch["ipAddress"] = evalIPAddress
	e.dispatch["rateLimit"] = evalRateLimit
	e.dispatch["timeWindow"] = evalTimeWindow
	e.dispatch["dailyLimit"] = evalDailyLimit
	e.dispatch["monthlyLimit"] = evalMonthlyLimit
	return e
}

// Evaluate runs the document against ctx, first-match-wins, fail-closed on
// unknown or malformed criteria.
func (e *Engine) Evaluate(doc *Document, ctx Context) Verdict {
	start := time.Now()

	if doc == nil || len(doc.Rules) == 0 {
		return Verdict{
			Allowed:          false,
			Violations:       []Violation{{Kind: ViolationDefaultDeny}},
			EvaluationTimeMs: elapsedMs(start),
		}
	}

	evaluated := 0
	for _, rule := range doc.Rules {
		if !rule.isEnabled() {
			continue
		}
		evaluated++
		if !e.ruleMatches(rule, ctx) {
			continue
		}
		if rule.Action == ActionAccept {
			return Verdict{Allowed: true, EvaluatedCount: evaluated, EvaluationTimeMs: elapsedMs(start)}
		}
		return Verdict{
			Allowed:          false,
			Violations:       []Violation{{Kind: ViolationRuleReject, Description: rule.Description}},
			EvaluatedCount:   evaluated,
			EvaluationTimeMs: elapsedMs(start),
		}
	}

	return Verdict{
		Allowed:          false,
		Violations:       []Violation{{Kind: ViolationDefaultDeny}},
		EvaluatedCount:   evaluated,
		EvaluationTimeMs: elapsedMs(start),
	}
}

func (e *Engine) ruleMatches(rule Rule, ctx Context) bool {
	for _, crit := range rule.Criteria {
		eval, ok := e.dispatch[crit.Type]
		if !ok {
			return false // unknown criterion type: fail closed
		}
		matched, err := eval(crit.Config, ctx)
		if err != nil || !matched {
			return false // malformed input or non-match: rule does not fire
		}
	}
	return len(rule.Criteria) > 0
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
