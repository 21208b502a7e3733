package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyDocumentDefaultDenies(t *testing.T) {
	engine := NewEngine()
	verdict := engine.Evaluate(&Document{}, Context{})
	require.False(t, verdict.Allowed)
	require.Len(t, verdict.Violations, 1)
	require.Equal(t, ViolationDefaultDeny, verdict.Violations[0].Kind)
}

func TestNilDocumentDefaultDenies(t *testing.T) {
	engine := NewEngine()
	verdict := engine.Evaluate(nil, Context{})
	require.False(t, verdict.Allowed)
	require.Equal(t, ViolationDefaultDeny, verdict.Violations[0].Kind)
}

func conservativeDocument() *Document {
	return &Document{
		ID:       "doc-1",
		SignerID: "signer-1",
		Rules: []Rule{
			{
				Action:      ActionReject,
				Description: "blocked destination",
				Enabled:     Enable(true),
				Criteria: []Criterion{
					{Type: "evmAddress", Config: map[string]any{
						"operator":  "in",
						"addresses": []string{"0xdeadbeef00000000000000000000000000dead"},
					}},
				},
			},
			{
				Action:      ActionAccept,
				Description: "conservative window",
				Enabled:     Enable(true),
				Criteria: []Criterion{
					{Type: "ethValue", Config: map[string]any{"operator": "<=", "value": "100000000000000000"}},
					{Type: "dailyLimit", Config: map[string]any{"maxWei": "500000000000000000"}},
					{Type: "rateLimit", Config: map[string]any{"maxPerHour": 10}},
					{Type: "timeWindow", Config: map[string]any{"startHour": 9, "endHour": 17}},
				},
			},
		},
	}
}

func TestPolicyConservativeAccept(t *testing.T) {
	engine := NewEngine()
	doc := conservativeDocument()
	ctx := Context{
		ToAddress:            "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ValueWei:             "100000000000000000",
		CurrentHourUTC:       14,
		RequestCountLastHour: 5,
		RollingDailySpendWei: "200000000000000000",
	}
	verdict := engine.Evaluate(doc, ctx)
	require.True(t, verdict.Allowed)
	require.Empty(t, verdict.Violations)
}

func TestPolicyConservativeRejectsBlockedAddress(t *testing.T) {
	engine := NewEngine()
	doc := conservativeDocument()
	ctx := Context{
		ToAddress:            "0xDEADBEEF00000000000000000000000000DEAD",
		ValueWei:             "100000000000000000",
		CurrentHourUTC:       14,
		RequestCountLastHour: 5,
		RollingDailySpendWei: "200000000000000000",
	}
	verdict := engine.Evaluate(doc, ctx)
	require.False(t, verdict.Allowed)
	require.Equal(t, ViolationRuleReject, verdict.Violations[0].Kind)
}

func TestPolicyConservativeDefaultDeniesOverLimit(t *testing.T) {
	engine := NewEngine()
	doc := conservativeDocument()
	ctx := Context{
		ToAddress:            "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ValueWei:             "10000000000000000000",
		CurrentHourUTC:       14,
		RequestCountLastHour: 5,
		RollingDailySpendWei: "200000000000000000",
	}
	verdict := engine.Evaluate(doc, ctx)
	require.False(t, verdict.Allowed)
	require.Equal(t, ViolationDefaultDeny, verdict.Violations[0].Kind)
}

func TestTimeWindowOvernightBoundaries(t *testing.T) {
	cfg := map[string]any{"startHour": 22, "endHour": 6}
	ok, err := evalTimeWindow(cfg, Context{CurrentHourUTC: 22})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evalTimeWindow(cfg, Context{CurrentHourUTC: 5})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evalTimeWindow(cfg, Context{CurrentHourUTC: 12})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimitBoundaries(t *testing.T) {
	cfg := map[string]any{"maxPerHour": 10}

	ok, _ := evalRateLimit(cfg, Context{RequestCountLastHour: 10})
	require.False(t, ok)

	ok, _ = evalRateLimit(cfg, Context{RequestCountLastHour: 15})
	require.False(t, ok)

	ok, _ = evalRateLimit(cfg, Context{RequestCountLastHour: 0})
	require.True(t, ok)

	ok, _ = evalRateLimit(cfg, Context{RequestCountLastHour: 9})
	require.True(t, ok)
}

func TestDailyLimitScientificNotation(t *testing.T) {
	cfg := map[string]any{"maxWei": "1e18"}

	ok, err := evalDailyLimit(cfg, Context{RollingDailySpendWei: "0", ValueWei: "1000000000000000000"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evalDailyLimit(cfg, Context{RollingDailySpendWei: "1", ValueWei: "1000000000000000000"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCriterionFailsClosedOnMalformedInput(t *testing.T) {
	engine := NewEngine()
	doc := &Document{
		Rules: []Rule{
			{
				Action:  ActionAccept,
				Enabled: Enable(true),
				Criteria: []Criterion{
					{Type: "ethValue", Config: map[string]any{"operator": "<=", "value": "not-a-number"}},
				},
			},
		},
	}
	verdict := engine.Evaluate(doc, Context{ValueWei: "1"})
	require.False(t, verdict.Allowed)
	require.Equal(t, ViolationDefaultDeny, verdict.Violations[0].Kind)
}

func TestUnknownCriterionTypeFailsClosed(t *testing.T) {
	engine := NewEngine()
	doc := &Document{
		Rules: []Rule{
			{Action: ActionAccept, Enabled: Enable(true), Criteria: []Criterion{{Type: "somethingNew"}}},
		},
	}
	verdict := engine.Evaluate(doc, Context{})
	require.False(t, verdict.Allowed)
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	engine := NewEngine()
	doc := &Document{
		Rules: []Rule{
			{
				Action:  ActionAccept,
				Enabled: Enable(false),
				Criteria: []Criterion{
					{Type: "ethValue", Config: map[string]any{"operator": ">=", "value": "0"}},
				},
			},
		},
	}
	verdict := engine.Evaluate(doc, Context{ValueWei: "1"})
	require.False(t, verdict.Allowed)
	require.Equal(t, ViolationDefaultDeny, verdict.Violations[0].Kind)
}

func TestEthValueEqualsIsSymmetric(t *testing.T) {
	ok1, _ := evalEthValue(map[string]any{"operator": "=", "value": "42"}, Context{ValueWei: "42"})
	ok2, _ := evalEthValue(map[string]any{"operator": "=", "value": "42"}, Context{ValueWei: "42"})
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, ok1, ok2)
}
