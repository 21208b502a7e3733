package rules

import (
	"fmt"
	"math/big"
	"net/netip"
	"strings"
)

func cfgString(cfg map[string]any, key string) (string, bool) {
	v, ok := cfg[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func cfgStringSlice(cfg map[string]any, key string) ([]string, bool) {
	v, ok := cfg[key]
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func cfgInt(cfg map[string]any, key string) (int, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func cfgBool(cfg map[string]any, key string, def bool) bool {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// parseWei accepts plain decimal wei strings ("500000000000000000") as well
// as the scientific notation the spec's own examples use ("1e18"), since
// both appear as `maxWei`/`value` literals in policy documents.
func parseWei(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n, true
	}
	f, ok := new(big.Float).SetPrec(256).SetString(s)
	if !ok || f.Sign() < 0 {
		return nil, false
	}
	n, _ := f.Int(nil)
	if new(big.Float).SetPrec(256).SetInt(n).Cmp(f) != 0 {
		// Fractional wei is not representable; reject rather than
		// silently truncate.
		return nil, false
	}
	return n, true
}

// evalEthValue implements the `ethValue` criterion.
func evalEthValue(cfg map[string]any, ctx Context) (bool, error) {
	op, ok := cfgString(cfg, "operator")
	if !ok {
		return false, fmt.Errorf("ethValue: missing operator")
	}
	valueStr, ok := cfgString(cfg, "value")
	if !ok {
		return false, fmt.Errorf("ethValue: missing value")
	}
	threshold, ok := parseWei(valueStr)
	if !ok {
		return false, fmt.Errorf("ethValue: invalid wei value %q", valueStr)
	}
	actual, ok := parseWei(ctx.ValueWei)
	if !ok {
		return false, fmt.Errorf("ethValue: invalid context value %q", ctx.ValueWei)
	}
	cmp := actual.Cmp(threshold)
	switch op {
	case "<=":
		return cmp <= 0, nil
	case "<":
		return cmp < 0, nil
	case ">=":
		return cmp >= 0, nil
	case ">":
		return cmp > 0, nil
	case "=":
		return cmp == 0, nil
	default:
		return false, fmt.Errorf("ethValue: unknown operator %q", op)
	}
}

// evalEVMAddress implements the `evmAddress` criterion.
func evalEVMAddress(cfg map[string]any, ctx Context) (bool, error) {
	op, ok := cfgString(cfg, "operator")
	if !ok {
		return false, fmt.Errorf("evmAddress: missing operator")
	}
	addresses, ok := cfgStringSlice(cfg, "addresses")
	if !ok {
		return false, fmt.Errorf("evmAddress: missing addresses")
	}
	allowDeploy := cfgBool(cfg, "allowDeploy", false)

	if ctx.ToAddress == "" {
		switch op {
		case "in":
			return allowDeploy, nil
		case "not_in":
			return true, nil
		default:
			return false, fmt.Errorf("evmAddress: unknown operator %q", op)
		}
	}

	member := false
	for _, a := range addresses {
		if strings.EqualFold(a, ctx.ToAddress) {
			member = true
			break
		}
	}
	switch op {
	case "in":
		return member, nil
	case "not_in":
		return !member, nil
	default:
		return false, fmt.Errorf("evmAddress: unknown operator %q", op)
	}
}

// evalEVMNetwork implements the `evmNetwork` criterion.
func evalEVMNetwork(cfg map[string]any, ctx Context) (bool, error) {
	op, ok := cfgString(cfg, "operator")
	if !ok {
		return false, fmt.Errorf("evmNetwork: missing operator")
	}
	chainIDs, ok := cfgStringSlice(cfg, "chainIds")
	if !ok {
		return false, fmt.Errorf("evmNetwork: missing chainIds")
	}
	member := false
	for _, id := range chainIDs {
		if id == ctx.ChainID {
			member = true
			break
		}
	}
	switch op {
	case "in":
		return member, nil
	case "not_in":
		return !member, nil
	default:
		return false, fmt.Errorf("evmNetwork: unknown operator %q", op)
	}
}

// evalEVMFunction implements the `evmFunction` criterion.
func evalEVMFunction(cfg map[string]any, ctx Context) (bool, error) {
	selectors, ok := cfgStringSlice(cfg, "selectors")
	if !ok {
		return false, fmt.Errorf("evmFunction: missing selectors")
	}
	allowPlainTransfer := cfgBool(cfg, "allowPlainTransfer", true)

	if ctx.FunctionSelector == "" {
		return allowPlainTransfer, nil
	}
	for _, sel := range selectors {
		if strings.EqualFold(sel, ctx.FunctionSelector) {
			return true, nil
		}
	}
	return false, nil
}

// evalIPAddress implements the `ipAddress` criterion.
func evalIPAddress(cfg map[string]any, ctx Context) (bool, error) {
	op, ok := cfgString(cfg, "operator")
	if !ok {
		return false, fmt.Errorf("ipAddress: missing operator")
	}
	patterns, ok := cfgStringSlice(cfg, "ips")
	if !ok {
		return false, fmt.Errorf("ipAddress: missing ips")
	}
	if ctx.CallerIP == "" {
		return false, fmt.Errorf("ipAddress: callerIp required")
	}
	callerIP, err := netip.ParseAddr(ctx.CallerIP)
	if err != nil {
		return false, fmt.Errorf("ipAddress: invalid caller ip %q", ctx.CallerIP)
	}

	member := false
	for _, pattern := range patterns {
		if strings.Contains(pattern, "/") {
			prefix, err := netip.ParsePrefix(pattern)
			if err != nil {
				return false, fmt.Errorf("ipAddress: invalid cidr %q", pattern)
			}
			if prefix.Contains(callerIP) {
				member = true
				break
			}
		} else {
			addr, err := netip.ParseAddr(pattern)
			if err != nil {
				return false, fmt.Errorf("ipAddress: invalid ip %q", pattern)
			}
			if addr == callerIP {
				member = true
				break
			}
		}
	}
	switch op {
	case "in":
		return member, nil
	case "not_in":
		return !member, nil
	default:
		return false, fmt.Errorf("ipAddress: unknown operator %q", op)
	}
}

// evalRateLimit implements the `rateLimit` criterion.
func evalRateLimit(cfg map[string]any, ctx Context) (bool, error) {
	maxPerHour, ok := cfgInt(cfg, "maxPerHour")
	if !ok || maxPerHour <= 0 {
		return false, fmt.Errorf("rateLimit: invalid maxPerHour")
	}
	return ctx.RequestCountLastHour < maxPerHour, nil
}

// evalTimeWindow implements the `timeWindow` criterion.
func evalTimeWindow(cfg map[string]any, ctx Context) (bool, error) {
	start, ok1 := cfgInt(cfg, "startHour")
	end, ok2 := cfgInt(cfg, "endHour")
	if !ok1 || !ok2 || start < 0 || start > 23 || end < 0 || end > 23 {
		return false, fmt.Errorf("timeWindow: invalid startHour/endHour")
	}
	hour := ctx.CurrentHourUTC
	if start <= end {
		return start <= hour && hour < end, nil
	}
	return hour >= start || hour < end, nil
}

// evalDailyLimit implements the `dailyLimit` criterion.
func evalDailyLimit(cfg map[string]any, ctx Context) (bool, error) {
	maxStr, ok := cfgString(cfg, "maxWei")
	if !ok {
		return false, fmt.Errorf("dailyLimit: missing maxWei")
	}
	maxWei, ok := parseWei(maxStr)
	if !ok {
		return false, fmt.Errorf("dailyLimit: invalid maxWei %q", maxStr)
	}
	rolling, ok := parseWei(ctx.RollingDailySpendWei)
	if !ok {
		return false, fmt.Errorf("dailyLimit: invalid rolling spend %q", ctx.RollingDailySpendWei)
	}
	value, ok := parseWei(ctx.ValueWei)
	if !ok {
		return false, fmt.Errorf("dailyLimit: invalid value %q", ctx.ValueWei)
	}
	total := new(big.Int).Add(rolling, value)
	return total.Cmp(maxWei) <= 0, nil
}

// evalMonthlyLimit implements the `monthlyLimit` criterion.
func evalMonthlyLimit(cfg map[string]any, ctx Context) (bool, error) {
	maxStr, ok := cfgString(cfg, "maxWei")
	if !ok {
		return false, fmt.Errorf("monthlyLimit: missing maxWei")
	}
	maxWei, ok := parseWei(maxStr)
	if !ok {
		return false, fmt.Errorf("monthlyLimit: invalid maxWei %q", maxStr)
	}
	rolling, ok := parseWei(ctx.RollingMonthlySpendWei)
	if !ok {
		return false, fmt.Errorf("monthlyLimit: invalid rolling spend %q", ctx.RollingMonthlySpendWei)
	}
	value, ok := parseWei(ctx.ValueWei)
	if !ok {
		return false, fmt.Errorf("monthlyLimit: invalid value %q", ctx.ValueWei)
	}
	total := new(big.Int).Add(rolling, value)
	return total.Cmp(maxWei) <= 0, nil
}
