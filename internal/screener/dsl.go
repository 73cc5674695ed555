package screener

import (
	"strconv"
	"strings"

	"github.com/wonny/quantk/internal/rpc"
)

// Condition is one parsed screening predicate. Value already has any unit
// multiplier applied.
type Condition struct {
	Factor   string  `json:"factor"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// factorAliases maps domain-local (Korean) factor names to canonical columns
var factorAliases = map[string]string{
	"시총":      "MARKET_CAP",
	"시가총액":    "MARKET_CAP",
	"배당률":     "DIV",
	"배당수익률":   "DIV",
	"자기자본이익률": "ROE",
}

// knownColumns is the set of canonical columns a condition can reference
var knownColumns = map[string]bool{
	"PER":        true,
	"PBR":        true,
	"EPS":        true,
	"BPS":        true,
	"DIV":        true,
	"ROE":        true,
	"MARKET_CAP": true,
}

// operators in longest-first match order so "<=" never parses as "<"
var operators = []string{"<=", ">=", "==", "!=", "<", ">"}

// unitMultipliers maps value suffixes to scale factors
var unitMultipliers = []struct {
	suffix     string
	multiplier float64
}{
	{"조", 1_000_000_000_000},
	{"억", 100_000_000},
	{"만", 10_000},
	{"%", 1},
}

// ParseCondition parses one "<factor><op><value>" condition string.
// Any malformed condition is a 1301 error naming the offending input —
// screens are validated all-or-nothing, never partially applied.
// ⭐ SSOT: 스크리닝 DSL 파싱은 이 함수에서만
func ParseCondition(condition string) (Condition, error) {
	trimmed := strings.TrimSpace(condition)

	var operator string
	for _, op := range operators {
		if strings.Contains(trimmed, op) {
			operator = op
			break
		}
	}
	if operator == "" {
		return Condition{}, rpc.NewError(rpc.CodeScreenError, "No operator found in condition: %s", condition)
	}

	parts := strings.SplitN(trimmed, operator, 2)
	factorRaw := strings.TrimSpace(parts[0])
	valueRaw := strings.TrimSpace(parts[1])
	if factorRaw == "" || strings.ContainsAny(valueRaw, "<>=!") {
		return Condition{}, rpc.NewError(rpc.CodeScreenError, "Invalid condition format: %s", condition)
	}

	factor := factorRaw
	if canonical, ok := factorAliases[factorRaw]; ok {
		factor = canonical
	}
	if !knownColumns[factor] {
		return Condition{}, rpc.NewError(rpc.CodeScreenError, "Unknown factor in condition: %s", condition)
	}

	value, err := parseValue(valueRaw)
	if err != nil {
		return Condition{}, err
	}

	return Condition{Factor: factor, Operator: operator, Value: value}, nil
}

// ParseConditions parses a whole condition list; the first malformed
// condition aborts with its error.
func ParseConditions(conditions []string) ([]Condition, error) {
	parsed := make([]Condition, 0, len(conditions))
	for _, cond := range conditions {
		c, err := ParseCondition(cond)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, c)
	}
	return parsed, nil
}

// parseValue parses a decimal with an optional unit suffix
func parseValue(s string) (float64, error) {
	for _, unit := range unitMultipliers {
		if strings.HasSuffix(s, unit.suffix) {
			number := strings.TrimSuffix(s, unit.suffix)
			v, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
			if err != nil {
				return 0, rpc.NewError(rpc.CodeScreenError, "Invalid number: %s", number)
			}
			return v * unit.multiplier, nil
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, rpc.NewError(rpc.CodeScreenError, "Invalid value: %s", s)
	}
	return v, nil
}

// Matches applies the condition to one value
func (c Condition) Matches(v float64) bool {
	switch c.Operator {
	case "<":
		return v < c.Value
	case "<=":
		return v <= c.Value
	case ">":
		return v > c.Value
	case ">=":
		return v >= c.Value
	case "==":
		return v == c.Value
	case "!=":
		return v != c.Value
	default:
		return false
	}
}
