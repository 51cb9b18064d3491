// Package cql implements a deliberately minimal CQL rule evaluator behind a
// pluggable RuleEvaluator interface: basic range/enum/pattern checks, with
// full CQL execution left to a caller-supplied evaluator. The bundled
// evaluator understands three textual grammars (the bundled seed rules use
// the range and enum forms):
//
//	min:<float> max:<float>      numeric range
//	enum:<v1>,<v2>,...            allowed value set
//	pattern:<regexp>               text pattern
package cql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JenAIx/best-sub007/internal/model"
)

// Violation describes why a rule rejected a value.
type Violation struct {
	RuleID   int64
	RuleName string
	Message  string
}

// RuleEvaluator evaluates one stored rule body against a value. Swappable:
// a full CQL engine can implement this interface without touching callers.
type RuleEvaluator interface {
	Evaluate(rule model.CqlRule, value any) (*Violation, error)
}

// MinimalEvaluator implements the min/max, enum, and pattern grammars.
type MinimalEvaluator struct{}

// Evaluate parses rule.Body as one of the supported grammars and checks
// value against it. Returns a non-nil Violation (and nil error) when value
// fails the rule; returns nil, nil when it passes.
func (MinimalEvaluator) Evaluate(rule model.CqlRule, value any) (*Violation, error) {
	body := strings.TrimSpace(rule.Body)
	switch {
	case strings.Contains(body, "min:") || strings.Contains(body, "max:"):
		return evaluateRange(rule, body, value)
	case strings.HasPrefix(body, "enum:"):
		return evaluateEnum(rule, body, value)
	case strings.HasPrefix(body, "pattern:"):
		return evaluatePattern(rule, body, value)
	default:
		return nil, fmt.Errorf("cql: unrecognised rule body grammar for rule %s", rule.CodeCD)
	}
}

func evaluateRange(rule model.CqlRule, body string, value any) (*Violation, error) {
	num, ok := toFloat(value)
	if !ok {
		return &Violation{RuleID: rule.CqlID, RuleName: rule.Name, Message: "value is not numeric"}, nil
	}
	minVal, hasMin := extractFloat(body, "min:")
	maxVal, hasMax := extractFloat(body, "max:")
	if hasMin && num < minVal {
		return &Violation{RuleID: rule.CqlID, RuleName: rule.Name,
			Message: fmt.Sprintf("%v is below minimum %v", num, minVal)}, nil
	}
	if hasMax && num > maxVal {
		return &Violation{RuleID: rule.CqlID, RuleName: rule.Name,
			Message: fmt.Sprintf("%v is above maximum %v", num, maxVal)}, nil
	}
	return nil, nil
}

func evaluateEnum(rule model.CqlRule, body string, value any) (*Violation, error) {
	allowed := strings.Split(strings.TrimPrefix(body, "enum:"), ",")
	str := fmt.Sprint(value)
	for _, a := range allowed {
		if strings.TrimSpace(a) == strings.TrimSpace(str) {
			return nil, nil
		}
	}
	return &Violation{RuleID: rule.CqlID, RuleName: rule.Name,
		Message: fmt.Sprintf("%q is not in the allowed set %v", str, allowed)}, nil
}

func evaluatePattern(rule model.CqlRule, body string, value any) (*Violation, error) {
	pat := strings.TrimPrefix(body, "pattern:")
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("cql: invalid pattern in rule %s: %w", rule.CodeCD, err)
	}
	str := fmt.Sprint(value)
	if !re.MatchString(str) {
		return &Violation{RuleID: rule.CqlID, RuleName: rule.Name,
			Message: fmt.Sprintf("%q does not match pattern %q", str, pat)}, nil
	}
	return nil, nil
}

func extractFloat(body, key string) (float64, bool) {
	idx := strings.Index(body, key)
	if idx < 0 {
		return 0, false
	}
	rest := body[idx+len(key):]
	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		end = len(rest)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(rest[:end]), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
