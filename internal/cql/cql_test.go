package cql

import (
	"testing"

	"github.com/JenAIx/best-sub007/internal/model"
)

func TestMinimalEvaluatorRange(t *testing.T) {
	rule := modelRule("HEART_RATE_RANGE", "min:30 max:250")
	e := MinimalEvaluator{}

	if v, err := e.Evaluate(rule, 72.0); err != nil || v != nil {
		t.Fatalf("expected 72 to pass, got violation=%v err=%v", v, err)
	}
	v, err := e.Evaluate(rule, 400.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		t.Fatalf("expected violation for 400 above max")
	}
}

func TestMinimalEvaluatorEnum(t *testing.T) {
	rule := modelRule("SEX_ENUM", "enum:SCTID: 407374003,SCTID: 248152002")
	e := MinimalEvaluator{}

	if v, err := e.Evaluate(rule, "SCTID: 407374003"); err != nil || v != nil {
		t.Fatalf("expected allowed value to pass, got violation=%v err=%v", v, err)
	}
	v, err := e.Evaluate(rule, "SCTID: 999999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		t.Fatalf("expected violation for value outside enum")
	}
}

func TestMinimalEvaluatorPattern(t *testing.T) {
	rule := modelRule("CODE_SHAPE", `pattern:^[A-Z]{3}-\d{4}$`)
	e := MinimalEvaluator{}

	if v, err := e.Evaluate(rule, "ABC-1234"); err != nil || v != nil {
		t.Fatalf("expected matching value to pass, got violation=%v err=%v", v, err)
	}
	v, err := e.Evaluate(rule, "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		t.Fatalf("expected violation for non-matching value")
	}
}

func modelRule(code, body string) model.CqlRule {
	return model.CqlRule{CodeCD: code, Name: code, Body: body}
}
