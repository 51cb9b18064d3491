package validate

import (
	"context"
	"testing"

	"github.com/JenAIx/best-sub007/internal/model"
)

type fakeRuleSource struct {
	rules map[string][]model.CqlRule
}

func (f fakeRuleSource) FindByConceptCode(ctx context.Context, conceptCD string) ([]model.CqlRule, error) {
	return f.rules[conceptCD], nil
}

func TestValidateNumericStandardRules(t *testing.T) {
	v := New(nil, nil)
	min, max := 0.0, 100.0
	v.SetCustomRules(StandardRules{Numeric: NumericRules{Min: &min, Max: &max}})

	report := v.Validate(context.Background(), Input{Value: 150.0, Kind: KindNumeric})
	if report.IsValid {
		t.Fatalf("expected invalid report for out-of-range value")
	}
	found := false
	for _, e := range report.Errors {
		if e.Code == "ABOVE_MAX" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ABOVE_MAX error, got %+v", report.Errors)
	}
}

func TestValidateNoConceptRulesWarns(t *testing.T) {
	v := New(fakeRuleSource{rules: map[string][]model.CqlRule{}}, nil)
	report := v.Validate(context.Background(), Input{Value: 72.0, Kind: KindNumeric, ConceptCD: "LOINC:8867-4"})
	if !report.IsValid {
		t.Fatalf("NO_CONCEPT_RULES should be a warning, not invalidate the report: %+v", report.Errors)
	}
	found := false
	for _, w := range report.Warnings {
		if w.Code == "NO_CONCEPT_RULES" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NO_CONCEPT_RULES warning, got %+v", report.Warnings)
	}
}

func TestValidateConceptRuleViolation(t *testing.T) {
	src := fakeRuleSource{rules: map[string][]model.CqlRule{
		"LOINC:8867-4": {{CqlID: 1, CodeCD: "HEART_RATE_RANGE", Name: "Heart rate range", Body: "min:30 max:250"}},
	}}
	v := New(src, nil)
	report := v.Validate(context.Background(), Input{Value: 400.0, Kind: KindNumeric, ConceptCD: "LOINC:8867-4"})
	if report.IsValid {
		t.Fatalf("expected concept rule violation to invalidate report")
	}
	found := false
	for _, e := range report.Errors {
		if e.Code == "CONCEPT_RULE_VIOLATION" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected CONCEPT_RULE_VIOLATION, got %+v", report.Errors)
	}
}

func TestValidateBusinessRuleAgeRange(t *testing.T) {
	v := New(nil, nil)
	report := v.Validate(context.Background(), Input{
		Value: 200.0, Kind: KindNumeric, Metadata: map[string]any{"field": "AGE_IN_YEARS"},
	})
	if report.IsValid {
		t.Fatalf("expected AGE_IN_YEARS business rule to reject 200")
	}
}

func TestValidateDateFormat(t *testing.T) {
	v := New(nil, nil)
	report := v.Validate(context.Background(), Input{Value: "not-a-date", Kind: KindDate})
	if report.IsValid {
		t.Fatalf("expected malformed date to fail type validation")
	}
}

func TestResetToDefaultsClearsCustomRules(t *testing.T) {
	v := New(nil, nil)
	max := 10.0
	v.SetCustomRules(StandardRules{Numeric: NumericRules{Max: &max}})
	v.ResetToDefaults()

	report := v.Validate(context.Background(), Input{Value: 1000.0, Kind: KindNumeric})
	for _, e := range report.Errors {
		if e.Code == "ABOVE_MAX" {
			t.Fatalf("expected ResetToDefaults to clear the custom max rule")
		}
	}
}
