// Package validate runs a four-step pipeline over an entity: type checks,
// standard per-type rules, concept-linked CQL rules, and a small set of
// keyed business rules, continuing past a failed step and aggregating
// every diagnostic into one report.
//
// Blob-size diagnostics use dustin/go-humanize the way the rest of the
// pack renders byte counts for operators.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JenAIx/best-sub007/internal/cql"
	"github.com/JenAIx/best-sub007/internal/model"
)

// ValueKind is the input's declared type.
type ValueKind string

const (
	KindNumeric ValueKind = "numeric"
	KindText    ValueKind = "text"
	KindDate    ValueKind = "date"
	KindBlob    ValueKind = "blob"
	KindBoolean ValueKind = "boolean"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Diagnostic is one validation finding.
type Diagnostic struct {
	Code     string
	Field    string
	Message  string
	Details  string
	Severity Severity
	RuleID   string
	RuleName string
}

// Input is what callers submit for validation.
type Input struct {
	Value      any
	Kind       ValueKind
	ConceptCD  string
	Metadata   map[string]any // may carry "field" for business-rule lookups
}

// Report is the aggregated result of one Validate call.
type Report struct {
	IsValid  bool
	Errors   []Diagnostic
	Warnings []Diagnostic
	Metadata map[string]any
}

func (r *Report) addError(d Diagnostic) {
	d.Severity = SeverityError
	r.Errors = append(r.Errors, d)
	r.IsValid = false
}

func (r *Report) addWarning(d Diagnostic) {
	d.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, d)
}

// NumericRules are the standard rules for numeric inputs.
type NumericRules struct {
	Min, Max      *float64
	Precision     *int
	AllowNegative bool
	AllowZero     bool
}

// TextRules are the standard rules for text inputs.
type TextRules struct {
	MinLength, MaxLength *int
	AllowEmpty           bool
	Pattern              string
	Trim                 bool
}

// DateRules are the standard rules for date inputs.
type DateRules struct {
	MinDate, MaxDate       *time.Time
	AllowFuture, AllowPast bool
}

// BlobRules are the standard rules for blob inputs.
type BlobRules struct {
	MaxSize int64 // bytes
}

// StandardRules bundles the overridable per-type rule sets.
type StandardRules struct {
	Numeric NumericRules
	Text    TextRules
	Date    DateRules
	Blob    BlobRules
}

func defaultStandardRules() StandardRules {
	return StandardRules{
		Text: TextRules{AllowEmpty: true},
		Date: DateRules{AllowFuture: true, AllowPast: true},
		Blob: BlobRules{MaxSize: 10 * 1024 * 1024},
	}
}

// ConceptRuleSource fetches the CQL rules linked to a concept code.
type ConceptRuleSource interface {
	FindByConceptCode(ctx context.Context, conceptCD string) ([]model.CqlRule, error)
}

// Validator runs the four-step validation pipeline. setCustomRules/
// resetToDefaults mutate its standard-rules table; concept rule lookups and
// evaluation are pluggable (rules source + evaluator).
type Validator struct {
	rules     StandardRules
	rulesSrc  ConceptRuleSource
	evaluator cql.RuleEvaluator
}

// New builds a Validator with the default standard rules.
func New(rulesSrc ConceptRuleSource, evaluator cql.RuleEvaluator) *Validator {
	if evaluator == nil {
		evaluator = cql.MinimalEvaluator{}
	}
	return &Validator{rules: defaultStandardRules(), rulesSrc: rulesSrc, evaluator: evaluator}
}

// SetCustomRules merges patch into the current standard rules table. Zero
// fields in patch are left unchanged, so repeated calls accumulate rather
// than replace.
func (v *Validator) SetCustomRules(patch StandardRules) {
	if patch.Numeric.Min != nil {
		v.rules.Numeric.Min = patch.Numeric.Min
	}
	if patch.Numeric.Max != nil {
		v.rules.Numeric.Max = patch.Numeric.Max
	}
	if patch.Numeric.Precision != nil {
		v.rules.Numeric.Precision = patch.Numeric.Precision
	}
	v.rules.Numeric.AllowNegative = v.rules.Numeric.AllowNegative || patch.Numeric.AllowNegative
	v.rules.Numeric.AllowZero = v.rules.Numeric.AllowZero || patch.Numeric.AllowZero

	if patch.Text.MinLength != nil {
		v.rules.Text.MinLength = patch.Text.MinLength
	}
	if patch.Text.MaxLength != nil {
		v.rules.Text.MaxLength = patch.Text.MaxLength
	}
	if patch.Text.Pattern != "" {
		v.rules.Text.Pattern = patch.Text.Pattern
	}
	v.rules.Text.Trim = v.rules.Text.Trim || patch.Text.Trim

	if patch.Date.MinDate != nil {
		v.rules.Date.MinDate = patch.Date.MinDate
	}
	if patch.Date.MaxDate != nil {
		v.rules.Date.MaxDate = patch.Date.MaxDate
	}

	if patch.Blob.MaxSize != 0 {
		v.rules.Blob.MaxSize = patch.Blob.MaxSize
	}
}

// ResetToDefaults restores the built-in standard rules table.
func (v *Validator) ResetToDefaults() {
	v.rules = defaultStandardRules()
}

// Validate runs type validation, standard rules, concept rules, and
// business rules, in that order, never short-circuiting on failure.
func (v *Validator) Validate(ctx context.Context, in Input) Report {
	report := Report{IsValid: true, Metadata: map[string]any{}}

	v.validateType(in, &report)
	v.validateStandardRules(in, &report)
	v.validateConceptRules(ctx, in, &report)
	v.validateBusinessRules(in, &report)

	return report
}

func (v *Validator) validateType(in Input, report *Report) {
	switch in.Kind {
	case KindNumeric:
		if _, ok := toFloat(in.Value); !ok {
			report.addError(Diagnostic{Code: "TYPE_MISMATCH", Field: "value", Message: "value does not parse as numeric"})
		}
	case KindText:
		if _, ok := in.Value.(string); !ok {
			report.addError(Diagnostic{Code: "TYPE_MISMATCH", Field: "value", Message: "value is not a string"})
		}
	case KindDate:
		s, ok := in.Value.(string)
		if !ok {
			report.addError(Diagnostic{Code: "TYPE_MISMATCH", Field: "value", Message: "value is not a string"})
			return
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			report.addError(Diagnostic{Code: "TYPE_MISMATCH", Field: "value", Message: "date does not match YYYY-MM-DD"})
		}
	case KindBlob:
		if in.Value == nil {
			report.addError(Diagnostic{Code: "TYPE_MISMATCH", Field: "value", Message: "blob must be non-null"})
		}
	case KindBoolean:
		if _, ok := in.Value.(bool); !ok {
			report.addError(Diagnostic{Code: "TYPE_MISMATCH", Field: "value", Message: "value is not a boolean"})
		}
	default:
		report.addError(Diagnostic{Code: "UNKNOWN_TYPE", Field: "type", Message: "unrecognised validation type " + string(in.Kind)})
	}
}

func (v *Validator) validateStandardRules(in Input, report *Report) {
	switch in.Kind {
	case KindNumeric:
		num, ok := toFloat(in.Value)
		if !ok {
			return
		}
		r := v.rules.Numeric
		if r.Min != nil && num < *r.Min {
			report.addError(Diagnostic{Code: "BELOW_MIN", Field: "value", Message: fmt.Sprintf("%v is below minimum %v", num, *r.Min)})
		}
		if r.Max != nil && num > *r.Max {
			report.addError(Diagnostic{Code: "ABOVE_MAX", Field: "value", Message: fmt.Sprintf("%v is above maximum %v", num, *r.Max)})
		}
		if !r.AllowNegative && num < 0 {
			report.addError(Diagnostic{Code: "NEGATIVE_NOT_ALLOWED", Field: "value", Message: "negative values are not allowed"})
		}
		if !r.AllowZero && num == 0 {
			report.addError(Diagnostic{Code: "ZERO_NOT_ALLOWED", Field: "value", Message: "zero is not allowed"})
		}
	case KindText:
		text, ok := in.Value.(string)
		if !ok {
			return
		}
		if v.rules.Text.Trim {
			text = strings.TrimSpace(text)
		}
		r := v.rules.Text
		if !r.AllowEmpty && text == "" {
			report.addError(Diagnostic{Code: "EMPTY_NOT_ALLOWED", Field: "value", Message: "empty text is not allowed"})
		}
		if r.MinLength != nil && len(text) < *r.MinLength {
			report.addError(Diagnostic{Code: "TOO_SHORT", Field: "value", Message: fmt.Sprintf("length %d is below minimum %d", len(text), *r.MinLength)})
		}
		if r.MaxLength != nil && len(text) > *r.MaxLength {
			report.addError(Diagnostic{Code: "TOO_LONG", Field: "value", Message: fmt.Sprintf("length %d exceeds maximum %d", len(text), *r.MaxLength)})
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				report.addWarning(Diagnostic{Code: "INVALID_PATTERN_RULE", Field: "value", Message: "configured pattern does not compile"})
			} else if !re.MatchString(text) {
				report.addError(Diagnostic{Code: "PATTERN_MISMATCH", Field: "value", Message: fmt.Sprintf("value does not match pattern %q", r.Pattern)})
			}
		}
	case KindDate:
		s, ok := in.Value.(string)
		if !ok {
			return
		}
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return
		}
		r := v.rules.Date
		now := time.Now()
		if !r.AllowFuture && d.After(now) {
			report.addError(Diagnostic{Code: "FUTURE_NOT_ALLOWED", Field: "value", Message: "future dates are not allowed"})
		}
		if !r.AllowPast && d.Before(now) {
			report.addError(Diagnostic{Code: "PAST_NOT_ALLOWED", Field: "value", Message: "past dates are not allowed"})
		}
		if r.MinDate != nil && d.Before(*r.MinDate) {
			report.addError(Diagnostic{Code: "BEFORE_MIN_DATE", Field: "value", Message: "date is before the configured minimum"})
		}
		if r.MaxDate != nil && d.After(*r.MaxDate) {
			report.addError(Diagnostic{Code: "AFTER_MAX_DATE", Field: "value", Message: "date is after the configured maximum"})
		}
	case KindBlob:
		b, ok := in.Value.([]byte)
		if !ok {
			return
		}
		if v.rules.Blob.MaxSize > 0 && int64(len(b)) > v.rules.Blob.MaxSize {
			report.addError(Diagnostic{
				Code: "BLOB_TOO_LARGE", Field: "value",
				Message: fmt.Sprintf("blob is %s, exceeds configured maximum of %s",
					humanize.Bytes(uint64(len(b))), humanize.Bytes(uint64(v.rules.Blob.MaxSize))),
			})
		}
	}
}

func (v *Validator) validateConceptRules(ctx context.Context, in Input, report *Report) {
	if in.ConceptCD == "" {
		return
	}
	if v.rulesSrc == nil {
		return
	}
	rules, err := v.rulesSrc.FindByConceptCode(ctx, in.ConceptCD)
	if err != nil {
		report.addWarning(Diagnostic{Code: "CONCEPT_RULES_UNAVAILABLE", Field: "conceptCode", Message: err.Error()})
		return
	}
	if len(rules) == 0 {
		report.addWarning(Diagnostic{Code: "NO_CONCEPT_RULES", Field: "conceptCode", Message: "no CQL rules linked to " + in.ConceptCD})
		return
	}
	for _, rule := range rules {
		violation, err := v.evaluator.Evaluate(rule, in.Value)
		if err != nil {
			report.addWarning(Diagnostic{Code: "RULE_EVALUATION_FAILED", Field: "value", Message: err.Error(), RuleID: fmt.Sprint(rule.CqlID), RuleName: rule.Name})
			continue
		}
		if violation != nil {
			report.addError(Diagnostic{
				Code: "CONCEPT_RULE_VIOLATION", Field: "value", Message: violation.Message,
				RuleID: fmt.Sprint(violation.RuleID), RuleName: violation.RuleName,
			})
		}
	}
}

// businessRuleRanges keys a fixed numeric [min, max] range by
// metadata["field"].
var businessRuleRanges = map[string][2]float64{
	"AGE_IN_YEARS":   {0, 150},
	"BLOOD_PRESSURE": {50, 300},
	"HEART_RATE":     {30, 250},
}

func (v *Validator) validateBusinessRules(in Input, report *Report) {
	field, _ := in.Metadata["field"].(string)
	if field == "" {
		return
	}
	rng, ok := businessRuleRanges[field]
	if !ok {
		return
	}
	num, ok := toFloat(in.Value)
	if !ok {
		return
	}
	if num < rng[0] || num > rng[1] {
		report.addError(Diagnostic{
			Code:    field + "_OUT_OF_RANGE",
			Field:   field,
			Message: fmt.Sprintf("%s=%v is outside the allowed range [%v, %v]", field, num, rng[0], rng[1]),
		})
	}
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
	}
	return 0, false
}
