package forms

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Submission errors
// ---------------------------------------------------------------------------

// Field error codes. The set is part of the API contract; clients key
// display behavior off Code and treat Message as advisory text.
const (
	CodeRequiredFieldMissing       = "required_field_missing"
	CodeInvalidValue               = "invalid_value"
	CodeInvalidOptionValue         = "invalid_option_value"
	CodeSeverityOutOfRange         = "severity_out_of_range"
	CodeSeverityRequiresSelection  = "severity_requires_selection"
	CodeMutuallyExclusiveViolation = "mutually_exclusive_violation"
	CodeCascadingDependencyUnmet   = "cascading_dependency_unmet"
)

// FieldError is one submission problem attributed to a field.
type FieldError struct {
	FieldID string `json:"field_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fieldErr(fieldID, code, format string, args ...any) FieldError {
	return FieldError{FieldID: fieldID, Code: code, Message: fmt.Sprintf(format, args...)}
}

// CheckResult is the outcome of validating one raw submission. On success
// Values holds the canonical answers; on failure Values is nil and Errors
// carries every problem found, so the client can annotate the whole form in
// one round trip.
type CheckResult struct {
	Valid  bool         `json:"valid"`
	Values Values       `json:"values,omitempty"`
	Errors []FieldError `json:"errors,omitempty"`
}

// ---------------------------------------------------------------------------
// Compiled validator
// ---------------------------------------------------------------------------

// SubmissionValidator is a configuration compiled into an executable
// checker. Compiling once and checking many submissions is the intended
// shape; the validator is immutable and safe for concurrent use.
type SubmissionValidator struct {
	cfg    *Configuration
	fields []compiledField
	owned  map[string]string // flat key -> owning field id
	mapped []prefixScan      // option- and step-map fields, for stray key attribution
}

type compiledField struct {
	field   *Field
	checker Checker
}

type prefixScan struct {
	fieldID string
	prefix  string
}

// Compile validates the configuration and builds its submission validator.
// A structurally invalid configuration does not compile; activation and
// creation paths validate first, so hitting this error at submission time
// means a corrupted stored document.
func (r *Registry) Compile(cfg *Configuration) (*SubmissionValidator, error) {
	res := r.ValidateConfiguration(cfg)
	if !res.Valid {
		return nil, fmt.Errorf("configuration %s v%d has %d structural error(s)", cfg.FormKind, cfg.Version, len(res.Errors))
	}

	v := &SubmissionValidator{
		cfg:   cfg,
		owned: make(map[string]string),
	}
	for _, ff := range cfg.FlatFields() {
		if !ff.Section.Enabled {
			continue
		}
		desc, err := r.Describe(ff.Field.Type)
		if err != nil {
			return nil, err
		}
		v.fields = append(v.fields, compiledField{
			field:   ff.Field,
			checker: desc.NewChecker(ff.Field),
		})
		for _, key := range desc.RawKeys(ff.Field) {
			v.owned[key] = ff.Field.ID
		}
		if !desc.ValueShape.Scalar() {
			v.mapped = append(v.mapped, prefixScan{fieldID: ff.Field.ID, prefix: ff.Field.ID + "_"})
		}
	}
	return v, nil
}

// Configuration returns the compiled configuration, for version pinning.
func (v *SubmissionValidator) Configuration() *Configuration {
	return v.cfg
}

// Check validates one flat raw submission against the compiled
// configuration. Fields are evaluated in document order; a field whose
// display condition is not currently met is skipped entirely, so its
// requiredness does not apply and any value submitted for it is dropped.
// Because evaluation is ordered and conditions only reference earlier
// fields, hiding propagates down dependency chains in a single pass.
func (v *SubmissionValidator) Check(raw map[string]any) *CheckResult {
	out := &CheckResult{Values: make(Values)}
	visible := make(map[string]bool, len(v.mapped))

	for _, cf := range v.fields {
		f := cf.field
		if f.ShowWhen != nil && !scalarEquals(out.Values, f.ShowWhen) {
			continue
		}
		visible[f.ID] = true

		if !cf.checker.Present(raw) {
			if f.Required {
				out.Errors = append(out.Errors, fieldErr(f.ID, CodeRequiredFieldMissing, "answer is required"))
			}
			continue
		}
		val, errs := cf.checker.Check(raw)
		if len(errs) > 0 {
			// An invalid answer contributes no value, so fields whose
			// display hangs on this one stay hidden.
			out.Errors = append(out.Errors, errs...)
			continue
		}
		out.Values[f.ID] = val
	}

	v.scanStrayKeys(raw, visible, out)

	out.Valid = len(out.Errors) == 0
	if !out.Valid {
		out.Values = nil
	}
	return out
}

// scanStrayKeys flags keys that sit under a visible group field's prefix
// without naming a declared option. Keys owned by a declared field are
// already handled; keys belonging to nothing are ignored so clients may
// round-trip extra payload members without tripping validation.
func (v *SubmissionValidator) scanStrayKeys(raw map[string]any, visible map[string]bool, out *CheckResult) {
	if len(v.mapped) == 0 {
		return
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if _, ok := v.owned[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, ps := range v.mapped {
			if visible[ps.fieldID] && strings.HasPrefix(key, ps.prefix) {
				out.Errors = append(out.Errors, fieldErr(ps.fieldID, CodeInvalidOptionValue, "%q does not match a declared option", key))
				break
			}
		}
	}
}

// scalarEquals compares a collected scalar value against a display
// condition. Group-shaped values never match; structural validation keeps
// conditions off those kinds in the first place.
func scalarEquals(vals Values, sw *ShowWhen) bool {
	v, ok := vals[sw.FieldID]
	if !ok {
		return false
	}
	switch {
	case v.Str != nil:
		return *v.Str == sw.Equals
	case v.Num != nil:
		return formatNumber(*v.Num) == sw.Equals
	}
	return false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// numericValue coerces the numeric representations JSON decoding and Go
// callers produce. Strings never coerce; "5" is a typing mistake upstream.
func numericValue(v any) (float64, bool) {
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

// ---------------------------------------------------------------------------
// Scalar checkers
// ---------------------------------------------------------------------------

// scalarPresent treats a missing key, a JSON null and an empty string all
// as "unanswered". An empty text input is an untouched input, not an
// answer; required fields therefore reject it as missing rather than
// accepting a blank.
func scalarPresent(raw map[string]any, key string) bool {
	v, ok := raw[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

type textChecker struct {
	fieldID   string
	maxLength int
}

func newTextChecker(f *Field) Checker {
	c := &textChecker{fieldID: f.ID}
	if f.Text != nil {
		c.maxLength = f.Text.MaxLength
	}
	return c
}

func (c *textChecker) Present(raw map[string]any) bool {
	return scalarPresent(raw, c.fieldID)
}

func (c *textChecker) Check(raw map[string]any) (Value, []FieldError) {
	s, ok := raw[c.fieldID].(string)
	if !ok {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be a string")}
	}
	if c.maxLength > 0 && utf8.RuneCountInString(s) > c.maxLength {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must not exceed %d characters", c.maxLength)}
	}
	return StringValue(s), nil
}

type numberChecker struct {
	fieldID  string
	min, max *float64
}

func newNumberChecker(f *Field) Checker {
	c := &numberChecker{fieldID: f.ID}
	if f.Number != nil {
		c.min, c.max = f.Number.Min, f.Number.Max
	}
	return c
}

func (c *numberChecker) Present(raw map[string]any) bool {
	return scalarPresent(raw, c.fieldID)
}

func (c *numberChecker) Check(raw map[string]any) (Value, []FieldError) {
	n, ok := numericValue(raw[c.fieldID])
	if !ok {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be a number")}
	}
	if c.min != nil && n < *c.min {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be at least %s", formatNumber(*c.min))}
	}
	if c.max != nil && n > *c.max {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be at most %s", formatNumber(*c.max))}
	}
	return NumberValue(n), nil
}

// dateLayout is the only accepted date form. Parsing is strict: no time
// component, no alternative separators, no two-digit years.
const dateLayout = "2006-01-02"

type dateChecker struct {
	fieldID string
}

func newDateChecker(f *Field) Checker {
	return &dateChecker{fieldID: f.ID}
}

func (c *dateChecker) Present(raw map[string]any) bool {
	return scalarPresent(raw, c.fieldID)
}

func (c *dateChecker) Check(raw map[string]any) (Value, []FieldError) {
	s, ok := raw[c.fieldID].(string)
	if !ok {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be a string")}
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be a date in YYYY-MM-DD form")}
	}
	return StringValue(s), nil
}

type selectChecker struct {
	fieldID string
	allowed map[string]bool
}

func newSelectChecker(f *Field) Checker {
	c := &selectChecker{fieldID: f.ID, allowed: make(map[string]bool)}
	if f.Select != nil {
		for _, opt := range f.Select.Options {
			c.allowed[opt.Value] = true
		}
	}
	return c
}

func (c *selectChecker) Present(raw map[string]any) bool {
	return scalarPresent(raw, c.fieldID)
}

func (c *selectChecker) Check(raw map[string]any) (Value, []FieldError) {
	s, ok := raw[c.fieldID].(string)
	if !ok {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidValue, "must be a string")}
	}
	if !c.allowed[s] {
		return Value{}, []FieldError{fieldErr(c.fieldID, CodeInvalidOptionValue, "%q is not a declared option", s)}
	}
	return StringValue(s), nil
}

// ---------------------------------------------------------------------------
// Checkbox group checker
// ---------------------------------------------------------------------------

type checkboxChecker struct {
	fieldID string
	options []Option
	scale   *SeverityScale
}

func newCheckboxChecker(f *Field) Checker {
	c := &checkboxChecker{fieldID: f.ID}
	if f.Checkbox != nil {
		c.options = f.Checkbox.Options
		c.scale = f.Checkbox.SeverityScale
	}
	return c
}

// Present reports an answer when any option is selected or any severity is
// supplied. A severity without its selection still counts as present so the
// mismatch is reported as such instead of as a missing answer.
func (c *checkboxChecker) Present(raw map[string]any) bool {
	for _, opt := range c.options {
		key := flatKey(c.fieldID, opt.Value)
		if b, ok := raw[key].(bool); ok && b {
			return true
		}
		if opt.HasSeverity {
			if v, ok := raw[key+severityKeySuffix]; ok && v != nil {
				return true
			}
		}
	}
	return false
}

func (c *checkboxChecker) Check(raw map[string]any) (Value, []FieldError) {
	var errs []FieldError
	selections := make(map[string]OptionSelection)
	selectedCount := 0
	exclusive := ""

	for _, opt := range c.options {
		key := flatKey(c.fieldID, opt.Value)

		selected := false
		if v, ok := raw[key]; ok && v != nil {
			b, isBool := v.(bool)
			if !isBool {
				errs = append(errs, fieldErr(c.fieldID, CodeInvalidValue, "selection %q must be true or false", opt.Value))
				continue
			}
			selected = b
		}

		sel := OptionSelection{Selected: selected}
		if opt.HasSeverity {
			sevRaw, sevPresent := raw[key+severityKeySuffix]
			if sevPresent && sevRaw == nil {
				sevPresent = false
			}
			switch {
			case sevPresent && !selected:
				errs = append(errs, fieldErr(c.fieldID, CodeSeverityRequiresSelection, "severity for %q requires the option to be selected", opt.Value))
			case sevPresent:
				n, ok := numericValue(sevRaw)
				if !ok || n != math.Trunc(n) {
					errs = append(errs, fieldErr(c.fieldID, CodeInvalidValue, "severity for %q must be an integer", opt.Value))
				} else if int(n) < c.scale.Min || int(n) > c.scale.Max {
					errs = append(errs, fieldErr(c.fieldID, CodeSeverityOutOfRange, "severity for %q must be between %d and %d", opt.Value, c.scale.Min, c.scale.Max))
				} else {
					sev := int(n)
					sel.Severity = &sev
				}
			case selected:
				errs = append(errs, fieldErr(c.fieldID, CodeInvalidValue, "selected option %q needs a severity rating", opt.Value))
			}
		}

		if selected {
			selectedCount++
			if opt.Exclusive {
				exclusive = opt.Value
			}
			selections[opt.Value] = sel
		}
	}

	if exclusive != "" && selectedCount > 1 {
		errs = append(errs, fieldErr(c.fieldID, CodeMutuallyExclusiveViolation, "%q cannot be combined with other selections", exclusive))
	}
	if len(errs) > 0 {
		return Value{}, errs
	}
	return OptionsValue(selections), nil
}

// ---------------------------------------------------------------------------
// Cascading select checker
// ---------------------------------------------------------------------------

type cascadeChecker struct {
	fieldID string
	steps   []CascadeStep
	// declared option parents per step: value -> parent values it appears
	// under. The same value may legally repeat under different parents.
	parents []map[string][]string
}

func newCascadeChecker(f *Field) Checker {
	c := &cascadeChecker{fieldID: f.ID}
	if f.Cascade == nil {
		return c
	}
	c.steps = f.Cascade.Steps
	c.parents = make([]map[string][]string, len(c.steps))
	for i, step := range c.steps {
		m := make(map[string][]string, len(step.Options))
		for _, opt := range step.Options {
			m[opt.Value] = append(m[opt.Value], opt.ParentValue)
		}
		c.parents[i] = m
	}
	return c
}

func (c *cascadeChecker) Present(raw map[string]any) bool {
	for _, step := range c.steps {
		if scalarPresent(raw, flatKey(c.fieldID, step.ID)) {
			return true
		}
	}
	return false
}

// Check walks the steps in declared order, carrying forward only valid
// answers. A step whose parent answer is missing or invalid fails with a
// dependency error rather than cascading bogus context further down.
func (c *cascadeChecker) Check(raw map[string]any) (Value, []FieldError) {
	var errs []FieldError
	answered := make(map[string]string)

	for i, step := range c.steps {
		key := flatKey(c.fieldID, step.ID)
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			errs = append(errs, fieldErr(c.fieldID, CodeInvalidValue, "step %q must be a string", step.ID))
			continue
		}
		if s == "" {
			continue
		}

		parentValues, declared := c.parents[i][s]
		if !declared {
			errs = append(errs, fieldErr(c.fieldID, CodeInvalidOptionValue, "step %q value %q is not a declared option", step.ID, s))
			continue
		}
		if step.DependsOn != "" {
			parentAnswer, ok := answered[step.DependsOn]
			if !ok {
				errs = append(errs, fieldErr(c.fieldID, CodeCascadingDependencyUnmet, "step %q requires a valid answer for step %q", step.ID, step.DependsOn))
				continue
			}
			legal := false
			for _, pv := range parentValues {
				if pv == parentAnswer {
					legal = true
					break
				}
			}
			if !legal {
				errs = append(errs, fieldErr(c.fieldID, CodeCascadingDependencyUnmet, "step %q value %q is not available under %q", step.ID, s, parentAnswer))
				continue
			}
		}
		answered[step.ID] = s
	}

	if len(errs) > 0 {
		return Value{}, errs
	}
	return StepsValue(answered), nil
}
