package forms

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Validation result
// ---------------------------------------------------------------------------

// ConfigurationError is one structural problem found in a configuration
// document. SectionID and FieldID locate the problem where applicable.
type ConfigurationError struct {
	SectionID string `json:"section_id,omitempty"`
	FieldID   string `json:"field_id,omitempty"`
	Reason    string `json:"reason"`
}

// ValidationResult is the outcome of validating a configuration document.
// Validation never stops at the first problem: Errors carries everything
// found in one pass so an author can fix a document in one round trip.
type ValidationResult struct {
	Valid  bool                 `json:"valid"`
	Errors []ConfigurationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(sectionID, fieldID, format string, args ...any) {
	r.Errors = append(r.Errors, ConfigurationError{
		SectionID: sectionID,
		FieldID:   fieldID,
		Reason:    fmt.Sprintf(format, args...),
	})
}

// ---------------------------------------------------------------------------
// Document validation
// ---------------------------------------------------------------------------

// ValidateConfiguration checks a configuration document structurally:
// document-level attributes, per-field payloads via each type's descriptor,
// cross-field id and key uniqueness, and conditional display references.
// Fields of disabled sections participate fully; disabling a section hides
// it from collection, not from authoring rules.
func (r *Registry) ValidateConfiguration(cfg *Configuration) *ValidationResult {
	res := &ValidationResult{}

	if cfg.FormKind == "" {
		res.add("", "", "form kind is required")
	}
	if cfg.Version < 1 {
		res.add("", "", "version must be at least 1")
	}
	if len(cfg.Sections) == 0 {
		res.add("", "", "at least one section is required")
	}

	sectionIDs := make(map[string]bool, len(cfg.Sections))
	for i := range cfg.Sections {
		sec := &cfg.Sections[i]
		if sec.ID == "" {
			res.add(sec.ID, "", "section id is required")
			continue
		}
		if sectionIDs[sec.ID] {
			res.add(sec.ID, "", "duplicate section id %q", sec.ID)
		}
		sectionIDs[sec.ID] = true
	}

	flat := cfg.FlatFields()

	// First pass: ids, payloads, per-type structure.
	fieldSection := make(map[string]string, len(flat))
	for _, ff := range flat {
		f, secID := ff.Field, ff.Section.ID

		if f.ID == "" {
			res.add(secID, "", "field id is required")
			continue
		}
		if _, dup := fieldSection[f.ID]; dup {
			res.add(secID, f.ID, "duplicate field id %q", f.ID)
			continue
		}
		fieldSection[f.ID] = secID

		if f.Label == "" {
			res.add(secID, f.ID, "field label is required")
		}

		desc, err := r.Describe(f.Type)
		if err != nil {
			res.add(secID, f.ID, "unknown field type %q", f.Type)
			continue
		}
		res.Errors = append(res.Errors, desc.ValidateConfig(secID, f)...)
	}

	// Second pass: conditional display references. A condition may only
	// point at an earlier scalar-valued field, never at itself.
	seen := make(map[string]bool, len(flat))
	for _, ff := range flat {
		f, secID := ff.Field, ff.Section.ID
		if f.ShowWhen != nil {
			r.validateShowWhen(res, cfg, secID, f, seen)
		}
		if f.ID != "" {
			seen[f.ID] = true
		}
	}

	r.validateKeyCollisions(res, cfg, flat, fieldSection)
	validateDisplayCycles(res, flat, fieldSection)

	res.Valid = len(res.Errors) == 0
	return res
}

func (r *Registry) validateShowWhen(res *ValidationResult, cfg *Configuration, secID string, f *Field, seen map[string]bool) {
	sw := f.ShowWhen
	if sw.FieldID == "" {
		res.add(secID, f.ID, "show_when field id is required")
		return
	}
	if sw.Equals == "" {
		res.add(secID, f.ID, "show_when comparison value is required")
	}
	if sw.FieldID == f.ID {
		res.add(secID, f.ID, "show_when may not reference the field itself")
		return
	}
	if !seen[sw.FieldID] {
		if cfg.FieldByID(sw.FieldID) != nil {
			res.add(secID, f.ID, "show_when may only reference an earlier field, %q comes later", sw.FieldID)
		} else {
			res.add(secID, f.ID, "show_when references unknown field %q", sw.FieldID)
		}
		return
	}
	target := cfg.FieldByID(sw.FieldID)
	if target == nil {
		return
	}
	if desc, err := r.Describe(target.Type); err == nil && !desc.ValueShape.Scalar() {
		res.add(secID, f.ID, "show_when may only reference a field with a single scalar value, %q is a %s", sw.FieldID, target.Type)
	}
}

// validateKeyCollisions ensures no two fields can claim the same flat
// submission key. Same-field collisions (an option value shadowing another
// option's severity key) are the descriptor's business and skipped here.
func (r *Registry) validateKeyCollisions(res *ValidationResult, cfg *Configuration, flat []FlatField, fieldSection map[string]string) {
	owner := make(map[string]string)
	for _, ff := range flat {
		f := ff.Field
		if f.ID == "" || fieldSection[f.ID] != ff.Section.ID {
			continue
		}
		desc, err := r.Describe(f.Type)
		if err != nil {
			continue
		}
		for _, key := range desc.RawKeys(f) {
			prev, taken := owner[key]
			if taken && prev != f.ID {
				res.add(ff.Section.ID, f.ID, "flat answer key %q collides with field %q", key, prev)
				continue
			}
			owner[key] = f.ID
		}
	}
}

// validateDisplayCycles re-checks that conditional display dependencies are
// acyclic. The earlier-only rule already forbids cycles in a well-formed
// document; this guards the invariant independently so a document that
// slipped past ordering checks still cannot compile into a validator that
// chases its own tail.
func validateDisplayCycles(res *ValidationResult, flat []FlatField, fieldSection map[string]string) {
	dep := make(map[string]string)
	for _, ff := range flat {
		if ff.Field.ShowWhen != nil && ff.Field.ID != "" {
			dep[ff.Field.ID] = ff.Field.ShowWhen.FieldID
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(dep))
	reported := make(map[string]bool)

	// walk returns the id that closed a cycle while unwinding through its
	// members, and "" once the cycle start is reached or no cycle exists.
	var walk func(id string) string
	walk = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		start := ""
		if next, ok := dep[id]; ok {
			start = walk(next)
		}
		state[id] = done
		if start != "" && !reported[id] {
			reported[id] = true
			res.add(fieldSection[id], id, "field participates in a conditional display cycle")
		}
		if start == id {
			return ""
		}
		return start
	}
	for _, ff := range flat {
		if ff.Field.ID != "" {
			walk(ff.Field.ID)
		}
	}
}

// ---------------------------------------------------------------------------
// Per-type structural checks
// ---------------------------------------------------------------------------

// setPayloads lists the wire names of the payloads a field carries.
func setPayloads(f *Field) []string {
	var names []string
	if f.Text != nil {
		names = append(names, "text")
	}
	if f.Number != nil {
		names = append(names, "number")
	}
	if f.Select != nil {
		names = append(names, "select")
	}
	if f.Cascade != nil {
		names = append(names, "cascade")
	}
	if f.Checkbox != nil {
		names = append(names, "checkbox")
	}
	return names
}

// checkPayload verifies a field carries the one payload its type expects
// (or none, for payload-free types) and nothing else. want is "" for
// payload-free types; required reports whether the payload may be omitted.
func checkPayload(res *ValidationResult, secID string, f *Field, want string, required bool) bool {
	names := setPayloads(f)
	ok := true
	for _, n := range names {
		if n != want {
			res.add(secID, f.ID, "%s payload is not allowed on a %s field", n, f.Type)
			ok = false
		}
	}
	if want == "" {
		return ok
	}
	has := false
	for _, n := range names {
		if n == want {
			has = true
		}
	}
	if !has && required {
		res.add(secID, f.ID, "%s payload is required on a %s field", want, f.Type)
		return false
	}
	return ok && (has || !required)
}

func validateTextConfig(secID string, f *Field) []ConfigurationError {
	res := &ValidationResult{}
	checkPayload(res, secID, f, "text", false)
	if f.Text != nil && f.Text.MaxLength < 0 {
		res.add(secID, f.ID, "max_length must not be negative")
	}
	return res.Errors
}

func validateNumberConfig(secID string, f *Field) []ConfigurationError {
	res := &ValidationResult{}
	checkPayload(res, secID, f, "number", false)
	if f.Number != nil && f.Number.Min != nil && f.Number.Max != nil && *f.Number.Min > *f.Number.Max {
		res.add(secID, f.ID, "number min must not exceed max")
	}
	return res.Errors
}

func validateDateConfig(secID string, f *Field) []ConfigurationError {
	res := &ValidationResult{}
	checkPayload(res, secID, f, "", false)
	return res.Errors
}

func validateSelectConfig(secID string, f *Field) []ConfigurationError {
	res := &ValidationResult{}
	if !checkPayload(res, secID, f, "select", true) {
		return res.Errors
	}
	validateOptionList(res, secID, f, f.Select.Options, false)
	return res.Errors
}

func validateCheckboxConfig(secID string, f *Field) []ConfigurationError {
	res := &ValidationResult{}
	if !checkPayload(res, secID, f, "checkbox", true) {
		return res.Errors
	}
	severity := f.Type == KindCheckboxGroupWithSeverity
	validateOptionList(res, secID, f, f.Checkbox.Options, severity)

	scale := f.Checkbox.SeverityScale
	if !severity {
		if scale != nil {
			res.add(secID, f.ID, "severity scale is not allowed on a %s field", f.Type)
		}
		return res.Errors
	}
	if scale == nil {
		res.add(secID, f.ID, "severity scale is required")
		return res.Errors
	}
	if scale.Min > scale.Max {
		res.add(secID, f.ID, "severity scale min must not exceed max")
	} else if want := scale.Max - scale.Min + 1; len(scale.Labels) != want {
		res.add(secID, f.ID, "severity scale needs %d labels for range %d..%d, got %d", want, scale.Min, scale.Max, len(scale.Labels))
	}
	return res.Errors
}

// validateOptionList runs the checks shared by every option-bearing type:
// non-empty list, value and label presence, value uniqueness, at most one
// exclusive option, and severity markers only where the type allows them.
func validateOptionList(res *ValidationResult, secID string, f *Field, opts []Option, severityAllowed bool) {
	if len(opts) == 0 {
		res.add(secID, f.ID, "at least one option is required")
		return
	}
	values := make(map[string]bool, len(opts))
	exclusives := 0
	for _, opt := range opts {
		if opt.Value == "" {
			res.add(secID, f.ID, "option value is required")
			continue
		}
		if opt.Label == "" {
			res.add(secID, f.ID, "option %q label is required", opt.Value)
		}
		if values[opt.Value] {
			res.add(secID, f.ID, "duplicate option value %q", opt.Value)
		}
		values[opt.Value] = true
		if opt.Exclusive {
			exclusives++
		}
		if opt.HasSeverity && !severityAllowed {
			res.add(secID, f.ID, "has_severity is only allowed on a %s field", KindCheckboxGroupWithSeverity)
		}
	}
	if exclusives > 1 {
		res.add(secID, f.ID, "at most one exclusive option is allowed, found %d", exclusives)
	}
	// An option value ending in the severity suffix can shadow another
	// option's severity key in the flat submission shape.
	for v := range values {
		if values[v+severityKeySuffix] {
			res.add(secID, f.ID, "option value %q collides with the severity key of %q", v+severityKeySuffix, v)
		}
	}
}

func validateCascadeConfig(secID string, f *Field) []ConfigurationError {
	res := &ValidationResult{}
	if !checkPayload(res, secID, f, "cascade", true) {
		return res.Errors
	}
	steps := f.Cascade.Steps
	if len(steps) == 0 {
		res.add(secID, f.ID, "at least one step is required")
		return res.Errors
	}

	stepValues := make(map[string]map[string]bool, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			res.add(secID, f.ID, "step id is required")
			continue
		}
		if _, dup := stepValues[step.ID]; dup {
			res.add(secID, f.ID, "duplicate step id %q", step.ID)
			continue
		}

		switch {
		case i == 0 && step.DependsOn != "":
			res.add(secID, f.ID, "first step %q must not depend on another step", step.ID)
		case i > 0 && step.DependsOn == "":
			res.add(secID, f.ID, "step %q must depend on an earlier step", step.ID)
		case step.DependsOn == step.ID:
			res.add(secID, f.ID, "step %q may not depend on itself", step.ID)
		case step.DependsOn != "":
			if _, earlier := stepValues[step.DependsOn]; !earlier {
				res.add(secID, f.ID, "step %q depends on unknown or later step %q", step.ID, step.DependsOn)
			}
		}

		values := make(map[string]bool, len(step.Options))
		stepValues[step.ID] = values
		if len(step.Options) == 0 {
			res.add(secID, f.ID, "step %q needs at least one option", step.ID)
			continue
		}
		pairSeen := make(map[string]bool, len(step.Options))
		for _, opt := range step.Options {
			if opt.Value == "" {
				res.add(secID, f.ID, "step %q option value is required", step.ID)
				continue
			}
			pair := opt.ParentValue + "\x00" + opt.Value
			if pairSeen[pair] {
				res.add(secID, f.ID, "step %q duplicate option value %q under parent %q", step.ID, opt.Value, opt.ParentValue)
			}
			pairSeen[pair] = true
			values[opt.Value] = true

			if i == 0 && opt.ParentValue != "" {
				res.add(secID, f.ID, "step %q option %q must not carry a parent_value", step.ID, opt.Value)
			}
			if i > 0 {
				if opt.ParentValue == "" {
					res.add(secID, f.ID, "step %q option %q needs a parent_value", step.ID, opt.Value)
				} else if parent, ok := stepValues[step.DependsOn]; ok && !parent[opt.ParentValue] {
					res.add(secID, f.ID, "step %q option %q references unknown parent value %q", step.ID, opt.Value, opt.ParentValue)
				}
			}
		}
	}
	return res.Errors
}
