// Package forms implements the clinical form engine: the field type
// registry, the versioned configuration model, structural configuration
// validation, compiled submission validators, and the transforms between
// the flat UI answer shape and the canonical stored shape.
//
// The package performs no I/O. Persistence, caching and transport live in
// the domain packages; everything here operates on values the caller
// already holds, which is what keeps the engine deterministic and testable
// without a database.
//
// All type-specific behavior hangs off the Registry. Code outside this file
// never switches on a field kind: it asks the registry for the kind's
// Descriptor and dispatches through it. Adding a field type means
// registering one Descriptor, not editing every consumer.
package forms

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownFieldType is returned when a configuration names a field type
// the registry has no descriptor for.
var ErrUnknownFieldType = errors.New("unknown field type")

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

// Kind identifies a field type on the wire. The set is closed: a
// configuration naming anything else fails validation.
type Kind string

const (
	KindText                      Kind = "text"
	KindNumber                    Kind = "number"
	KindDate                      Kind = "date"
	KindSingleSelect              Kind = "single-select"
	KindCascadingSelect           Kind = "cascading-select"
	KindCheckboxGroup             Kind = "checkbox-group"
	KindCheckboxGroupWithSeverity Kind = "checkbox-group-with-severity"
	KindRadio                     Kind = "radio"
	KindFreeText                  Kind = "free-text"
)

// ValueShape classifies the canonical value a kind produces. Scalar shapes
// may be referenced by show_when conditions; map shapes may not.
type ValueShape string

const (
	ValueShapeString    ValueShape = "string"
	ValueShapeNumber    ValueShape = "number"
	ValueShapeOptionMap ValueShape = "option-map"
	ValueShapeStepMap   ValueShape = "step-map"
)

// Scalar reports whether the shape is a single comparable value.
func (s ValueShape) Scalar() bool {
	return s == ValueShapeString || s == ValueShapeNumber
}

// ---------------------------------------------------------------------------
// Descriptor
// ---------------------------------------------------------------------------

// Descriptor bundles everything the engine needs to know about one field
// type. The four function members are the extension points the validator,
// the compiler and the transformer dispatch through.
type Descriptor struct {
	// Kind is the wire name.
	Kind Kind

	// ValueShape classifies the canonical value.
	ValueShape ValueShape

	// ValidateConfig runs the type-specific structural checks for one
	// field (payload presence and shape, option uniqueness, severity
	// scale coherence, cascade step ordering). Cross-field checks live in
	// Registry.ValidateConfiguration.
	ValidateConfig func(sectionID string, f *Field) []ConfigurationError

	// RawKeys lists every flat submission key the field can legally
	// produce. The compiler uses the union to detect key collisions and
	// to attribute unrecognized keys.
	RawKeys func(f *Field) []string

	// NewChecker builds the submission checker for one configured field.
	NewChecker func(f *Field) Checker

	// Decode parses one stored canonical value back into its typed form.
	Decode func(f *Field, raw []byte) (Value, error)

	// Flatten writes the flat UI representation of one canonical value.
	Flatten func(f *Field, v Value, out map[string]any)
}

// Checker validates one field's portion of a flat raw submission.
type Checker interface {
	// Present reports whether the raw payload carries any answer for the
	// field. Absent optional fields are skipped entirely; absent required
	// fields fail with a single required_field_missing error.
	Present(raw map[string]any) bool

	// Check validates the field's answer and returns its canonical value.
	// All problems are reported, not just the first. The value is only
	// meaningful when the error slice is empty.
	Check(raw map[string]any) (Value, []FieldError)
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps field kinds to their descriptors. The zero value is not
// usable; NewRegistry returns one preloaded with the built-in types.
type Registry struct {
	mu    sync.RWMutex
	kinds map[Kind]Descriptor
}

// NewRegistry returns a registry carrying the nine built-in field types.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[Kind]Descriptor)}
	for _, d := range builtinDescriptors() {
		if err := r.Register(d); err != nil {
			// Built-ins are wired at compile time; a duplicate here is a
			// programming error, not a runtime condition.
			panic(err)
		}
	}
	return r
}

// Register adds a descriptor. Registering an already-known kind is an
// error; types are replaced by deploying new code, not by re-registration.
func (r *Registry) Register(d Descriptor) error {
	if d.Kind == "" {
		return fmt.Errorf("field type kind is required")
	}
	if d.NewChecker == nil || d.ValidateConfig == nil || d.RawKeys == nil || d.Decode == nil || d.Flatten == nil {
		return fmt.Errorf("field type %s: descriptor is incomplete", d.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[d.Kind]; ok {
		return fmt.Errorf("field type %s is already registered", d.Kind)
	}
	r.kinds[d.Kind] = d
	return nil
}

// Describe returns the descriptor for a kind.
func (r *Registry) Describe(k Kind) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.kinds[k]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownFieldType, k)
	}
	return d, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---------------------------------------------------------------------------
// Built-in types
// ---------------------------------------------------------------------------

func builtinDescriptors() []Descriptor {
	return []Descriptor{
		{
			Kind:           KindText,
			ValueShape:     ValueShapeString,
			ValidateConfig: validateTextConfig,
			RawKeys:        scalarRawKeys,
			NewChecker:     newTextChecker,
			Decode:         decodeStringValue,
			Flatten:        flattenScalar,
		},
		{
			Kind:           KindFreeText,
			ValueShape:     ValueShapeString,
			ValidateConfig: validateTextConfig,
			RawKeys:        scalarRawKeys,
			NewChecker:     newTextChecker,
			Decode:         decodeStringValue,
			Flatten:        flattenScalar,
		},
		{
			Kind:           KindNumber,
			ValueShape:     ValueShapeNumber,
			ValidateConfig: validateNumberConfig,
			RawKeys:        scalarRawKeys,
			NewChecker:     newNumberChecker,
			Decode:         decodeNumberValue,
			Flatten:        flattenScalar,
		},
		{
			Kind:           KindDate,
			ValueShape:     ValueShapeString,
			ValidateConfig: validateDateConfig,
			RawKeys:        scalarRawKeys,
			NewChecker:     newDateChecker,
			Decode:         decodeStringValue,
			Flatten:        flattenScalar,
		},
		{
			Kind:           KindSingleSelect,
			ValueShape:     ValueShapeString,
			ValidateConfig: validateSelectConfig,
			RawKeys:        scalarRawKeys,
			NewChecker:     newSelectChecker,
			Decode:         decodeStringValue,
			Flatten:        flattenScalar,
		},
		{
			Kind:           KindRadio,
			ValueShape:     ValueShapeString,
			ValidateConfig: validateSelectConfig,
			RawKeys:        scalarRawKeys,
			NewChecker:     newSelectChecker,
			Decode:         decodeStringValue,
			Flatten:        flattenScalar,
		},
		{
			Kind:           KindCheckboxGroup,
			ValueShape:     ValueShapeOptionMap,
			ValidateConfig: validateCheckboxConfig,
			RawKeys:        checkboxRawKeys,
			NewChecker:     newCheckboxChecker,
			Decode:         decodeOptionsValue,
			Flatten:        flattenOptions,
		},
		{
			Kind:           KindCheckboxGroupWithSeverity,
			ValueShape:     ValueShapeOptionMap,
			ValidateConfig: validateCheckboxConfig,
			RawKeys:        checkboxRawKeys,
			NewChecker:     newCheckboxChecker,
			Decode:         decodeOptionsValue,
			Flatten:        flattenOptions,
		},
		{
			Kind:           KindCascadingSelect,
			ValueShape:     ValueShapeStepMap,
			ValidateConfig: validateCascadeConfig,
			RawKeys:        cascadeRawKeys,
			NewChecker:     newCascadeChecker,
			Decode:         decodeStepsValue,
			Flatten:        flattenSteps,
		},
	}
}

// severityKeySuffix joins a group option's flat key to its severity
// companion key, e.g. "symptoms_nausea" and "symptoms_nausea_severity".
const severityKeySuffix = "_severity"

// flatKey renders the flat submission key of one group option or cascade
// step: fieldId underscore component.
func flatKey(fieldID, component string) string {
	return fieldID + "_" + component
}

func scalarRawKeys(f *Field) []string {
	return []string{f.ID}
}

func checkboxRawKeys(f *Field) []string {
	if f.Checkbox == nil {
		return []string{}
	}
	keys := make([]string, 0, len(f.Checkbox.Options)*2)
	for _, opt := range f.Checkbox.Options {
		keys = append(keys, flatKey(f.ID, opt.Value))
		if opt.HasSeverity {
			keys = append(keys, flatKey(f.ID, opt.Value)+severityKeySuffix)
		}
	}
	return keys
}

func cascadeRawKeys(f *Field) []string {
	if f.Cascade == nil {
		return []string{}
	}
	keys := make([]string, 0, len(f.Cascade.Steps))
	for _, step := range f.Cascade.Steps {
		keys = append(keys, flatKey(f.ID, step.ID))
	}
	return keys
}
