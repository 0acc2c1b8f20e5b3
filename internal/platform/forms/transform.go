package forms

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrConfigurationVersionUnavailable signals that an answer record points
// at a configuration version that cannot be loaded. Records pin the exact
// version they were validated against; rendering them without it would be
// guesswork, so the caller gets this instead of a best-effort answer.
var ErrConfigurationVersionUnavailable = errors.New("configuration version unavailable")

// ---------------------------------------------------------------------------
// Canonical <-> stored
// ---------------------------------------------------------------------------

// Normalize deep-copies canonical values so a stored record never shares
// maps with the submission that produced it.
func Normalize(vals Values) Values {
	out := make(Values, len(vals))
	for id, v := range vals {
		out[id] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	var out Value
	if v.Str != nil {
		s := *v.Str
		out.Str = &s
	}
	if v.Num != nil {
		n := *v.Num
		out.Num = &n
	}
	if v.Options != nil {
		out.Options = make(map[string]OptionSelection, len(v.Options))
		for k, sel := range v.Options {
			cp := OptionSelection{Selected: sel.Selected}
			if sel.Severity != nil {
				sev := *sel.Severity
				cp.Severity = &sev
			}
			out.Options[k] = cp
		}
	}
	if v.Steps != nil {
		out.Steps = make(map[string]string, len(v.Steps))
		for k, s := range v.Steps {
			out.Steps[k] = s
		}
	}
	return out
}

// DecodeValues parses a stored canonical value document back into typed
// values, interpreting each member through the pinned configuration. The
// legacy answer bag, when present, is returned raw for the denormalizer. A
// value keyed by a field the configuration does not know is corruption, not
// drift: versions are immutable, so the pinned version always describes
// exactly what was stored against it.
func (r *Registry) DecodeValues(cfg *Configuration, data []byte) (Values, json.RawMessage, error) {
	var stored map[string]json.RawMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, nil, fmt.Errorf("decode stored values: %w", err)
	}

	vals := make(Values, len(stored))
	var bag json.RawMessage
	for key, raw := range stored {
		if key == LegacyBagKey {
			bag = raw
			continue
		}
		f := cfg.FieldByID(key)
		if f == nil {
			return nil, nil, fmt.Errorf("stored value for field %q unknown to configuration %s v%d", key, cfg.FormKind, cfg.Version)
		}
		desc, err := r.Describe(f.Type)
		if err != nil {
			return nil, nil, err
		}
		v, err := desc.Decode(f, raw)
		if err != nil {
			return nil, nil, err
		}
		vals[key] = v
	}
	return vals, bag, nil
}

// Denormalize renders canonical values back into the flat shape the form
// renderer consumes, walking the pinned configuration in document order.
// When a legacy answer bag is present its entries fill in fields that have
// no canonical value; a canonical value always wins over the bag.
func (r *Registry) Denormalize(cfg *Configuration, vals Values, bag json.RawMessage) (map[string]any, error) {
	out := make(map[string]any)
	for _, ff := range cfg.FlatFields() {
		f := ff.Field
		v, ok := vals[f.ID]
		if !ok {
			continue
		}
		desc, err := r.Describe(f.Type)
		if err != nil {
			return nil, err
		}
		desc.Flatten(f, v, out)
	}
	if len(bag) > 0 {
		if err := flattenLegacyBag(cfg, vals, bag, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Per-type decode and flatten
// ---------------------------------------------------------------------------

func decodeStringValue(f *Field, raw []byte) (Value, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Value{}, fmt.Errorf("field %s: %w", f.ID, err)
	}
	return StringValue(s), nil
}

func decodeNumberValue(f *Field, raw []byte) (Value, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return Value{}, fmt.Errorf("field %s: %w", f.ID, err)
	}
	return NumberValue(n), nil
}

func decodeOptionsValue(f *Field, raw []byte) (Value, error) {
	var opts map[string]OptionSelection
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Value{}, fmt.Errorf("field %s: %w", f.ID, err)
	}
	return OptionsValue(opts), nil
}

func decodeStepsValue(f *Field, raw []byte) (Value, error) {
	var steps map[string]string
	if err := json.Unmarshal(raw, &steps); err != nil {
		return Value{}, fmt.Errorf("field %s: %w", f.ID, err)
	}
	return StepsValue(steps), nil
}

func flattenScalar(f *Field, v Value, out map[string]any) {
	switch {
	case v.Str != nil:
		out[f.ID] = *v.Str
	case v.Num != nil:
		out[f.ID] = *v.Num
	}
}

func flattenOptions(f *Field, v Value, out map[string]any) {
	for value, sel := range v.Options {
		if !sel.Selected {
			continue
		}
		out[flatKey(f.ID, value)] = true
		if sel.Severity != nil {
			out[flatKey(f.ID, value)+severityKeySuffix] = *sel.Severity
		}
	}
}

func flattenSteps(f *Field, v Value, out map[string]any) {
	for stepID, val := range v.Steps {
		out[flatKey(f.ID, stepID)] = val
	}
}

// ---------------------------------------------------------------------------
// Legacy answer bag
// ---------------------------------------------------------------------------

// LegacyBagKey is the reserved values key under which records written by
// the pre-canonical mobile client keep their original free-form answer bag.
// New records never write it; it survives read-side until the last bagged
// record ages out of retention.
const LegacyBagKey = "legacy_bag"

// Field ids the bag members map onto. The mapping is fixed: the old client
// only ever wrote these four members, and the fields they correspond to are
// stable across every configuration that predates canonical storage.
const (
	legacyStageField    = "treatmentStage"
	legacyDetailsField  = "detailsIfAdvanced"
	legacyProblemsField = "currentProblems"
)

type legacyBag struct {
	Stage             string         `json:"stage,omitempty"`
	StageDetails      string         `json:"stageDetails,omitempty"`
	Problems          []string       `json:"problems,omitempty"`
	ProblemSeverities map[string]int `json:"problemSeverities,omitempty"`
}

func flattenLegacyBag(cfg *Configuration, vals Values, bag json.RawMessage, out map[string]any) error {
	var b legacyBag
	if err := json.Unmarshal(bag, &b); err != nil {
		return fmt.Errorf("decode legacy answer bag: %w", err)
	}

	putLegacyScalar(cfg, vals, out, legacyStageField, b.Stage)
	putLegacyScalar(cfg, vals, out, legacyDetailsField, b.StageDetails)

	if len(b.Problems) == 0 {
		return nil
	}
	if cfg.FieldByID(legacyProblemsField) == nil {
		return nil
	}
	if _, canonical := vals[legacyProblemsField]; canonical {
		return nil
	}
	for _, p := range b.Problems {
		out[flatKey(legacyProblemsField, p)] = true
		if sev, ok := b.ProblemSeverities[p]; ok {
			out[flatKey(legacyProblemsField, p)+severityKeySuffix] = sev
		}
	}
	return nil
}

// putLegacyScalar fills one scalar from the bag unless the pinned
// configuration lacks the field or a canonical value already covers it.
func putLegacyScalar(cfg *Configuration, vals Values, out map[string]any, fieldID, value string) {
	if value == "" {
		return
	}
	if cfg.FieldByID(fieldID) == nil {
		return
	}
	if _, canonical := vals[fieldID]; canonical {
		return
	}
	out[fieldID] = value
}
