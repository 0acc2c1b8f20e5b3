package forms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Configuration statuses
// ---------------------------------------------------------------------------

const (
	// StatusDraft marks a version that has been created but never activated.
	StatusDraft = "draft"
	// StatusActive marks the single current version of a lineage.
	StatusActive = "active"
	// StatusInactive marks a retired version. Versions are never deleted.
	StatusInactive = "inactive"
)

// ---------------------------------------------------------------------------
// Configuration model
// ---------------------------------------------------------------------------

// Configuration is one immutable version of a form definition. A lineage is
// identified by (OwnerTeamID, FormKind); updates create a new version row
// rather than mutating an existing one, so answer records pinned to an older
// version keep their meaning after later activations.
type Configuration struct {
	ID          uuid.UUID  `json:"id"`
	OwnerTeamID *uuid.UUID `json:"owner_team_id,omitempty"` // nil = platform default
	FormKind    string     `json:"form_kind"`
	Version     int        `json:"version"`
	Status      string     `json:"status"`
	Sections    []Section  `json:"sections"`
	Metadata    Metadata   `json:"metadata"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by,omitempty"`
}

// Metadata carries descriptive attributes of a configuration version. The
// specialty tag is what the resolver matches against a team's specialty when
// no explicit assignment exists; it is only meaningful on platform defaults.
type Metadata struct {
	Specialty   string `json:"specialty,omitempty"`
	Description string `json:"description,omitempty"`
}

// Section is an ordered group of fields. Disabled sections remain part of
// the document (their field ids still count for uniqueness) but are neither
// rendered nor collected.
type Section struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Enabled bool    `json:"enabled"`
	Fields  []Field `json:"fields"`
}

// Field is one typed input unit. Type selects which payload pointer is set;
// a valid field has exactly the payload matching its type and no other.
type Field struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Type         Kind            `json:"type"`
	Required     bool            `json:"required"`
	HelpText     string          `json:"help_text,omitempty"`
	DefaultValue json.RawMessage `json:"default_value,omitempty"`
	ShowWhen     *ShowWhen       `json:"show_when,omitempty"`

	Text     *TextConfig     `json:"text,omitempty"`
	Number   *NumberConfig   `json:"number,omitempty"`
	Select   *SelectConfig   `json:"select,omitempty"`
	Cascade  *CascadeConfig  `json:"cascade,omitempty"`
	Checkbox *CheckboxConfig `json:"checkbox,omitempty"`
}

// ShowWhen declares conditional display: the field is shown only while the
// referenced earlier field currently equals the given value. A hidden field
// is never required and any submitted value for it is dropped.
type ShowWhen struct {
	FieldID string `json:"field_id"`
	Equals  string `json:"equals"`
}

// TextConfig bounds a text field. MaxLength counts runes; zero means
// unbounded.
type TextConfig struct {
	MaxLength int `json:"max_length,omitempty"`
}

// NumberConfig bounds a numeric field. Nil bounds are open.
type NumberConfig struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// SelectConfig lists the options of a single-select or radio field.
type SelectConfig struct {
	Options []Option `json:"options"`
}

// CheckboxConfig lists the options of a checkbox group. SeverityScale is
// required for checkbox-group-with-severity and forbidden otherwise.
type CheckboxConfig struct {
	Options       []Option       `json:"options"`
	SeverityScale *SeverityScale `json:"severity_scale,omitempty"`
}

// Option is one selectable value. Exclusive marks "none of the above"
// semantics: selecting it forbids every other option in the same group.
// HasSeverity is only meaningful inside a checkbox-group-with-severity.
type Option struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Exclusive   bool   `json:"exclusive,omitempty"`
	HasSeverity bool   `json:"has_severity,omitempty"`
}

// SeverityScale is an ordered set of integer-labeled intensity levels.
// Labels must carry exactly Max-Min+1 entries, one per level.
type SeverityScale struct {
	Min    int      `json:"min"`
	Max    int      `json:"max"`
	Labels []string `json:"labels"`
}

// CascadeConfig describes a cascading select as ordered steps. Every step
// after the first depends on an earlier step; an option of a dependent step
// is only legal while the parent step's answer equals its ParentValue.
type CascadeConfig struct {
	Steps []CascadeStep `json:"steps"`
}

// CascadeStep is one level of a cascading select. DependsOn is empty on the
// first step and names an earlier step id on every later one.
type CascadeStep struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	DependsOn string          `json:"depends_on,omitempty"`
	Options   []CascadeOption `json:"options"`
}

// CascadeOption is one selectable value of a cascade step. ParentValue is
// empty on first-step options and names the parent step value that reveals
// this option on dependent steps.
type CascadeOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	ParentValue string `json:"parent_value,omitempty"`
}

// ---------------------------------------------------------------------------
// Traversal helpers
// ---------------------------------------------------------------------------

// FlatField is a field paired with its section, in document order.
type FlatField struct {
	Section *Section
	Field   *Field
}

// FlatFields returns every field in section/field order, including fields of
// disabled sections. Ordering is what "earlier" means for dependency rules.
func (c *Configuration) FlatFields() []FlatField {
	var out []FlatField
	for si := range c.Sections {
		sec := &c.Sections[si]
		for fi := range sec.Fields {
			out = append(out, FlatField{Section: sec, Field: &sec.Fields[fi]})
		}
	}
	return out
}

// FieldByID returns the named field, or nil.
func (c *Configuration) FieldByID(id string) *Field {
	for si := range c.Sections {
		for fi := range c.Sections[si].Fields {
			if c.Sections[si].Fields[fi].ID == id {
				return &c.Sections[si].Fields[fi]
			}
		}
	}
	return nil
}

// LineageKey renders the (owner, form kind) pair that identifies a version
// lineage, with platform defaults rendered as "platform".
func (c *Configuration) LineageKey() string {
	owner := "platform"
	if c.OwnerTeamID != nil {
		owner = c.OwnerTeamID.String()
	}
	return owner + "/" + c.FormKind
}

// ---------------------------------------------------------------------------
// Canonical answer values
// ---------------------------------------------------------------------------

// Values is the canonical stored answer map, keyed by field id. Optional
// unanswered fields are absent, never present with a zero value.
type Values map[string]Value

// Value is the canonical answer for one field. Exactly one member is set,
// determined by the field's kind: Str for text, free-text, date,
// single-select and radio; Num for number; Options for checkbox groups;
// Steps for cascading selects.
type Value struct {
	Str     *string                    `json:"-"`
	Num     *float64                   `json:"-"`
	Options map[string]OptionSelection `json:"-"`
	Steps   map[string]string          `json:"-"`
}

// OptionSelection is the canonical state of one selected group option.
// Severity is set only for options that carry a severity rating.
type OptionSelection struct {
	Selected bool `json:"selected"`
	Severity *int `json:"severity,omitempty"`
}

// StringValue builds a canonical scalar string value.
func StringValue(s string) Value {
	return Value{Str: &s}
}

// NumberValue builds a canonical numeric value.
func NumberValue(f float64) Value {
	return Value{Num: &f}
}

// OptionsValue builds a canonical checkbox-group value.
func OptionsValue(opts map[string]OptionSelection) Value {
	return Value{Options: opts}
}

// StepsValue builds a canonical cascading-select value.
func StepsValue(steps map[string]string) Value {
	return Value{Steps: steps}
}

// MarshalJSON renders the one set member in its naked canonical shape:
// scalar string, number, {option: {selected, severity}} object, or
// {stepId: value} object. Decoding requires the pinned configuration and is
// done by Registry.DecodeValues.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Str != nil:
		return json.Marshal(*v.Str)
	case v.Num != nil:
		return json.Marshal(*v.Num)
	case v.Options != nil:
		return json.Marshal(v.Options)
	case v.Steps != nil:
		return json.Marshal(v.Steps)
	}
	return nil, fmt.Errorf("canonical value has no member set")
}
