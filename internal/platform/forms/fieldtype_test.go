package forms

import (
	"errors"
	"testing"
)

func TestNewRegistry_CarriesBuiltinKinds(t *testing.T) {
	r := NewRegistry()
	kinds := r.Kinds()
	if len(kinds) != 9 {
		t.Fatalf("expected 9 built-in kinds, got %d: %v", len(kinds), kinds)
	}
	for _, k := range []Kind{
		KindText, KindNumber, KindDate, KindSingleSelect, KindCascadingSelect,
		KindCheckboxGroup, KindCheckboxGroupWithSeverity, KindRadio, KindFreeText,
	} {
		if _, err := r.Describe(k); err != nil {
			t.Errorf("Describe(%s): %v", k, err)
		}
	}
}

func TestDescribe_UnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Describe("slider")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !errors.Is(err, ErrUnknownFieldType) {
		t.Errorf("expected ErrUnknownFieldType, got %v", err)
	}
}

func TestRegister_DuplicateKind(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(KindText)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(d); err == nil {
		t.Error("expected error registering an already-known kind")
	}
}

func TestRegister_IncompleteDescriptor(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Descriptor{Kind: "slider", ValueShape: ValueShapeNumber})
	if err == nil {
		t.Error("expected error for descriptor without function members")
	}
}

func TestRawKeys_CheckboxGroupWithSeverity(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(KindCheckboxGroupWithSeverity)
	if err != nil {
		t.Fatal(err)
	}
	f := &Field{
		ID:   "symptoms",
		Type: KindCheckboxGroupWithSeverity,
		Checkbox: &CheckboxConfig{
			Options: []Option{
				{Value: "noProblems", Label: "No problems", Exclusive: true},
				{Value: "nausea", Label: "Nausea", HasSeverity: true},
			},
			SeverityScale: &SeverityScale{Min: 1, Max: 4, Labels: []string{"mild", "moderate", "severe", "very severe"}},
		},
	}
	keys := d.RawKeys(f)
	want := []string{"symptoms_noProblems", "symptoms_nausea", "symptoms_nausea_severity"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("key %d: expected %q, got %q", i, k, keys[i])
		}
	}
}

func TestRawKeys_CascadingSelect(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(KindCascadingSelect)
	if err != nil {
		t.Fatal(err)
	}
	f := &Field{
		ID:   "treatment",
		Type: KindCascadingSelect,
		Cascade: &CascadeConfig{
			Steps: []CascadeStep{
				{ID: "category", Options: []CascadeOption{{Value: "chemo", Label: "Chemotherapy"}}},
				{ID: "protocol", DependsOn: "category", Options: []CascadeOption{{Value: "folfox", Label: "FOLFOX", ParentValue: "chemo"}}},
			},
		},
	}
	keys := d.RawKeys(f)
	if len(keys) != 2 || keys[0] != "treatment_category" || keys[1] != "treatment_protocol" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestValueShape_Scalar(t *testing.T) {
	if !ValueShapeString.Scalar() || !ValueShapeNumber.Scalar() {
		t.Error("string and number shapes should be scalar")
	}
	if ValueShapeOptionMap.Scalar() || ValueShapeStepMap.Scalar() {
		t.Error("map shapes should not be scalar")
	}
}
