// Package submission owns answer records: clinician-submitted form answers
// validated against and pinned to one immutable configuration version. The
// pin is what keeps a record interpretable after the team's current
// configuration moves on, and it is why records are soft-deleted and
// retained rather than dropped.
package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
)

// AnswerRecord is one stored submission. Values holds the canonical answer
// map serialized as JSON, decodable only against the pinned configuration
// version. SubjectID is an opaque external identifier; subjects live in an
// upstream system of record and are never joined locally.
type AnswerRecord struct {
	ID                   uuid.UUID       `json:"id"`
	SubjectID            string          `json:"subject_id"`
	TeamID               uuid.UUID       `json:"team_id"`
	ConfigurationID      uuid.UUID       `json:"configuration_id"`
	ConfigurationVersion int             `json:"configuration_version"`
	Values               json.RawMessage `json:"values"`
	SubmittedBy          string          `json:"submitted_by,omitempty"`
	SubmittedAt          time.Time       `json:"submitted_at"`
	DeletedAt            *time.Time      `json:"deleted_at,omitempty"`
	DeletedBy            string          `json:"deleted_by,omitempty"`
	DeletionReason       string          `json:"deletion_reason,omitempty"`
	RetentionUntil       *time.Time      `json:"retention_until,omitempty"`
}

// SubmitRequest is the submission payload. Answers carries the raw
// flattened form data exactly as the client collected it; the service
// validates it against the team's current configuration before anything is
// stored.
type SubmitRequest struct {
	TeamID    uuid.UUID      `json:"team_id" validate:"required"`
	SubjectID string         `json:"subject_id" validate:"required"`
	FormKind  string         `json:"form_kind" validate:"required"`
	Answers   map[string]any `json:"answers" validate:"required"`
}

// DeleteRequest carries the optional audit reason for a soft delete.
type DeleteRequest struct {
	Reason string `json:"reason"`
}

// AnswerSet is a stored record expanded back to the flattened UI form shape
// against its pinned configuration version, ready for an edit form.
type AnswerSet struct {
	SubmissionID         uuid.UUID      `json:"submission_id"`
	SubjectID            string         `json:"subject_id"`
	FormKind             string         `json:"form_kind"`
	ConfigurationID      uuid.UUID      `json:"configuration_id"`
	ConfigurationVersion int            `json:"configuration_version"`
	Answers              map[string]any `json:"answers"`
}

// SummaryReport aggregates a team's answer records for one form kind over
// the team's current configuration version. Fields appear in configuration
// order so two identical datasets always render the same report.
type SummaryReport struct {
	FormKind             string         `json:"form_kind"`
	TeamID               uuid.UUID      `json:"team_id"`
	ConfigurationID      uuid.UUID      `json:"configuration_id"`
	ConfigurationVersion int            `json:"configuration_version"`
	Submissions          int            `json:"submissions"`
	Fields               []FieldSummary `json:"fields"`
}

// FieldSummary is the aggregate for one field. Options is populated for
// option-bearing kinds only, in declared option order.
type FieldSummary struct {
	FieldID  string          `json:"field_id"`
	Label    string          `json:"label"`
	Type     forms.Kind      `json:"type"`
	Answered int             `json:"answered"`
	Options  []OptionSummary `json:"options,omitempty"`
}

// OptionSummary counts selections of one option. The severity aggregates
// are present only for options that recorded at least one severity rating.
type OptionSummary struct {
	Value       string   `json:"value"`
	Label       string   `json:"label"`
	Selected    int      `json:"selected"`
	SeverityMin *int     `json:"severity_min,omitempty"`
	SeverityMax *int     `json:"severity_max,omitempty"`
	SeverityAvg *float64 `json:"severity_avg,omitempty"`
}
