// Package formconfig owns the administrative lifecycle of form
// configurations: draft creation, versioning, activation, team assignment,
// and the resolver that picks the configuration a team submits against.
package formconfig

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
)

// Team is the slice of the team directory this service reads: the specialty
// tag drives the resolver's second fallback tier. Team management itself
// lives outside this service.
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Assignment pins a team's current configuration for one form kind. There is
// at most one per (team, form kind); reassignment replaces it in place.
type Assignment struct {
	TeamID          uuid.UUID `json:"team_id"`
	FormKind        string    `json:"form_kind"`
	ConfigurationID uuid.UUID `json:"configuration_id"`
	AssignedBy      string    `json:"assigned_by,omitempty"`
	AssignedAt      time.Time `json:"assigned_at"`
}

// CreateConfigurationRequest is the administrative payload for a new draft
// version. The version number is never client-supplied; the repository
// assigns the next one in the lineage.
type CreateConfigurationRequest struct {
	OwnerTeamID *uuid.UUID      `json:"owner_team_id,omitempty"`
	FormKind    string          `json:"form_kind" validate:"required"`
	Specialty   string          `json:"specialty,omitempty"`
	Description string          `json:"description,omitempty"`
	Sections    []forms.Section `json:"sections" validate:"required,min=1"`
}

// Configuration builds the draft document the engine validates and the
// repository stores. Version starts at 1 so the draft passes document
// validation; the repository replaces it with the lineage's next number on
// insert.
func (req *CreateConfigurationRequest) Configuration(createdBy string) *forms.Configuration {
	return &forms.Configuration{
		OwnerTeamID: req.OwnerTeamID,
		FormKind:    req.FormKind,
		Version:     1,
		Status:      forms.StatusDraft,
		Sections:    req.Sections,
		Metadata: forms.Metadata{
			Specialty:   req.Specialty,
			Description: req.Description,
		},
		CreatedBy: createdBy,
	}
}

// AssignmentRequest names the configuration a team should be pinned to.
type AssignmentRequest struct {
	ConfigurationID uuid.UUID `json:"configuration_id" validate:"required"`
}

// ListFilter narrows configuration listings. Zero values mean "any".
type ListFilter struct {
	FormKind    string
	OwnerTeamID *uuid.UUID
	Status      string
}
