package formconfig

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
)

// ErrNotFound is returned for lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrNoConfiguration is returned by the resolver when every fallback tier
// comes up empty for a (team, form kind) pair.
var ErrNoConfiguration = errors.New("no configuration available")

type Repository interface {
	Create(ctx context.Context, cfg *forms.Configuration) error
	GetByID(ctx context.Context, id uuid.UUID) (*forms.Configuration, error)
	GetVersion(ctx context.Context, ownerTeamID *uuid.UUID, formKind string, version int) (*forms.Configuration, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*forms.Configuration, int, error)
	ListVersions(ctx context.Context, ownerTeamID *uuid.UUID, formKind string) ([]*forms.Configuration, error)

	// Activation. Activate swaps the active row of the configuration's
	// activation scope in a single atomic statement.
	Activate(ctx context.Context, cfg *forms.Configuration) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	CountActive(ctx context.Context) (int64, error)

	// Resolver fallback tiers. Both return ErrNotFound when no active
	// platform default matches.
	ActiveBySpecialty(ctx context.Context, formKind, specialty string) (*forms.Configuration, error)
	ActiveDefault(ctx context.Context, formKind string) (*forms.Configuration, error)
}

type AssignmentRepository interface {
	Upsert(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, teamID uuid.UUID, formKind string) (*Assignment, error)
	Delete(ctx context.Context, teamID uuid.UUID, formKind string) error
}

// TeamDirectory is the read-only view of the externally managed teams table.
type TeamDirectory interface {
	GetTeam(ctx context.Context, id uuid.UUID) (*Team, error)
}
