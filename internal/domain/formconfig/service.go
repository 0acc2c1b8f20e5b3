package formconfig

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
	"github.com/clinform/clinform/internal/platform/telemetry"
)

type Service struct {
	repo        Repository
	assignments AssignmentRepository
	teams       TeamDirectory
	resolver    *Resolver
	registry    *forms.Registry
	tel         *telemetry.TelemetryProvider
}

func NewService(repo Repository, assignments AssignmentRepository, teams TeamDirectory, resolver *Resolver, registry *forms.Registry, tel *telemetry.TelemetryProvider) *Service {
	return &Service{
		repo:        repo,
		assignments: assignments,
		teams:       teams,
		resolver:    resolver,
		registry:    registry,
		tel:         tel,
	}
}

// CreateConfiguration stores a new draft version. A configuration that fails
// engine validation is returned as the ValidationResult and never stored;
// structural problems are surfaced whole, not repaired.
func (s *Service) CreateConfiguration(ctx context.Context, req *CreateConfigurationRequest, createdBy string) (*forms.Configuration, *forms.ValidationResult, error) {
	if req.FormKind == "" {
		return nil, nil, fmt.Errorf("form_kind is required")
	}
	if len(req.Sections) == 0 {
		return nil, nil, fmt.Errorf("at least one section is required")
	}
	cfg := req.Configuration(createdBy)
	if res := s.registry.ValidateConfiguration(cfg); !res.Valid {
		return nil, res, nil
	}
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, nil, err
	}
	s.tel.FormOperationCounter("form-configurations", "create")
	return cfg, nil, nil
}

func (s *Service) GetConfiguration(ctx context.Context, id uuid.UUID) (*forms.Configuration, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListConfigurations(ctx context.Context, filter ListFilter, limit, offset int) ([]*forms.Configuration, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// ListVersions returns the whole lineage of the named configuration, newest
// first.
func (s *Service) ListVersions(ctx context.Context, id uuid.UUID) ([]*forms.Configuration, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, cfg.OwnerTeamID, cfg.FormKind)
}

// Activate re-validates the version and promotes it, demoting the previously
// active version of its scope in the same statement. A failing configuration
// is never activated; the prior active version stays in force and the
// ValidationResult reports why.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*forms.Configuration, *forms.ValidationResult, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Status == forms.StatusActive {
		return cfg, nil, nil
	}
	if res := s.registry.ValidateConfiguration(cfg); !res.Valid {
		return nil, res, nil
	}
	if err := s.repo.Activate(ctx, cfg); err != nil {
		return nil, nil, err
	}
	cfg.Status = forms.StatusActive
	// Stale resolutions age out at the cache TTL if the flush fails.
	_ = s.resolver.Invalidate(ctx)
	s.refreshActiveGauge(ctx)
	s.tel.FormOperationCounter("form-configurations", "activate")
	return cfg, nil, nil
}

// Deactivate retires a version. Rows are never deleted, so records pinned to
// this version keep decoding against it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*forms.Configuration, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.Status == forms.StatusInactive {
		return cfg, nil
	}
	if err := s.repo.UpdateStatus(ctx, id, forms.StatusInactive); err != nil {
		return nil, err
	}
	cfg.Status = forms.StatusInactive
	_ = s.resolver.Invalidate(ctx)
	s.refreshActiveGauge(ctx)
	s.tel.FormOperationCounter("form-configurations", "deactivate")
	return cfg, nil
}

// AssignToTeam swaps the team's current pointer to a specific active
// configuration. The upsert is atomic; concurrent reassignments land
// last-writer-wins.
func (s *Service) AssignToTeam(ctx context.Context, teamID uuid.UUID, formKind string, configurationID uuid.UUID, assignedBy string) (*Assignment, error) {
	if formKind == "" {
		return nil, fmt.Errorf("form_kind is required")
	}
	if _, err := s.teams.GetTeam(ctx, teamID); err != nil {
		return nil, fmt.Errorf("team %s: %w", teamID, err)
	}
	cfg, err := s.repo.GetByID(ctx, configurationID)
	if err != nil {
		return nil, fmt.Errorf("configuration %s: %w", configurationID, err)
	}
	if cfg.FormKind != formKind {
		return nil, fmt.Errorf("configuration %s is for form kind %q, not %q", configurationID, cfg.FormKind, formKind)
	}
	if cfg.Status != forms.StatusActive {
		return nil, fmt.Errorf("only an active configuration can be assigned")
	}
	a := &Assignment{
		TeamID:          teamID,
		FormKind:        formKind,
		ConfigurationID: configurationID,
		AssignedBy:      assignedBy,
	}
	if err := s.assignments.Upsert(ctx, a); err != nil {
		return nil, err
	}
	_ = s.resolver.Invalidate(ctx)
	s.tel.FormOperationCounter("form-assignments", "assign")
	return a, nil
}

// Unassign drops the explicit assignment so resolution falls back to the
// defaults.
func (s *Service) Unassign(ctx context.Context, teamID uuid.UUID, formKind string) error {
	if err := s.assignments.Delete(ctx, teamID, formKind); err != nil {
		return err
	}
	_ = s.resolver.Invalidate(ctx)
	s.tel.FormOperationCounter("form-assignments", "unassign")
	return nil
}

// ResolveCurrent is what a form renderer calls before displaying a form.
func (s *Service) ResolveCurrent(ctx context.Context, teamID uuid.UUID, formKind string) (*forms.Configuration, error) {
	return s.resolver.ResolveCurrent(ctx, teamID, formKind)
}

func (s *Service) refreshActiveGauge(ctx context.Context) {
	if n, err := s.repo.CountActive(ctx); err == nil {
		s.tel.HealthMetrics().SetActiveConfigurations(n)
	}
}
