package formconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/cache"
	"github.com/clinform/clinform/internal/platform/db"
	"github.com/clinform/clinform/internal/platform/forms"
	"github.com/clinform/clinform/internal/platform/telemetry"
)

// Resolver answers "which configuration does this team submit against right
// now". Resolution falls through three tiers: explicit assignment, active
// platform default matching the team's specialty, active generic platform
// default. It never hands out a non-active row; records pinned to older
// versions go through ResolveVersion or ResolveByID instead, which are exact
// lookups with no fallback and no status filter.
type Resolver struct {
	repo        Repository
	assignments AssignmentRepository
	teams       TeamDirectory
	store       cache.Store
	ttl         time.Duration
	tel         *telemetry.TelemetryProvider
}

func NewResolver(repo Repository, assignments AssignmentRepository, teams TeamDirectory, store cache.Store, ttl time.Duration, tel *telemetry.TelemetryProvider) *Resolver {
	return &Resolver{
		repo:        repo,
		assignments: assignments,
		teams:       teams,
		store:       store,
		ttl:         ttl,
		tel:         tel,
	}
}

const resolveKeyPrefix = "resolve:"

func resolveKey(tenant string, teamID uuid.UUID, formKind string) string {
	return resolveKeyPrefix + tenant + ":" + teamID.String() + ":" + formKind
}

// ResolveCurrent returns the configuration the team submits against now,
// from cache when possible. Returns ErrNoConfiguration when all three tiers
// miss.
func (r *Resolver) ResolveCurrent(ctx context.Context, teamID uuid.UUID, formKind string) (*forms.Configuration, error) {
	key := resolveKey(db.TenantFromContext(ctx), teamID, formKind)
	if data, ok, err := r.store.Get(ctx, key); err == nil && ok {
		var cfg forms.Configuration
		if err := json.Unmarshal(data, &cfg); err == nil {
			r.tel.CacheHit()
			return &cfg, nil
		}
	}
	r.tel.CacheMiss()

	cfg, err := r.lookup(ctx, teamID, formKind)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cfg); err == nil {
		_ = r.store.Set(ctx, key, data, r.ttl)
	}
	return cfg, nil
}

func (r *Resolver) lookup(ctx context.Context, teamID uuid.UUID, formKind string) (*forms.Configuration, error) {
	// Explicit assignment. An assignment pointing at a since-demoted
	// version falls through to the defaults rather than surfacing it.
	a, err := r.assignments.Get(ctx, teamID, formKind)
	switch {
	case err == nil:
		cfg, err := r.repo.GetByID(ctx, a.ConfigurationID)
		if err == nil && cfg.Status == forms.StatusActive {
			return cfg, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	// Specialty default. A team missing from the directory has no
	// specialty and skips straight to the generic default.
	team, err := r.teams.GetTeam(ctx, teamID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if team != nil && team.Specialty != "" {
		cfg, err := r.repo.ActiveBySpecialty(ctx, formKind, team.Specialty)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	// Generic platform default.
	cfg, err := r.repo.ActiveDefault(ctx, formKind)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoConfiguration
	}
	return nil, err
}

// ResolveVersion is the exact versioned lookup used to reinterpret stored
// answer records. Any status, no fallback chain.
func (r *Resolver) ResolveVersion(ctx context.Context, ownerTeamID *uuid.UUID, formKind string, version int) (*forms.Configuration, error) {
	return r.repo.GetVersion(ctx, ownerTeamID, formKind, version)
}

// ResolveByID fetches one configuration row regardless of status.
func (r *Resolver) ResolveByID(ctx context.Context, id uuid.UUID) (*forms.Configuration, error) {
	return r.repo.GetByID(ctx, id)
}

// Invalidate drops every cached resolution for the request's tenant. A
// default activation affects an unknown set of teams, so the whole prefix
// goes rather than individual keys.
func (r *Resolver) Invalidate(ctx context.Context) error {
	return r.store.DeletePrefix(ctx, resolveKeyPrefix+db.TenantFromContext(ctx)+":")
}
