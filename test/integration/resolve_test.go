package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/domain/formconfig"
	"github.com/clinform/clinform/internal/platform/cache"
	"github.com/clinform/clinform/internal/platform/db"
	"github.com/clinform/clinform/internal/platform/forms"
)

func TestResolveCurrent(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("resolve")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	pool := globalDB.Pool
	repo := formconfig.NewRepo(pool)
	assignments := formconfig.NewAssignmentRepo(pool)
	teams := formconfig.NewTeamDirectory(pool)
	tel := newTelemetry(t)
	store := cache.NewMemoryStore()
	resolver := formconfig.NewResolver(repo, assignments, teams, store, time.Minute, tel)

	team := createTestTeam(t, ctx, tenantID, "ICU East", "icu")

	resolve := func(teamID uuid.UUID, formKind string) (*forms.Configuration, error) {
		var cfg *forms.Configuration
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			cfg, err = resolver.ResolveCurrent(ctx, teamID, formKind)
			return err
		})
		return cfg, err
	}

	assign := func(t *testing.T, teamID uuid.UUID, formKind string, cfgID uuid.UUID) {
		t.Helper()
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return assignments.Upsert(ctx, &formconfig.Assignment{
				TeamID:          teamID,
				FormKind:        formKind,
				ConfigurationID: cfgID,
				AssignedBy:      "integration",
			})
		})
		if err != nil {
			t.Fatalf("Upsert assignment: %v", err)
		}
	}

	demote := func(t *testing.T, id uuid.UUID) {
		t.Helper()
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return repo.UpdateStatus(ctx, id, forms.StatusInactive)
		})
		if err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
	}

	t.Run("ExplicitAssignmentWins", func(t *testing.T) {
		createActiveDefault(t, ctx, tenantID, "rounding_note", "", vitalsSections())
		pinned := createTestConfiguration(t, ctx, tenantID, &team.ID, "rounding_note", "", vitalsSections())
		activateConfiguration(t, ctx, tenantID, pinned)
		assign(t, team.ID, "rounding_note", pinned.ID)

		got, err := resolve(team.ID, "rounding_note")
		if err != nil {
			t.Fatalf("ResolveCurrent: %v", err)
		}
		if got.ID != pinned.ID {
			t.Errorf("resolved %s, want the assigned %s", got.ID, pinned.ID)
		}
	})

	t.Run("SpecialtyDefaultWhenUnassigned", func(t *testing.T) {
		createActiveDefault(t, ctx, tenantID, "sedation_scale", "", vitalsSections())
		icu := createActiveDefault(t, ctx, tenantID, "sedation_scale", "icu", vitalsSections())

		got, err := resolve(team.ID, "sedation_scale")
		if err != nil {
			t.Fatalf("ResolveCurrent: %v", err)
		}
		if got.ID != icu.ID {
			t.Errorf("resolved %s, want the icu default %s", got.ID, icu.ID)
		}
	})

	t.Run("GenericDefaultWhenNoSpecialtyMatch", func(t *testing.T) {
		generic := createActiveDefault(t, ctx, tenantID, "fall_risk", "", vitalsSections())

		got, err := resolve(team.ID, "fall_risk")
		if err != nil {
			t.Fatalf("ResolveCurrent: %v", err)
		}
		if got.ID != generic.ID {
			t.Errorf("resolved %s, want the generic default %s", got.ID, generic.ID)
		}
	})

	t.Run("GenericDefaultForUnknownTeam", func(t *testing.T) {
		generic := createActiveDefault(t, ctx, tenantID, "visitor_log", "", vitalsSections())

		got, err := resolve(uuid.New(), "visitor_log")
		if err != nil {
			t.Fatalf("ResolveCurrent: %v", err)
		}
		if got.ID != generic.ID {
			t.Errorf("resolved %s, want the generic default %s", got.ID, generic.ID)
		}
	})

	t.Run("NoConfiguration", func(t *testing.T) {
		_, err := resolve(team.ID, "never_configured")
		if !errors.Is(err, formconfig.ErrNoConfiguration) {
			t.Errorf("expected ErrNoConfiguration, got %v", err)
		}
	})

	t.Run("AssignmentToDemotedVersionFallsThrough", func(t *testing.T) {
		generic := createActiveDefault(t, ctx, tenantID, "pain_scale", "", vitalsSections())
		pinned := createTestConfiguration(t, ctx, tenantID, &team.ID, "pain_scale", "", vitalsSections())
		activateConfiguration(t, ctx, tenantID, pinned)
		assign(t, team.ID, "pain_scale", pinned.ID)
		demote(t, pinned.ID)

		got, err := resolve(team.ID, "pain_scale")
		if err != nil {
			t.Fatalf("ResolveCurrent: %v", err)
		}
		if got.ID != generic.ID {
			t.Errorf("resolved %s for a dangling assignment, want the default %s", got.ID, generic.ID)
		}
	})

	t.Run("CachedResolutionServedUntilInvalidated", func(t *testing.T) {
		generic := createActiveDefault(t, ctx, tenantID, "handover_note", "", vitalsSections())

		got, err := resolve(team.ID, "handover_note")
		if err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		if got.ID != generic.ID {
			t.Fatalf("resolved %s, want %s", got.ID, generic.ID)
		}

		// Demote past the service so nothing flushes the cache.
		demote(t, generic.ID)

		hitsBefore := tel.GetGauge("cache.resolver.hits")
		got, err = resolve(team.ID, "handover_note")
		if err != nil {
			t.Fatalf("cached resolve: %v", err)
		}
		if got.ID != generic.ID {
			t.Errorf("resolved %s from cache, want %s", got.ID, generic.ID)
		}
		if hits := tel.GetGauge("cache.resolver.hits"); hits != hitsBefore+1 {
			t.Errorf("cache.resolver.hits = %d, want %d", hits, hitsBefore+1)
		}

		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return resolver.Invalidate(ctx)
		})
		if err != nil {
			t.Fatalf("Invalidate: %v", err)
		}

		if _, err := resolve(team.ID, "handover_note"); !errors.Is(err, formconfig.ErrNoConfiguration) {
			t.Errorf("expected ErrNoConfiguration after the flush, got %v", err)
		}
	})
}
