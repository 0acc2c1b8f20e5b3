package formconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/platform/forms"
)

func TestResolver_ExplicitAssignmentWins(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()
	env.teams.teams[teamID] = &Team{ID: teamID, Name: "Oncology Ward", Specialty: "oncology"}

	specialty := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Specialty: "oncology", Sections: vitalsSections(),
	})
	env.mustActivate(t, specialty.ID)

	assigned := env.mustCreate(t, &CreateConfigurationRequest{
		OwnerTeamID: &teamID, FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, assigned.ID)
	if _, err := env.svc.AssignToTeam(context.Background(), teamID, "baseline_assessment", assigned.ID, "admin-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != assigned.ID {
		t.Errorf("expected assigned configuration, got %s", cfg.ID)
	}
}

func TestResolver_FallsBackToSpecialtyDefault(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()
	env.teams.teams[teamID] = &Team{ID: teamID, Name: "Oncology Ward", Specialty: "oncology"}

	generic := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, generic.ID)

	specialty := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Specialty: "oncology", Sections: vitalsSections(),
	})
	env.mustActivate(t, specialty.ID)

	cfg, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != specialty.ID {
		t.Errorf("expected specialty default, got %s", cfg.ID)
	}
}

func TestResolver_FallsBackToSystemDefault(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()
	env.teams.teams[teamID] = &Team{ID: teamID, Name: "General Ward", Specialty: "cardiology"}

	generic := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, generic.ID)

	// No cardiology default exists; the generic one applies.
	cfg, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != generic.ID {
		t.Errorf("expected system default, got %s", cfg.ID)
	}
}

func TestResolver_UnknownTeamGetsSystemDefault(t *testing.T) {
	env := newTestEnv()

	generic := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, generic.ID)

	cfg, err := env.resolver.ResolveCurrent(context.Background(), uuid.New(), "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != generic.ID {
		t.Errorf("expected system default, got %s", cfg.ID)
	}
}

func TestResolver_NoConfiguration(t *testing.T) {
	env := newTestEnv()

	_, err := env.resolver.ResolveCurrent(context.Background(), uuid.New(), "baseline_assessment")
	if !errors.Is(err, ErrNoConfiguration) {
		t.Errorf("expected ErrNoConfiguration, got %v", err)
	}
}

func TestResolver_SkipsDemotedAssignment(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()
	env.teams.teams[teamID] = &Team{ID: teamID, Name: "North Clinic"}

	assigned := env.mustCreate(t, &CreateConfigurationRequest{
		OwnerTeamID: &teamID, FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, assigned.ID)
	if _, err := env.svc.AssignToTeam(context.Background(), teamID, "baseline_assessment", assigned.ID, "admin-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Deactivate(context.Background(), assigned.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	generic := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, generic.ID)

	cfg, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != generic.ID {
		t.Errorf("expected fallback past the demoted assignment, got %s", cfg.ID)
	}
}

func TestResolver_CachesResult(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()

	generic := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, generic.ID)

	first, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Demote behind the resolver's back; the cached resolution must still
	// be served until invalidation or expiry.
	env.repo.cfgs[generic.ID].Status = forms.StatusInactive

	second, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected cached configuration")
	}
	if got := env.tel.GetGauge("cache.resolver.hits"); got != 1 {
		t.Errorf("expected 1 cache hit, got %d", got)
	}
	if got := env.tel.GetGauge("cache.resolver.misses"); got != 1 {
		t.Errorf("expected 1 cache miss, got %d", got)
	}
}

func TestResolver_ActivationInvalidatesCache(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()

	v1 := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, v1.ID)

	got, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}

	v2 := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, v2.ID)

	got, err = env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2 after activation flushed the cache, got %d", got.Version)
	}
}

func TestResolver_AssignmentInvalidatesCache(t *testing.T) {
	env := newTestEnv()
	teamID := uuid.New()
	env.teams.teams[teamID] = &Team{ID: teamID, Name: "North Clinic"}

	generic := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, generic.ID)

	if _, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	own := env.mustCreate(t, &CreateConfigurationRequest{
		OwnerTeamID: &teamID, FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, own.ID)
	if _, err := env.svc.AssignToTeam(context.Background(), teamID, "baseline_assessment", own.ID, "admin-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := env.resolver.ResolveCurrent(context.Background(), teamID, "baseline_assessment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != own.ID {
		t.Errorf("expected newly assigned configuration, got %s", cfg.ID)
	}
}

func TestResolver_ResolveVersionIgnoresStatus(t *testing.T) {
	env := newTestEnv()

	v1 := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, v1.ID)
	v2 := env.mustCreate(t, &CreateConfigurationRequest{
		FormKind: "baseline_assessment", Sections: vitalsSections(),
	})
	env.mustActivate(t, v2.ID)

	// v1 is demoted now, but records pinned to it must still reach it.
	cfg, err := env.resolver.ResolveVersion(context.Background(), nil, "baseline_assessment", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != v1.ID {
		t.Errorf("expected version 1, got version %d", cfg.Version)
	}

	if _, err := env.resolver.ResolveVersion(context.Background(), nil, "baseline_assessment", 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing version, got %v", err)
	}
}
