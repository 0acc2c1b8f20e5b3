package integration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/domain/formconfig"
	"github.com/clinform/clinform/internal/platform/cache"
	"github.com/clinform/clinform/internal/platform/db"
	"github.com/clinform/clinform/internal/platform/forms"
)

func TestConfigurationRepo(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("cfgrepo")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	pool := globalDB.Pool

	t.Run("Create", func(t *testing.T) {
		cfg := createTestConfiguration(t, ctx, tenantID, nil, "intake_create", "", vitalsSections())
		if cfg.ID == uuid.Nil {
			t.Error("expected generated id")
		}
		if cfg.Version != 1 {
			t.Errorf("expected version 1, got %d", cfg.Version)
		}
		if cfg.CreatedAt.IsZero() {
			t.Error("expected created_at from the database")
		}
	})

	t.Run("VersionsNumberPerLineage", func(t *testing.T) {
		team := createTestTeam(t, ctx, tenantID, "Lineage Team", "")

		p1 := createTestConfiguration(t, ctx, tenantID, nil, "intake_lineage", "", vitalsSections())
		p2 := createTestConfiguration(t, ctx, tenantID, nil, "intake_lineage", "", vitalsSections())
		tm := createTestConfiguration(t, ctx, tenantID, &team.ID, "intake_lineage", "", vitalsSections())

		if p1.Version != 1 || p2.Version != 2 {
			t.Errorf("expected platform versions 1 and 2, got %d and %d", p1.Version, p2.Version)
		}
		if tm.Version != 1 {
			t.Errorf("expected team lineage to number independently, got %d", tm.Version)
		}
	})

	t.Run("GetByID_RoundTripsDocument", func(t *testing.T) {
		created := createTestConfiguration(t, ctx, tenantID, nil, "intake_get", "cardiology", vitalsSections())

		var got *forms.Configuration
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			got, err = formconfig.NewRepo(pool).GetByID(ctx, created.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.FormKind != "intake_get" || got.Status != forms.StatusDraft {
			t.Errorf("got kind %q status %q", got.FormKind, got.Status)
		}
		if got.Metadata.Specialty != "cardiology" {
			t.Errorf("expected specialty cardiology, got %q", got.Metadata.Specialty)
		}
		if len(got.Sections) != 1 || len(got.Sections[0].Fields) != 3 {
			t.Errorf("sections did not round-trip: %+v", got.Sections)
		}
	})

	t.Run("GetByID_Missing", func(t *testing.T) {
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			_, err := formconfig.NewRepo(pool).GetByID(ctx, uuid.New())
			return err
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetVersion", func(t *testing.T) {
		v1 := createTestConfiguration(t, ctx, tenantID, nil, "intake_version", "", vitalsSections())
		createTestConfiguration(t, ctx, tenantID, nil, "intake_version", "", vitalsSections())

		var got *forms.Configuration
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			got, err = formconfig.NewRepo(pool).GetVersion(ctx, nil, "intake_version", 1)
			return err
		})
		if err != nil {
			t.Fatalf("GetVersion: %v", err)
		}
		if got.ID != v1.ID {
			t.Errorf("expected version 1 row %s, got %s", v1.ID, got.ID)
		}

		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			_, err := formconfig.NewRepo(pool).GetVersion(ctx, nil, "intake_version", 9)
			return err
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound for absent version, got %v", err)
		}
	})

	t.Run("ListVersions_NewestFirst", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			createTestConfiguration(t, ctx, tenantID, nil, "intake_history", "", vitalsSections())
		}

		var versions []*forms.Configuration
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			versions, err = formconfig.NewRepo(pool).ListVersions(ctx, nil, "intake_history")
			return err
		})
		if err != nil {
			t.Fatalf("ListVersions: %v", err)
		}
		if len(versions) != 3 {
			t.Fatalf("expected 3 versions, got %d", len(versions))
		}
		for i, want := range []int{3, 2, 1} {
			if versions[i].Version != want {
				t.Errorf("versions[%d] = %d, want %d", i, versions[i].Version, want)
			}
		}
	})

	t.Run("List_Filters", func(t *testing.T) {
		team := createTestTeam(t, ctx, tenantID, "List Team", "")
		createTestConfiguration(t, ctx, tenantID, nil, "intake_list", "", vitalsSections())
		createActiveDefault(t, ctx, tenantID, "intake_list", "", vitalsSections())
		createTestConfiguration(t, ctx, tenantID, &team.ID, "intake_list", "", vitalsSections())

		repo := formconfig.NewRepo(pool)
		cases := map[string]struct {
			filter formconfig.ListFilter
			want   int
		}{
			"by kind":           {formconfig.ListFilter{FormKind: "intake_list"}, 3},
			"drafts only":       {formconfig.ListFilter{FormKind: "intake_list", Status: forms.StatusDraft}, 2},
			"owned by the team": {formconfig.ListFilter{FormKind: "intake_list", OwnerTeamID: &team.ID}, 1},
			"kind with no rows": {formconfig.ListFilter{FormKind: "intake_absent"}, 0},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				var got []*forms.Configuration
				var total int
				err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
					var err error
					got, total, err = repo.List(ctx, tc.filter, 50, 0)
					return err
				})
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				if total != tc.want || len(got) != tc.want {
					t.Errorf("List = %d rows, total %d, want %d", len(got), total, tc.want)
				}
			})
		}

		// Pagination slices the same filtered set.
		var page []*forms.Configuration
		var total int
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			page, total, err = repo.List(ctx, formconfig.ListFilter{FormKind: "intake_list"}, 2, 2)
			return err
		})
		if err != nil {
			t.Fatalf("List page: %v", err)
		}
		if total != 3 || len(page) != 1 {
			t.Errorf("List(limit 2, offset 2) = %d rows, total %d, want 1 row of 3", len(page), total)
		}
	})

	t.Run("Activate_SwapsActiveVersion", func(t *testing.T) {
		v1 := createTestConfiguration(t, ctx, tenantID, nil, "intake_swap", "", vitalsSections())
		v2 := createTestConfiguration(t, ctx, tenantID, nil, "intake_swap", "", vitalsSections())

		activateConfiguration(t, ctx, tenantID, v1)
		activateConfiguration(t, ctx, tenantID, v2)

		repo := formconfig.NewRepo(pool)
		statuses := make(map[uuid.UUID]string)
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			for _, id := range []uuid.UUID{v1.ID, v2.ID} {
				cfg, err := repo.GetByID(ctx, id)
				if err != nil {
					return err
				}
				statuses[id] = cfg.Status
			}
			return nil
		})
		if err != nil {
			t.Fatalf("reload versions: %v", err)
		}
		if statuses[v2.ID] != forms.StatusActive {
			t.Errorf("expected v2 active, got %s", statuses[v2.ID])
		}
		if statuses[v1.ID] != forms.StatusInactive {
			t.Errorf("expected v1 demoted to inactive, got %s", statuses[v1.ID])
		}
	})

	t.Run("Activate_SpecialtyScopesIndependently", func(t *testing.T) {
		generic := createActiveDefault(t, ctx, tenantID, "intake_scope", "", vitalsSections())
		icu := createActiveDefault(t, ctx, tenantID, "intake_scope", "icu", vitalsSections())

		repo := formconfig.NewRepo(pool)
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			for _, id := range []uuid.UUID{generic.ID, icu.ID} {
				cfg, err := repo.GetByID(ctx, id)
				if err != nil {
					return err
				}
				if cfg.Status != forms.StatusActive {
					t.Errorf("expected %s active alongside its sibling scope, got %s", id, cfg.Status)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("reload scopes: %v", err)
		}

		// A second icu version takes over its own scope only.
		icu2 := createTestConfiguration(t, ctx, tenantID, nil, "intake_scope", "icu", vitalsSections())
		activateConfiguration(t, ctx, tenantID, icu2)

		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			demoted, err := repo.GetByID(ctx, icu.ID)
			if err != nil {
				return err
			}
			if demoted.Status != forms.StatusInactive {
				t.Errorf("expected first icu version demoted, got %s", demoted.Status)
			}
			untouched, err := repo.GetByID(ctx, generic.ID)
			if err != nil {
				return err
			}
			if untouched.Status != forms.StatusActive {
				t.Errorf("expected generic default untouched, got %s", untouched.Status)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("reload after icu swap: %v", err)
		}
	})

	t.Run("Activate_Missing", func(t *testing.T) {
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return formconfig.NewRepo(pool).Activate(ctx, &forms.Configuration{
				ID: uuid.New(), FormKind: "intake_swap",
			})
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		cfg := createActiveDefault(t, ctx, tenantID, "intake_retire", "", vitalsSections())

		repo := formconfig.NewRepo(pool)
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			if err := repo.UpdateStatus(ctx, cfg.ID, forms.StatusInactive); err != nil {
				return err
			}
			got, err := repo.GetByID(ctx, cfg.ID)
			if err != nil {
				return err
			}
			if got.Status != forms.StatusInactive {
				t.Errorf("expected inactive, got %s", got.Status)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}

		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return repo.UpdateStatus(ctx, uuid.New(), forms.StatusInactive)
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound for absent row, got %v", err)
		}
	})

	t.Run("CountActive", func(t *testing.T) {
		repo := formconfig.NewRepo(pool)
		count := func() int64 {
			var n int64
			err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
				var err error
				n, err = repo.CountActive(ctx)
				return err
			})
			if err != nil {
				t.Fatalf("CountActive: %v", err)
			}
			return n
		}

		before := count()
		createActiveDefault(t, ctx, tenantID, "intake_count", "", vitalsSections())
		if after := count(); after != before+1 {
			t.Errorf("CountActive = %d after one activation, want %d", after, before+1)
		}
	})

	t.Run("OneActivePerScope_IndexHolds", func(t *testing.T) {
		createActiveDefault(t, ctx, tenantID, "intake_unique", "", vitalsSections())
		v2 := createTestConfiguration(t, ctx, tenantID, nil, "intake_unique", "", vitalsSections())

		// Forcing a second active row past the repository must trip the
		// partial unique index.
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			_, err := db.ConnFromContext(ctx).Exec(ctx,
				`UPDATE form_configurations SET status = 'active' WHERE id = $1`, v2.ID)
			return err
		})
		if err == nil {
			t.Fatal("expected unique violation for a second active version in the same scope")
		}
	})

	t.Run("ActiveLookups", func(t *testing.T) {
		generic := createActiveDefault(t, ctx, tenantID, "intake_lookup", "", vitalsSections())
		icu := createActiveDefault(t, ctx, tenantID, "intake_lookup", "icu", vitalsSections())

		repo := formconfig.NewRepo(pool)
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			got, err := repo.ActiveBySpecialty(ctx, "intake_lookup", "icu")
			if err != nil {
				return err
			}
			if got.ID != icu.ID {
				t.Errorf("ActiveBySpecialty = %s, want %s", got.ID, icu.ID)
			}

			if _, err := repo.ActiveBySpecialty(ctx, "intake_lookup", "derm"); !errors.Is(err, formconfig.ErrNotFound) {
				t.Errorf("expected ErrNotFound for unmatched specialty, got %v", err)
			}

			got, err = repo.ActiveDefault(ctx, "intake_lookup")
			if err != nil {
				return err
			}
			if got.ID != generic.ID {
				t.Errorf("ActiveDefault = %s, want %s", got.ID, generic.ID)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("active lookups: %v", err)
		}
	})
}

func TestAssignmentRepo(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("asgrepo")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	pool := globalDB.Pool
	team := createTestTeam(t, ctx, tenantID, "Assignment Team", "")
	cfg1 := createTestConfiguration(t, ctx, tenantID, nil, "hand_hygiene_audit", "", vitalsSections())
	cfg2 := createTestConfiguration(t, ctx, tenantID, nil, "hand_hygiene_audit", "", vitalsSections())
	repo := formconfig.NewAssignmentRepo(pool)

	t.Run("UpsertAndGet", func(t *testing.T) {
		a := &formconfig.Assignment{
			TeamID:          team.ID,
			FormKind:        "hand_hygiene_audit",
			ConfigurationID: cfg1.ID,
			AssignedBy:      "admin-7",
		}
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return repo.Upsert(ctx, a)
		})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if a.AssignedAt.IsZero() {
			t.Error("expected assigned_at from the database")
		}

		var got *formconfig.Assignment
		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			got, err = repo.Get(ctx, team.ID, "hand_hygiene_audit")
			return err
		})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ConfigurationID != cfg1.ID || got.AssignedBy != "admin-7" {
			t.Errorf("got configuration %s by %q", got.ConfigurationID, got.AssignedBy)
		}
	})

	t.Run("UpsertReplacesInPlace", func(t *testing.T) {
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return repo.Upsert(ctx, &formconfig.Assignment{
				TeamID:          team.ID,
				FormKind:        "hand_hygiene_audit",
				ConfigurationID: cfg2.ID,
				AssignedBy:      "admin-8",
			})
		})
		if err != nil {
			t.Fatalf("Upsert replace: %v", err)
		}

		var got *formconfig.Assignment
		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			got, err = repo.Get(ctx, team.ID, "hand_hygiene_audit")
			return err
		})
		if err != nil {
			t.Fatalf("Get after replace: %v", err)
		}
		if got.ConfigurationID != cfg2.ID || got.AssignedBy != "admin-8" {
			t.Errorf("expected replacement to win, got configuration %s by %q", got.ConfigurationID, got.AssignedBy)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return repo.Delete(ctx, team.ID, "hand_hygiene_audit")
		})
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}

		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			_, err := repo.Get(ctx, team.ID, "hand_hygiene_audit")
			return err
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return repo.Delete(ctx, team.ID, "hand_hygiene_audit")
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound for second delete, got %v", err)
		}
	})
}

func TestTeamDirectory(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("teamdir")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	pool := globalDB.Pool
	created := createTestTeam(t, ctx, tenantID, "ICU North", "icu")
	dir := formconfig.NewTeamDirectory(pool)

	t.Run("GetTeam", func(t *testing.T) {
		var got *formconfig.Team
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var err error
			got, err = dir.GetTeam(ctx, created.ID)
			return err
		})
		if err != nil {
			t.Fatalf("GetTeam: %v", err)
		}
		if got.Name != "ICU North" || got.Specialty != "icu" {
			t.Errorf("got %q/%q, want ICU North/icu", got.Name, got.Specialty)
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected created_at from the database")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			_, err := dir.GetTeam(ctx, uuid.New())
			return err
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConfigurationService(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("cfgsvc")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	pool := globalDB.Pool
	svc := newConfigService(t, cache.NewMemoryStore())

	t.Run("RejectsInvalidDocument", func(t *testing.T) {
		sections := vitalsSections()
		sections[0].Fields = append(sections[0].Fields, forms.Field{
			ID: "temperature", Label: "Duplicate", Type: forms.KindText, Text: &forms.TextConfig{},
		})

		var res *forms.ValidationResult
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var cfg *forms.Configuration
			var err error
			cfg, res, err = svc.CreateConfiguration(ctx, &formconfig.CreateConfigurationRequest{
				FormKind: "svc_invalid", Sections: sections,
			}, "admin-1")
			if cfg != nil {
				t.Error("expected no configuration for an invalid document")
			}
			return err
		})
		if err != nil {
			t.Fatalf("CreateConfiguration: %v", err)
		}
		if res == nil || res.Valid {
			t.Fatal("expected a validation failure")
		}
		found := false
		for _, e := range res.Errors {
			if strings.Contains(e.Reason, "duplicate field id") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a duplicate field id error, got %+v", res.Errors)
		}

		// Nothing was stored.
		var total int
		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			return db.ConnFromContext(ctx).QueryRow(ctx,
				`SELECT COUNT(*) FROM form_configurations WHERE form_kind = 'svc_invalid'`,
			).Scan(&total)
		})
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if total != 0 {
			t.Errorf("expected 0 stored rows, got %d", total)
		}
	})

	t.Run("CreatesDraft", func(t *testing.T) {
		var cfg *forms.Configuration
		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			var res *forms.ValidationResult
			var err error
			cfg, res, err = svc.CreateConfiguration(ctx, &formconfig.CreateConfigurationRequest{
				FormKind: "svc_draft", Description: "first draft", Sections: vitalsSections(),
			}, "admin-1")
			if err != nil {
				return err
			}
			if res != nil {
				t.Fatalf("unexpected validation failure: %+v", res.Errors)
			}
			got, err := svc.GetConfiguration(ctx, cfg.ID)
			if err != nil {
				return err
			}
			if got.Version != 1 || got.Status != forms.StatusDraft {
				t.Errorf("stored v%d status %s, want v1 draft", got.Version, got.Status)
			}
			if got.CreatedBy != "admin-1" {
				t.Errorf("created_by = %q, want admin-1", got.CreatedBy)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("create draft: %v", err)
		}
	})

	t.Run("ActivateIsIdempotent", func(t *testing.T) {
		cfg := createTestConfiguration(t, ctx, tenantID, nil, "svc_idem", "", vitalsSections())

		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			for i := 0; i < 2; i++ {
				got, res, err := svc.Activate(ctx, cfg.ID)
				if err != nil {
					return err
				}
				if res != nil {
					t.Fatalf("unexpected validation failure: %+v", res.Errors)
				}
				if got.Status != forms.StatusActive {
					t.Errorf("status = %s, want active", got.Status)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Activate: %v", err)
		}
	})

	t.Run("ActivateDemotesPredecessorAndFlushesCache", func(t *testing.T) {
		team := createTestTeam(t, ctx, tenantID, "Cache Team", "")
		v1 := createTestConfiguration(t, ctx, tenantID, nil, "svc_active", "", vitalsSections())

		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			if _, _, err := svc.Activate(ctx, v1.ID); err != nil {
				return err
			}
			// Prime the resolver cache with v1.
			got, err := svc.ResolveCurrent(ctx, team.ID, "svc_active")
			if err != nil {
				return err
			}
			if got.ID != v1.ID {
				t.Fatalf("resolved %s before the swap, want %s", got.ID, v1.ID)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("activate v1: %v", err)
		}

		v2 := createTestConfiguration(t, ctx, tenantID, nil, "svc_active", "", vitalsSections())
		err = db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			if _, _, err := svc.Activate(ctx, v2.ID); err != nil {
				return err
			}
			got, err := svc.ResolveCurrent(ctx, team.ID, "svc_active")
			if err != nil {
				return err
			}
			if got.ID != v2.ID {
				t.Errorf("resolved %s after the swap, want %s", got.ID, v2.ID)
			}
			demoted, err := svc.GetConfiguration(ctx, v1.ID)
			if err != nil {
				return err
			}
			if demoted.Status != forms.StatusInactive {
				t.Errorf("expected v1 demoted, got %s", demoted.Status)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("activate v2: %v", err)
		}
	})

	t.Run("AssignToTeamGuards", func(t *testing.T) {
		team := createTestTeam(t, ctx, tenantID, "Guard Team", "")
		active := createActiveDefault(t, ctx, tenantID, "svc_guard", "", vitalsSections())
		draft := createTestConfiguration(t, ctx, tenantID, nil, "svc_guard", "", vitalsSections())

		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			if _, err := svc.AssignToTeam(ctx, team.ID, "svc_other", active.ID, "admin-1"); err == nil {
				t.Error("expected a form kind mismatch error")
			}
			if _, err := svc.AssignToTeam(ctx, team.ID, "svc_guard", draft.ID, "admin-1"); err == nil {
				t.Error("expected an error assigning a non-active version")
			}
			if _, err := svc.AssignToTeam(ctx, uuid.New(), "svc_guard", active.ID, "admin-1"); !errors.Is(err, formconfig.ErrNotFound) {
				t.Errorf("expected ErrNotFound for an unknown team, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("guards: %v", err)
		}
	})

	t.Run("AssignAndUnassign", func(t *testing.T) {
		team := createTestTeam(t, ctx, tenantID, "Pin Team", "")
		fallback := createActiveDefault(t, ctx, tenantID, "svc_pin", "", vitalsSections())
		pinned := createTestConfiguration(t, ctx, tenantID, &team.ID, "svc_pin", "", vitalsSections())
		activateConfiguration(t, ctx, tenantID, pinned)

		err := db.WithTenantConn(ctx, pool, tenantID, func(ctx context.Context) error {
			a, err := svc.AssignToTeam(ctx, team.ID, "svc_pin", pinned.ID, "admin-1")
			if err != nil {
				return err
			}
			if a.AssignedAt.IsZero() {
				t.Error("expected assigned_at from the database")
			}

			got, err := svc.ResolveCurrent(ctx, team.ID, "svc_pin")
			if err != nil {
				return err
			}
			if got.ID != pinned.ID {
				t.Errorf("resolved %s while assigned, want %s", got.ID, pinned.ID)
			}

			if err := svc.Unassign(ctx, team.ID, "svc_pin"); err != nil {
				return err
			}
			got, err = svc.ResolveCurrent(ctx, team.ID, "svc_pin")
			if err != nil {
				return err
			}
			if got.ID != fallback.ID {
				t.Errorf("resolved %s after unassign, want the default %s", got.ID, fallback.ID)
			}

			if err := svc.Unassign(ctx, team.ID, "svc_pin"); !errors.Is(err, formconfig.ErrNotFound) {
				t.Errorf("expected ErrNotFound for a second unassign, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("assign round trip: %v", err)
		}
	})
}
