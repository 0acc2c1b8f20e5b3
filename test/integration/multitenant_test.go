package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinform/clinform/internal/domain/formconfig"
	"github.com/clinform/clinform/internal/domain/submission"
	"github.com/clinform/clinform/internal/platform/cache"
	"github.com/clinform/clinform/internal/platform/db"
)

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	tenantA := uniqueTenantID("iso_a")
	tenantB := uniqueTenantID("iso_b")
	createTenantSchema(t, ctx, tenantA)
	defer dropTenantSchema(t, ctx, tenantA)
	createTenantSchema(t, ctx, tenantB)
	defer dropTenantSchema(t, ctx, tenantB)

	pool := globalDB.Pool

	t.Run("SchemaAndTablesProvisioned", func(t *testing.T) {
		for _, tenant := range []string{tenantA, tenantB} {
			schema := "tenant_" + tenant
			var exists bool
			if err := pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`, schema,
			).Scan(&exists); err != nil {
				t.Fatalf("schema lookup: %v", err)
			}
			if !exists {
				t.Fatalf("schema %s missing", schema)
			}

			for _, table := range []string{"teams", "form_configurations", "form_assignments", "answer_records", "_migrations"} {
				var ok bool
				if err := pool.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
					schema, table,
				).Scan(&ok); err != nil {
					t.Fatalf("table lookup: %v", err)
				}
				if !ok {
					t.Errorf("table %s.%s missing", schema, table)
				}
			}
		}
	})

	t.Run("ConfigurationsDoNotLeakAcrossSchemas", func(t *testing.T) {
		leaked := createTestConfiguration(t, ctx, tenantA, nil, "admission_note", "", vitalsSections())
		createTestConfiguration(t, ctx, tenantA, nil, "admission_note", "", vitalsSections())
		createTestConfiguration(t, ctx, tenantB, nil, "admission_note", "", vitalsSections())

		counts := map[string]int{}
		for _, tenant := range []string{tenantA, tenantB} {
			var n int
			err := db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
				return db.ConnFromContext(ctx).QueryRow(ctx,
					`SELECT COUNT(*) FROM form_configurations WHERE form_kind = 'admission_note'`,
				).Scan(&n)
			})
			if err != nil {
				t.Fatalf("count in %s: %v", tenant, err)
			}
			counts[tenant] = n
		}
		if counts[tenantA] != 2 || counts[tenantB] != 1 {
			t.Errorf("counts = %v, want 2 in %s and 1 in %s", counts, tenantA, tenantB)
		}

		err := db.WithTenantConn(ctx, pool, tenantB, func(ctx context.Context) error {
			_, err := formconfig.NewRepo(pool).GetByID(ctx, leaked.ID)
			return err
		})
		if !errors.Is(err, formconfig.ErrNotFound) {
			t.Errorf("expected ErrNotFound reading another tenant's row, got %v", err)
		}
	})

	t.Run("ResolutionIsTenantScoped", func(t *testing.T) {
		resolver := formconfig.NewResolver(
			formconfig.NewRepo(pool),
			formconfig.NewAssignmentRepo(pool),
			formconfig.NewTeamDirectory(pool),
			cache.NewMemoryStore(),
			time.Minute,
			newTelemetry(t),
		)

		aCfg := createActiveDefault(t, ctx, tenantA, "transfer_checklist", "", vitalsSections())
		bCfg := createActiveDefault(t, ctx, tenantB, "transfer_checklist", "", vitalsSections())

		// The same team id and form kind in both tenants: only the tenant in
		// the cache key keeps these resolutions apart.
		roaming := uuid.New()
		resolveIn := func(tenant string) uuid.UUID {
			var id uuid.UUID
			err := db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
				cfg, err := resolver.ResolveCurrent(ctx, roaming, "transfer_checklist")
				if err != nil {
					return err
				}
				id = cfg.ID
				return nil
			})
			if err != nil {
				t.Fatalf("resolve in %s: %v", tenant, err)
			}
			return id
		}

		if got := resolveIn(tenantA); got != aCfg.ID {
			t.Errorf("tenant A resolved %s, want %s", got, aCfg.ID)
		}
		if got := resolveIn(tenantB); got != bCfg.ID {
			t.Errorf("tenant B resolved %s, want %s", got, bCfg.ID)
		}
		if got := resolveIn(tenantA); got != aCfg.ID {
			t.Errorf("tenant A re-resolved %s after B's lookup, want %s still", got, aCfg.ID)
		}
	})

	t.Run("CrossTenantReferencesFail", func(t *testing.T) {
		foreignTeam := createTestTeam(t, ctx, tenantA, "Isolated Team", "")
		localCfg := createActiveDefault(t, ctx, tenantB, "incident_report", "", vitalsSections())

		err := db.WithTenantConn(ctx, pool, tenantB, func(ctx context.Context) error {
			_, err := db.ConnFromContext(ctx).Exec(ctx,
				`INSERT INTO answer_records (id, subject_id, team_id, configuration_id, configuration_version, answer_values)
				 VALUES ($1, 'mrn-x', $2, $3, 1, '{}')`,
				uuid.New(), foreignTeam.ID, localCfg.ID)
			return err
		})
		if err == nil {
			t.Fatal("expected a foreign key violation for another tenant's team id")
		}
	})

	t.Run("ListTenantSchemasSeesBoth", func(t *testing.T) {
		ids, err := db.ListTenantSchemas(ctx, pool)
		if err != nil {
			t.Fatalf("ListTenantSchemas: %v", err)
		}
		found := map[string]bool{}
		for _, id := range ids {
			found[id] = true
		}
		if !found[tenantA] || !found[tenantB] {
			t.Errorf("listed %v, want both %s and %s", ids, tenantA, tenantB)
		}
	})

	t.Run("RetentionSweepVisitsEachTenant", func(t *testing.T) {
		svc := newSubmissionService(t, cache.NewMemoryStore(), 30*24*time.Hour)
		repo := submission.NewRepo(pool)

		for _, tenant := range []string{tenantA, tenantB} {
			team := createTestTeam(t, ctx, tenant, "Sweep Team", "")
			createActiveDefault(t, ctx, tenant, "discharge_summary", "", vitalsSections())
			rec := submitRecord(t, ctx, tenant, svc, team.ID, "discharge_summary", "mrn-sweep", map[string]any{
				"complaint":     "discharged",
				"temperature":   36.6,
				"consciousness": "alert",
			})
			err := db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
				return repo.SoftDelete(ctx, rec.ID, "sweeper-test", "expired", time.Now().UTC().Add(-time.Hour))
			})
			if err != nil {
				t.Fatalf("SoftDelete in %s: %v", tenant, err)
			}
		}

		// One sweeper pass: the purge runs once per tenant schema.
		for _, tenant := range []string{tenantA, tenantB} {
			var purged int64
			err := db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
				var err error
				purged, err = svc.PurgeExpired(ctx)
				return err
			})
			if err != nil {
				t.Fatalf("PurgeExpired in %s: %v", tenant, err)
			}
			if purged != 1 {
				t.Errorf("purged %d in %s, want 1", purged, tenant)
			}
		}
	})
}
