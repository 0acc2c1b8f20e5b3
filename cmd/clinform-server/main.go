package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinform/clinform/internal/config"
	"github.com/clinform/clinform/internal/domain/formconfig"
	"github.com/clinform/clinform/internal/domain/submission"
	"github.com/clinform/clinform/internal/platform/auth"
	"github.com/clinform/clinform/internal/platform/cache"
	"github.com/clinform/clinform/internal/platform/db"
	"github.com/clinform/clinform/internal/platform/export"
	"github.com/clinform/clinform/internal/platform/forms"
	"github.com/clinform/clinform/internal/platform/middleware"
	"github.com/clinform/clinform/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinform-server",
		Short: "Clinical form configuration API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openPool loads configuration and connects to the database. The caller owns
// the returned pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the form configuration API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", schema, err)
			}
			fmt.Printf("%s: applied %d migration(s)\n", schema, count)
			return nil
		},
	}
	addMigrateFlags(upCmd)
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("status of %s: %w", schema, err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				state, when := "pending", ""
				if s.Applied {
					state = "applied"
					if s.AppliedAt != nil {
						when = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, state, when)
			}
			return w.Flush()
		},
	}
	addMigrateFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (unsupported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Rollbacks are not supported. Write a forward migration, or restore the schema from a backup.")
			return nil
		},
	})

	return cmd
}

func addMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "tenant_default", "Schema to run against")
	cmd.Flags().String("dir", "./migrations", "Directory holding the numbered .sql files")
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("migrations")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			if dir == "" {
				fmt.Printf("Tenant %s created. Apply migrations with: clinform-server migrate up --schema tenant_%s\n", name, name)
			} else {
				fmt.Printf("Tenant %s created and migrated.\n", name)
			}
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits, underscore)")
	createCmd.Flags().String("migrations", "./migrations", "Migrations directory (empty to skip migrating)")
	_ = createCmd.MarkFlagRequired("name")

	cmd.AddCommand(createCmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export submitted answers as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			teamStr, _ := cmd.Flags().GetString("team")
			formKind, _ := cmd.Flags().GetString("form-kind")
			out, _ := cmd.Flags().GetString("out")

			teamID, err := uuid.Parse(teamStr)
			if err != nil {
				return fmt.Errorf("invalid --team: %w", err)
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			registry := forms.NewRegistry()
			tel := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
				ServiceName:    "clinform-export",
				ServiceVersion: version,
			})
			resolver := formconfig.NewResolver(
				formconfig.NewRepo(pool),
				formconfig.NewAssignmentRepo(pool),
				formconfig.NewTeamDirectory(pool),
				cache.NewMemoryStore(),
				time.Duration(cfg.CacheTTLSeconds)*time.Second,
				tel,
			)
			records := submission.NewRepo(pool)

			var buf bytes.Buffer
			var count int
			err = db.WithTenantConn(ctx, pool, tenant, func(ctx context.Context) error {
				formCfg, err := resolver.ResolveCurrent(ctx, teamID, formKind)
				if err != nil {
					return err
				}
				recs, err := records.ListByConfiguration(ctx, teamID, formCfg.ID)
				if err != nil {
					return err
				}
				count = len(recs)
				return export.WriteCSV(&buf, registry, formCfg, mapExportRecords(recs))
			})
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if out != "" {
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return err
				}
				fmt.Printf("Exported %d submission(s) to %s\n", count, out)
				return nil
			}

			if cfg.ExportBucket == "" {
				return fmt.Errorf("EXPORT_BUCKET is not configured; use --out for a local file")
			}
			sink, err := export.NewS3Sink(cfg.AWSRegion, cfg.ExportBucket)
			if err != nil {
				return err
			}
			key := exportObjectKey(tenant, formKind, teamID, time.Now())
			if err := sink.Put(ctx, key, &buf); err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			fmt.Printf("Exported %d submission(s) to s3://%s/%s\n", count, cfg.ExportBucket, key)
			return nil
		},
	}
	cmd.Flags().String("tenant", "default", "Tenant identifier")
	cmd.Flags().String("team", "", "Team UUID owning the submissions")
	cmd.Flags().String("form-kind", "", "Form kind to export")
	cmd.Flags().String("out", "", "Local output path (uploads to S3 when omitted)")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("form-kind")
	return cmd
}

// exportObjectKey builds the S3 object key for one export run. Timestamps are
// rendered in UTC so keys sort chronologically regardless of where the
// command runs.
func exportObjectKey(tenant, formKind string, teamID uuid.UUID, ts time.Time) string {
	return fmt.Sprintf("exports/%s/%s-%s-%s.csv", tenant, formKind, teamID, ts.UTC().Format("20060102T150405Z"))
}

// mapExportRecords converts stored answer records into the export package's
// record shape.
func mapExportRecords(recs []*submission.AnswerRecord) []*export.Record {
	out := make([]*export.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, &export.Record{
			ID:                   r.ID,
			SubjectID:            r.SubjectID,
			SubmittedBy:          r.SubmittedBy,
			SubmittedAt:          r.SubmittedAt,
			ConfigurationVersion: r.ConfigurationVersion,
			Values:               r.Values,
		})
	}
	return out
}

// newLogger writes JSON to stdout; development gets the human console format.
// ENV is read directly because the logger must exist before config loads.
func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// corsConfig admits the browser origins configured via CORS_ORIGINS. The
// header list covers auth, content negotiation, and the tenant override.
func corsConfig(origins []string) echomw.CORSConfig {
	return echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete,
		},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}
}

// authMiddleware selects the verifier for the resolved auth mode. Shared
// claims wiring stays in one place; the mode only decides the key material.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	mode := cfg.ResolvedAuthMode()
	if mode == "development" {
		return auth.DevAuthMiddleware()
	}
	jc := auth.JWTConfig{Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience}
	if mode == "hmac" {
		jc.SigningKey = []byte(cfg.JWTSigningKey)
	} else {
		jc.JWKSURL = cfg.AuthJWKSURL
	}
	return auth.JWTMiddleware(jc)
}

// liveness reports process health only; /health/ready covers dependencies.
func liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version,
	})
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// The signal context is the root for everything the server spawns, so
	// SIGINT/SIGTERM stop background work as part of shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Resolver cache: Redis when configured, in-process otherwise
	var store cache.Store
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		store = redisStore
		logger.Info().Msg("connected to redis cache")
	} else {
		memStore := cache.NewMemoryStore()
		memStore.StartCleanup(ctx, time.Minute)
		store = memStore
	}

	// Telemetry
	tel := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "clinform-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	defer tel.Shutdown(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(corsConfig(cfg.CORSOrigins)))
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(tel.MetricsMiddleware())
	e.Use(authMiddleware(cfg))

	// API group. Infrastructure endpoints stay outside it, so probes never
	// pass through rate limiting or tenant resolution.
	apiV1 := e.Group("/api/v1")

	// Rate limiting rejects before a pool connection is acquired
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rl))

	// Tenant middleware pins a schema-scoped connection per request
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(logger))

	// Form configuration domain
	registry := forms.NewRegistry()
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second

	configRepo := formconfig.NewRepo(pool)
	assignmentRepo := formconfig.NewAssignmentRepo(pool)
	teamDirectory := formconfig.NewTeamDirectory(pool)
	resolver := formconfig.NewResolver(configRepo, assignmentRepo, teamDirectory, store, cacheTTL, tel)
	configSvc := formconfig.NewService(configRepo, assignmentRepo, teamDirectory, resolver, registry, tel)
	formconfig.NewHandler(configSvc).RegisterRoutes(apiV1)

	// Submission domain
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	submissionRepo := submission.NewRepo(pool)
	submissionSvc := submission.NewService(submissionRepo, resolver, registry, retention, tel)
	submission.NewHandler(submissionSvc).RegisterRoutes(apiV1)

	// Retention sweeper purges soft-deleted records past their retention
	// date; the signal context stops it on shutdown.
	submission.NewSweeper(pool, submissionSvc, time.Hour, logger).Start(ctx)

	e.GET("/health", liveness)

	// Readiness check: bounded DB ping plus pool statistics
	e.GET("/health/ready", db.HealthHandler(pool))

	// Prometheus metrics; pool gauges refresh on each scrape
	metricsHandler := tel.PrometheusHandler()
	e.GET("/metrics", func(c echo.Context) error {
		stat := pool.Stat()
		hm := tel.HealthMetrics()
		hm.SetDBPoolActive(int64(stat.AcquiredConns()))
		hm.SetDBPoolIdle(int64(stat.IdleConns()))
		return metricsHandler(c)
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
