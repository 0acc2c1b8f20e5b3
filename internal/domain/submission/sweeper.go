package submission

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinform/clinform/internal/platform/db"
)

// Sweeper periodically purges soft-deleted records whose retention window
// has closed. Answer records live in per-tenant schemas, so each pass
// visits every tenant schema with its own pinned connection.
type Sweeper struct {
	pool     *pgxpool.Pool
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(pool *pgxpool.Pool, svc *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		pool:     pool,
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "retention-sweeper").Logger(),
	}
}

// Start runs the sweep loop in a background goroutine until the context is
// cancelled. A failed pass is logged and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	tenants, err := db.ListTenantSchemas(ctx, s.pool)
	if err != nil {
		s.logger.Error().Err(err).Msg("list tenants failed")
		return
	}

	for _, tid := range tenants {
		err := db.WithTenantConn(ctx, s.pool, tid, func(ctx context.Context) error {
			n, err := s.svc.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				s.logger.Info().Str("tenant", tid).Int64("purged", n).Msg("retention purge")
			}
			return nil
		})
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", tid).Msg("retention purge failed")
		}
	}
}
