// Package store persists credit and free-try state. Three adapters share
// one contract: a Supabase PostgREST client, a direct Postgres backend for
// deployments with database access, and a stub that keeps the service
// deciding (free tries only, nothing persisted) when no backing service is
// configured.
//
// Storage must never become a single point of failure for gating: loads
// degrade to a zeroed state and saves are dropped silently, with a warning
// in the log as the only trace.
package store

import (
	"context"

	"github.com/rs/zerolog"

	"astrocredits/internal/domain"
	"astrocredits/internal/infra"
)

// Store combines credit-state persistence with the best-effort usage
// event sink.
type Store interface {
	domain.CreditsStore
	domain.UsageSink
}

// FromConfig picks the backing adapter: direct Postgres when DATABASE_URL
// is set, Supabase PostgREST when both endpoint and service key are
// present, the stub otherwise. Backend failures at startup degrade to the
// next option with a warning rather than aborting.
func FromConfig(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) Store {
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err == nil {
			pg := NewPostgres(pool, logger)
			if err := pg.Migrate(ctx); err != nil {
				logger.Warn().Err(err).Msg("store: migrate failed, continuing")
			}
			return pg
		}
		logger.Warn().Err(err).Msg("store: database unreachable, falling back")
	}

	if cfg.SupabaseConfigured() {
		return NewSupabase(SupabaseOptions{
			BaseURL:    cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Timeout:    cfg.StoreTimeout,
			Logger:     logger,
		})
	}

	logger.Warn().Msg("store: no backing service configured, state will not persist")
	return NewStub()
}
