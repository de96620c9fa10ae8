package main

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vxs/registro/internal/config"
	"github.com/vxs/registro/internal/domain/audit"
	"github.com/vxs/registro/internal/domain/patient"
	"github.com/vxs/registro/internal/platform/db"
	"github.com/vxs/registro/internal/platform/metrics"
	"github.com/vxs/registro/internal/platform/postgrest"
	"github.com/vxs/registro/internal/platform/store"
	"github.com/vxs/registro/migrations"
)

// backend bundles the repositories of the selected store together with
// its health check and teardown.
type backend struct {
	name     string
	patients patient.Repository
	edits    audit.Repository
	health   echo.HandlerFunc
	close    func()
}

// openBackend connects to the store named by STORE_BACKEND. collector may
// be nil (CLI commands run without metrics).
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector *metrics.Collector) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendREST:
		opts := []postgrest.Option{postgrest.WithTimeout(cfg.StoreTimeout)}
		if collector != nil {
			opts = append(opts, postgrest.WithObserver(collector))
		}
		client := postgrest.New(cfg.SupabaseURL, cfg.SupabaseKey, opts...)
		logger.Info().Str("url", client.BaseURL()).Msg("using remote table store")
		return &backend{
			name:     config.BackendREST,
			patients: patient.NewRESTRepo(client),
			edits:    audit.NewRESTRepo(client),
			health:   store.HealthHandler(client, config.BackendREST),
			close:    func() {},
		}, nil

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
			MaxConns:       cfg.DBMaxConns,
			MinConns:       cfg.DBMinConns,
			ConnectTimeout: cfg.StoreTimeout,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")

		if collector != nil {
			if err := db.RegisterPoolMetrics(collector.Registerer(), metricsNamespace, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("register pool metrics: %w", err)
			}
		}

		// Migrations ship embedded in the binary.
		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		if n > 0 {
			logger.Info().Int("applied", n).Msg("migrations applied")
		}

		return &backend{
			name:     config.BackendPostgres,
			patients: patient.NewPGRepo(pool),
			edits:    audit.NewPGRepo(pool),
			health:   db.HealthHandler(pool),
			close:    pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
