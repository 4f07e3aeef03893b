package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/waitingtimes/internal/adapters/cache"
	"github.com/zatekoja/waitingtimes/internal/adapters/database"
	"github.com/zatekoja/waitingtimes/internal/application/services"
	"github.com/zatekoja/waitingtimes/internal/domain/providers"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/gitlab"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/redis"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/clients/sqldb"
	"github.com/zatekoja/waitingtimes/internal/infrastructure/observability"
	"github.com/zatekoja/waitingtimes/pkg/config"
	"github.com/zatekoja/waitingtimes/schema"
)

var errWipeInProduction = errors.New("refusing to wipe ingestion tables when APP_ENV=production")

type app struct {
	cfg       *config.Config
	ingestion *services.IngestionService
	seeder    *services.BulkSeeder
	closers   []func() error
}

// newApp wires the pipeline from configuration. The job source is only
// built when withSource is set; seeding reads from disk.
func newApp(ctx context.Context, withSource bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment)

	a := &app{cfg: cfg}

	if cfg.OTEL.Enabled {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize OpenTelemetry, continuing without it")
		} else {
			a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
		}
	}

	metrics, err := observability.NewIngestionMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("failed to create ingestion metrics")
	}

	db, err := sqldb.NewClient(ctx, &cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	// Postgres migrations are managed outside this binary; the embedded
	// SQLite store creates its own tables.
	if db.Dialect() == sqldb.DialectSQLite {
		if _, err := db.DB().ExecContext(ctx, schema.SQLite); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}

	var cacheProvider providers.CacheProvider
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, dashboard cache will not be invalidated")
		} else {
			a.closers = append(a.closers, redisClient.Close)
			cacheProvider = cache.NewRedisAdapter(redisClient)
		}
	}

	loc, err := cfg.Ingestion.Location()
	if err != nil {
		a.Close()
		return nil, err
	}

	store := database.NewIngestionStore(db)
	gate := services.NewAdmissionGate(store, loc)
	reconciler := services.NewReconciler(cfg.Ingestion.ChunkSize)
	writer := services.NewTransactionalWriter(cfg.Ingestion.ChunkSize)

	var source providers.JobSource
	if withSource {
		if cfg.GitLab.ProjectPath == "" {
			a.Close()
			return nil, errors.New("GITLAB_PROJECT_PATH is required")
		}
		source = gitlab.NewClient(&cfg.GitLab)
	}

	a.ingestion = services.NewIngestionService(store, gate, reconciler, writer, source, cacheProvider, metrics)
	a.seeder = services.NewBulkSeeder(store, gate, reconciler, writer)
	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
	a.closers = nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
