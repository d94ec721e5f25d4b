// Package app assembles the fiscal pipeline from configuration. It is shared
// by the API server and the standalone worker.
package app

import (
	"context"
	"fmt"
	"time"

	"hotelfiscal/internal/config"
	corenumerator "hotelfiscal/internal/core/numerator"
	"hotelfiscal/internal/domain/emission"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/ingress"
	"hotelfiscal/internal/domain/payload"
	"hotelfiscal/internal/domain/routing"
	"hotelfiscal/internal/infrastructure/artifacts"
	"hotelfiscal/internal/infrastructure/http/v1/events"
	"hotelfiscal/internal/infrastructure/http/v1/handlers"
	"hotelfiscal/internal/infrastructure/numerator"
	"hotelfiscal/internal/infrastructure/provider"
	"hotelfiscal/internal/infrastructure/remotesync"
	"hotelfiscal/internal/infrastructure/storage/jsonfile"
	"hotelfiscal/internal/infrastructure/storage/postgres"
	"hotelfiscal/internal/infrastructure/storage/postgres/fiscal_repo"
	"hotelfiscal/pkg/logger"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Repo      fiscal.Repository
	Registry  *jsonfile.Registry
	Catalog   *jsonfile.Catalog
	Sequences corenumerator.Allocator

	Hub      *events.Hub
	Syncer   *remotesync.Syncer
	Emission *emission.Service
	Worker   *emission.Worker
	Ingress  *ingress.Service

	// Checks are the readiness probes of the storage backends.
	Checks map[string]handlers.Check

	pool *postgres.Pool
}

// New opens the stores selected by cfg and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Checks: map[string]handlers.Check{}}

	registry, err := jsonfile.OpenRegistry(cfg.SettingsFile, log)
	if err != nil {
		return nil, fmt.Errorf("open integration settings: %w", err)
	}
	a.Registry = registry
	a.Checks["settings"] = func(ctx context.Context) error {
		_, err := registry.List(ctx)
		return err
	}

	a.Catalog, err = jsonfile.OpenCatalog(log, cfg.CatalogFiles...)
	if err != nil {
		return nil, fmt.Errorf("open product catalog: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Hub = events.NewHub(log)
	a.Syncer = remotesync.New(cfg.RemoteSyncURL, cfg.RemoteSyncToken, log)

	client := provider.New(provider.Config{
		AuthURL:      cfg.ProviderAuthURL,
		BaseURL:      cfg.ProviderBaseURL,
		SandboxURL:   cfg.ProviderSandboxURL,
		RatePerSec:   cfg.ProviderRatePerSec,
		PollAttempts: cfg.ArtifactPollAttempts,
		PollInterval: cfg.ArtifactPollInterval,
	}, log)

	a.Emission = emission.NewService(emission.Config{
		Repo:         a.Repo,
		Registry:     registry,
		Sequences:    a.Sequences,
		Builder:      payload.NewBuilder(a.Catalog),
		Provider:     provider.NewGateway(client),
		Artifacts:    artifacts.New(cfg.DataDir),
		Notifier:     a.Hub,
		Claims:       fiscal.NewClaimSet(cfg.ClaimTTL),
		Logger:       log,
		LegacyCutoff: cfg.LegacySnapshotVersion,
	})
	a.Worker = emission.NewWorker(a.Emission, emission.WorkerConfig{
		Interval:  cfg.WorkerInterval,
		BatchSize: cfg.WorkerBatchSize,
	})

	fallback := routing.Config{
		DefaultNFCeCNPJ: cfg.DefaultNFCeCNPJ,
		DefaultNFSeCNPJ: cfg.DefaultNFSeCNPJ,
		Rules:           routing.DefaultRules,
	}
	a.Ingress = ingress.NewService(ingress.Config{
		Repo:       a.Repo,
		Registry:   registry,
		Router:     routing.NewResolver(registry, fallback),
		Catalog:    a.Catalog,
		Replicator: a.Syncer,
		Notifier:   a.Hub,
		Waker:      a.Worker,
		Logger:     log,

		EmitReceived: cfg.EmitReceived,
	})

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool

		schema := make([]string, 0, len(fiscal_repo.Schema)+1)
		schema = append(schema, fiscal_repo.Schema...)
		schema = append(schema, numerator.Schema)
		if err := pool.EnsureSchema(ctx, schema...); err != nil {
			return err
		}

		a.Repo = fiscal_repo.New(postgres.NewTxManager(pool))
		// Sequences start from next_number of the settings file the first
		// time a key is used.
		a.Sequences = numerator.New(pool).WithSeed(func(ctx context.Context, key corenumerator.Key) int64 {
			n, err := a.Registry.Peek(ctx, key)
			if err != nil {
				return 0
			}
			return n
		})
		a.Checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		a.Log.Infow("fiscal pool opened", "driver", cfg.StoreDriver)

	default:
		store, err := jsonfile.OpenFiscalStore(cfg.PoolPath(), a.Log)
		if err != nil {
			return fmt.Errorf("open fiscal pool: %w", err)
		}
		a.Repo = store
		a.Sequences = a.Registry
		a.Checks["pool"] = func(ctx context.Context) error {
			_, err := store.Query(ctx, fiscal.Filter{Limit: 1})
			return err
		}
		a.Log.Infow("fiscal pool opened", "driver", cfg.StoreDriver, "path", cfg.PoolPath())
	}
	return nil
}

// RunWorker runs the emission worker until ctx is cancelled, logging
// database pool stats periodically when Postgres is in use.
func (a *App) RunWorker(ctx context.Context) {
	if a.pool != nil {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.pool.LogStats(ctx)
				}
			}
		}()
	}
	a.Worker.Run(ctx)
}

// Close drains replication and releases the stores.
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Close()
	}
	a.Syncer.Wait()
	if a.pool != nil {
		a.pool.Close()
	}
}
