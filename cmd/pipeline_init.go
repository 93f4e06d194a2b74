package main

import (
	"context"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/bronze"
	"github.com/sells-group/pumpcast/internal/db"
	"github.com/sells-group/pumpcast/internal/fetcher"
	"github.com/sells-group/pumpcast/internal/gold"
	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/monitoring"
	"github.com/sells-group/pumpcast/internal/pipeline"
	"github.com/sells-group/pumpcast/internal/resilience"
	"github.com/sells-group/pumpcast/internal/silver"
	"github.com/sells-group/pumpcast/internal/source"
	"github.com/sells-group/pumpcast/internal/store"
	"github.com/sells-group/pumpcast/internal/validate"
)

// pipelineEnv holds the stores, the orchestrator and the monitoring pieces
// needed by the run/serve/daemon commands.
type pipelineEnv struct {
	Runs      *store.SQLiteStore
	Bronze    *bronze.Store
	Silver    *silver.Store
	Catalog   *silver.Catalog
	Artifacts *gold.Artifacts
	Registry  *source.Registry // nil without sources
	Pool      *pgxpool.Pool    // nil without publish.database_url

	Orchestrator *pipeline.Orchestrator
	Health       *monitoring.HealthChecker
	Metrics      *monitoring.Metrics
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Pool != nil {
		pe.Pool.Close()
	}
	if pe.Silver != nil {
		_ = pe.Silver.Close()
	}
	if pe.Bronze != nil {
		_ = pe.Bronze.Close()
	}
	if pe.Runs != nil {
		_ = pe.Runs.Close()
	}
}

// initOpts selects the optional parts of the environment.
type initOpts struct {
	// Sources registers the upstream connectors. Requires the EIA key.
	Sources bool
	// Publish connects to Postgres when a database URL is configured.
	Publish bool
}

// initPipeline opens the layer stores, builds the Gold builder and the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, opts initOpts) (*pipelineEnv, error) {
	env := &pipelineEnv{Metrics: monitoring.NewMetrics()}
	if err := env.open(ctx); err != nil {
		env.Close()
		return nil, err
	}

	disabled := disabledDatasets()
	var sources []source.Source
	if opts.Sources {
		reg, err := source.NewRegistry(cfg)
		if err != nil {
			env.Close()
			return nil, exitWith(pipeline.ExitConfig, err)
		}
		env.Registry = reg
		sources = reg.All()
		disabled = reg.DisabledDatasets()
		for _, name := range reg.Disabled() {
			zap.L().Warn("source disabled: credentials not set", zap.String("source", name))
		}
	}

	goldOpts, err := gold.OptionsFrom(cfg.Gold)
	if err != nil {
		env.Close()
		return nil, exitWith(pipeline.ExitConfig, err)
	}
	if slices.Contains(disabled, model.DatasetNOAATemperature) {
		goldOpts = goldOpts.WithoutColumns(model.ColTempAnomaly)
	}
	builder := gold.NewBuilder(env.Catalog, goldOpts)

	deps := pipeline.Deps{
		Runs:             env.Runs,
		Bronze:           bronze.NewIngestor(env.Bronze, newFetcher(), cfg.Sources.Workers),
		Sources:          sources,
		Silver:           silver.NewTransformer(env.Bronze, env.Silver, env.Catalog, silverOptions()),
		SilverTables:     env.Silver,
		Catalog:          env.Catalog,
		DisabledDatasets: disabled,
		Gold:             builder,
		Artifacts:        env.Artifacts,
		GoldRules: validate.GoldRules{
			Required:     append(append([]model.Column{}, goldOpts.Mandatory...), goldOpts.Required...),
			FillBounds:   builder.FillBounds(),
			OutlierSigma: cfg.Validation.OutlierSigma,
		},
		Observer: env.Metrics,
	}

	if opts.Publish && cfg.Publish.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.Publish.DatabaseURL, nil)
		if err != nil {
			zap.L().Warn("postgres unavailable, gold will not be published", zap.Error(err))
		} else {
			env.Pool = pool
			deps.Publisher = gold.NewPublisher(pool, cfg.Publish.Table)
		}
	}

	env.Orchestrator = pipeline.New(deps)
	env.Health = monitoring.NewHealthChecker(cfg.Health, env.Catalog, env.Silver, env.Artifacts,
		cfg.Data.ForecastPath(), disabled)
	return env, nil
}

// open opens the run log, Bronze and Silver stores and loads the catalog.
func (pe *pipelineEnv) open(ctx context.Context) error {
	cat, err := loadCatalog()
	if err != nil {
		return exitWith(pipeline.ExitConfig, err)
	}
	pe.Catalog = cat

	runs, err := store.NewSQLite(cfg.Data.RunsPath())
	if err != nil {
		return eris.Wrap(err, "open run log")
	}
	pe.Runs = runs
	if err := runs.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate run log")
	}

	if pe.Bronze, err = bronze.Open(ctx, cfg.Data.BronzePath()); err != nil {
		return err
	}
	if pe.Silver, err = silver.OpenStore(ctx, cfg.Data.SilverPath()); err != nil {
		return err
	}
	pe.Artifacts = gold.NewArtifacts(cfg.Data.GoldDir())
	return nil
}

func loadCatalog() (*silver.Catalog, error) {
	if cfg.Silver.CatalogPath != "" {
		return silver.LoadCatalog(cfg.Silver.CatalogPath)
	}
	return silver.DefaultCatalog()
}

func newFetcher() *fetcher.HTTPFetcher {
	cbCfg := resilience.FromCircuitConfig(cfg.HTTP.Circuit)
	cbCfg.ShouldTrip = resilience.IsTransient
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
		Retry:     resilience.FromRetryConfig(cfg.HTTP.Retry),
		Breakers:  resilience.NewHostBreakers(cbCfg),
	})
}

func silverOptions() silver.Options {
	h := cfg.Sources.HURDAT
	return silver.Options{
		StormBox: silver.Box{LatMin: h.LatMin, LatMax: h.LatMax, LonMin: h.LonMin, LonMax: h.LonMax},
		Since:    cfg.Sources.StartDate(),
	}
}

// disabledDatasets lists the datasets switched off by missing credentials
// without building the source registry.
func disabledDatasets() []string {
	if cfg.Sources.NOAA.Token == "" {
		return []string{model.DatasetNOAATemperature}
	}
	return nil
}

