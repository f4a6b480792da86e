package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jaig1/agenticbot/internal/agents"
	"github.com/jaig1/agenticbot/internal/config"
	"github.com/jaig1/agenticbot/internal/llm"
	"github.com/jaig1/agenticbot/internal/logging"
	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/policy"
	"github.com/jaig1/agenticbot/internal/schema"
	"github.com/jaig1/agenticbot/internal/secrets"
	"github.com/jaig1/agenticbot/internal/session"
	"github.com/jaig1/agenticbot/internal/session/sqlitestore"
	"github.com/jaig1/agenticbot/internal/telemetry"
	"github.com/jaig1/agenticbot/internal/trail"
)

const orchestratorScope = "github.com/jaig1/agenticbot/internal/orchestrator"

// app holds everything one process needs to run turns.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	service *session.Service

	closers []func() error
}

// appOptions adjusts logging for the command being run.
type appOptions struct {
	// stderrLogs keeps stdout free for a protocol or the REPL.
	stderrLogs bool
	// level overrides the configured log level when set.
	level string
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires config into a ready session service:
// telemetry, logging, model, schema, warehouse, collaborators, policy,
// trail sinks, engine and store.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.tel, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return a.tel.Shutdown(context.Background()) })

	logSettings := cfg.Logging
	if opts.level != "" {
		logSettings.Level = opts.level
	}
	logCfg, err := logging.FromSettings(logSettings, a.tel.LoggerProvider() != nil)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stderr = opts.stderrLogs
	if a.logger, err = logging.NewLogger(logCfg, a.tel.LoggerProvider()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, a.logger.Sync)
	zl := a.logger.Underlying()
	for _, reason := range a.tel.Health().Reasons {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}

	lcfg := llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey.Value(),
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		RateLimit:   cfg.LLM.RateLimit,
		Burst:       cfg.LLM.Burst,
	}
	model, err := llm.NewModel(lcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm model: %w", err)
	}
	client := llm.NewClient(model, lcfg)

	art, err := schema.NewLoader(cfg.Schema.Path).Get()
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "schema loaded",
		zap.String("source", art.Source()),
		zap.String("digest", art.Digest()),
		zap.Int("tables", len(art.Tables())))

	if !cfg.Warehouse.DSN.IsSet() {
		return nil, errors.New("warehouse.dsn is required")
	}
	db, err := sql.Open(cfg.Warehouse.Driver, cfg.Warehouse.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach warehouse: %w", err)
	}

	planner := agents.NewLLMPlanner(client, art, zl.Named("planner"))
	executor := agents.NewSQLExecutor(db, client, art,
		agents.WithMaxRows(cfg.Warehouse.MaxRows),
		agents.WithQueryTimeout(cfg.Warehouse.QueryTimeout.Duration()),
		agents.WithExecutorLogger(zl.Named("executor")),
	)
	responder := agents.NewLLMResponder(client)

	var decider orchestrator.Policy
	switch cfg.Engine.Policy {
	case config.PolicyRules:
		decider = policy.NewRules()
	default:
		if decider, err = policy.NewLLM(client, zl.Named("policy")); err != nil {
			return nil, fmt.Errorf("failed to create llm policy: %w", err)
		}
	}

	engineOpts := []orchestrator.EngineOption{
		orchestrator.WithLimits(orchestrator.Limits{
			MaxIterations:          cfg.Engine.MaxIterations,
			MaxClarificationRounds: cfg.Engine.MaxClarificationRounds,
		}),
		orchestrator.WithTimeouts(orchestrator.Timeouts{
			Policy:    cfg.Engine.PolicyTimeout.Duration(),
			Planner:   cfg.Engine.CollaboratorTimeout.Duration(),
			Executor:  cfg.Engine.CollaboratorTimeout.Duration(),
			Clarifier: cfg.Engine.CollaboratorTimeout.Duration(),
			Responder: cfg.Engine.CollaboratorTimeout.Duration(),
		}),
		orchestrator.WithClarifier(agents.NewLLMClarifier(client)),
		orchestrator.WithLogger(zl.Named("engine")),
		orchestrator.WithTracer(a.tel.Tracer(orchestratorScope)),
		orchestrator.WithMetrics(orchestrator.NewMetrics(a.tel.Meter(orchestratorScope), zl)),
	}
	if cfg.Trail.Enabled {
		nc, err := trail.Connect(cfg.Trail.NATSURL, zl.Named("trail"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Drain)
		scrubber, err := newTrailScrubber(cfg.Trail)
		if err != nil {
			return nil, err
		}
		sink := trail.NewNATSSink(nc, cfg.Trail.Subject, trail.WithScrubber(scrubber))
		engineOpts = append(engineOpts, orchestrator.WithTrailSink(sink))
	}

	engine, err := orchestrator.NewEngine(decider, planner, executor, responder, engineOpts...)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.service = session.NewService(engine, session.WithStore(store), session.WithLogger(zl.Named("session")))
	a.logger.Info(ctx, "agenticbot ready",
		zap.String("policy", cfg.Engine.Policy),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("trail", cfg.Trail.Enabled))
	return a, nil
}

func newTrailScrubber(cfg config.TrailConfig) (*secrets.Scrubber, error) {
	fromFile, err := secrets.LoadAllowList(cfg.AllowListFile)
	if err != nil {
		return nil, err
	}
	sc, err := secrets.New(&secrets.Config{
		Enabled:   true,
		Rules:     secrets.DefaultRules(),
		AllowList: append(append([]string(nil), cfg.AllowList...), fromFile...),
		Gitleaks:  cfg.Gitleaks,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid trail allowlist: %w", err)
	}
	return sc, nil
}

func openStore(cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		s, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return s, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
