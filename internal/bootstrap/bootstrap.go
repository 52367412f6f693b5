package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/config"
	"github.com/kirillkom/agent-orchestrator/internal/core/decisioncache"
	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/intent"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/core/usecase"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/queue/nats"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/tools"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/tools/mcp"
	"github.com/kirillkom/agent-orchestrator/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Service *usecase.Service
	Metrics *metrics.OrchestratorMetrics
	Tools   *tools.Registry
	// Queue is nil when the process runs without NATS.
	Queue *nats.Queue

	closers []func() error
}

type Options struct {
	// Service labels metrics, e.g. "api" or "worker".
	Service string
	// WithQueue connects NATS. Responses of ingested batches are published
	// there; without it they are only logged.
	WithQueue bool
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	store, err := app.openSnapshotStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retrier := resilience.NewExecutor(resilienceConfig(cfg))

	engines := []ports.DecisionEngine{
		ollama.New("primary", cfg.EnginePrimaryURL, cfg.EnginePrimaryModel, cfg.EngineTimeout),
	}
	if cfg.EngineSecondaryURL != "" {
		model := cfg.EngineSecondaryModel
		if model == "" {
			model = cfg.EnginePrimaryModel
		}
		engines = append(engines, ollama.New("secondary", cfg.EngineSecondaryURL, model, cfg.EngineTimeout))
	}

	registry, err := app.buildTools(ctx, cfg, policy)
	if err != nil {
		return nil, err
	}
	app.Tools = registry

	var publisher ports.ResponsePublisher
	if opts.WithQueue {
		queue, err := nats.New(cfg.NATSURL, nats.Options{
			InboundSubject:     cfg.NATSInboundSubject,
			OutboundSubject:    cfg.NATSOutboundSubject,
			ResilienceExecutor: retrier,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, func() error { queue.Close(); return nil })
		publisher = queue
	}

	service := opts.Service
	if service == "" {
		service = "orchestrator"
	}
	app.Metrics = metrics.NewOrchestratorMetrics(service)

	cache := decisioncache.New(ctx, decisioncache.Options{
		MaxEntries: cfg.CacheMaxEntries,
		Store:      store,
	})

	svc, err := usecase.NewService(usecase.ServiceDeps{
		Engines:     engines,
		Tools:       registry,
		Classifier:  intent.New(),
		Generalizer: decisioncache.Generalizer{},
		Cache:       cache,
		Retrier:     retrier,
		ThreadStore: store,
		Publisher:   publisher,
		Recorder:    app.Metrics,
		Limits: domain.RunLimits{
			MaxIterations:      cfg.RunMaxIterations,
			ParallelWorkers:    cfg.RunParallelWorkers,
			ToolTimeout:        cfg.RunToolTimeout,
			EngineTimeout:      cfg.EngineTimeout,
			MaxToolRetries:     cfg.RunMaxToolRetries,
			CompactionTokens:   cfg.CompactionTokenThreshold,
			CompactionMessages: cfg.CompactionMessageThreshold,
			ConversationGap:    cfg.ConversationGap,
		},
		ToolPolicy:        policy.ToolPolicy(),
		CognitionPolicy:   policy.Cognition(),
		MergeWindow:       cfg.MergeWindow,
		ThreadIdleTimeout: cfg.ThreadIdleTimeout,
		MaxThreads:        cfg.MaxThreads,
	})
	if err != nil {
		return nil, fmt.Errorf("init session service: %w", err)
	}
	app.Service = svc
	// The service closes before the queue and stores it writes to.
	app.closers = append([]func() error{func() error { svc.Close(); return nil }}, app.closers...)

	slog.Info("bootstrap_ready",
		"service", service,
		"engines", len(engines),
		"tools", registry.Len(),
		"snapshot_backend", cfg.SnapshotBackend,
		"queue", opts.WithQueue,
	)
	return app, nil
}

func (a *App) openSnapshotStore(ctx context.Context, cfg config.Config) (ports.SnapshotStore, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotNone:
		return nil, nil
	case config.SnapshotPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		repo := postgres.NewSnapshotRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	case config.SnapshotSQLite:
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	default:
		storage, err := localfs.New(cfg.SnapshotDir)
		if err != nil {
			return nil, fmt.Errorf("init snapshot storage: %w", err)
		}
		return storage, nil
	}
}

func (a *App) buildTools(ctx context.Context, cfg config.Config, policy config.Policy) (*tools.Registry, error) {
	registry := tools.NewRegistry(cfg.RunToolTimeout)
	if _, err := tools.RegisterBuiltins(registry, time.Now); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	servers, err := mcp.ParseServers(cfg.MCPServers)
	if err != nil {
		return nil, err
	}
	if len(servers) > 0 {
		connected := mcp.ConnectAll(ctx, registry, servers)
		a.closers = append(a.closers, func() error { return mcp.CloseAll(connected) })
	}
	registry.SetParallelSafe(policy.ParallelSafeTools()...)
	return registry, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		rc.EngineMaxAttempts = cfg.RetryMaxAttempts
	}
	rc.BreakerEnabled = cfg.BreakerEnabled
	return rc
}

// Close releases resources in acquisition order with the session service
// first.
func (a *App) Close() {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.Warn("shutdown_errors", "error", err)
	}
}
