package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpadapter "github.com/kirillkom/proposal-compliance/internal/adapters/http"
	mcpadapter "github.com/kirillkom/proposal-compliance/internal/adapters/mcp"
	"github.com/kirillkom/proposal-compliance/internal/config"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
	"github.com/kirillkom/proposal-compliance/internal/core/processing"
	"github.com/kirillkom/proposal-compliance/internal/core/provider"
	"github.com/kirillkom/proposal-compliance/internal/core/usecase"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/callback"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/chunking"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/llm/cloud"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/llm/simulated"
	natsqueue "github.com/kirillkom/proposal-compliance/internal/infrastructure/queue/nats"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/report/xlsx"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/repository/memory"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/repository/retrying"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/storage/localfs"
	miniostorage "github.com/kirillkom/proposal-compliance/internal/infrastructure/storage/minio"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/thermal"
	"github.com/kirillkom/proposal-compliance/internal/observability/metrics"
)

const (
	Version = "1.0.0"

	cloudTimeout       = 2 * time.Minute
	localModelTimeout  = 5 * time.Minute
	callbackTimeout    = 10 * time.Second
	cpuSampleInterval  = 500 * time.Millisecond
	remotePublishLimit = 5 * time.Second
)

// Role selects which parts of the graph a process runs.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

type App struct {
	Config config.Config
	Role   Role
	Logger *slog.Logger

	Store       ports.SessionStore
	Storage     ports.ObjectStorage
	Providers   *provider.Router
	Broadcaster *processing.Broadcaster
	// Pool is nil on API nodes that dispatch to remote workers.
	Pool *processing.Pool
	// Bus is nil when NATS_URL is empty.
	Bus *natsqueue.Bus

	Analysis *usecase.AnalysisUseCase
	Uploader *usecase.UploadDocumentUseCase
	Pipeline *usecase.AnalyzeDocumentUseCase

	WorkerMetrics *metrics.WorkerMetrics
	HTTPMetrics   *metrics.HTTPServerMetrics

	checks  map[string]httpadapter.HealthCheck
	closeFn []func()
}

func New(ctx context.Context, cfg config.Config, role Role, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:      cfg,
		Role:        role,
		Logger:      logger,
		Broadcaster: processing.NewBroadcaster(logger),
		checks:      map[string]httpadapter.HealthCheck{},
	}

	if err := app.initStore(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initBus(); err != nil {
		app.Close()
		return nil, err
	}

	app.Providers = newProviderRouter(cfg, logger)
	// Fail fast when neither the configured kind nor the fallback can be built.
	if _, err := app.Providers.Resolve(""); err != nil {
		app.Close()
		return nil, fmt.Errorf("resolve analysis provider: %w", err)
	}

	extractor := pdf.NewExtractor(app.Storage)
	app.Pipeline = usecase.NewAnalyzeDocumentUseCase(app.Store, extractor, app.Providers, app.Broadcaster, logger)
	app.Uploader = usecase.NewUploadDocumentUseCase(app.Storage)

	var (
		submitter usecase.TaskSubmitter
		canceller usecase.TaskCanceller
	)
	if app.runsPool() {
		app.WorkerMetrics = metrics.NewWorkerMetrics(string(role))
		app.Pool = processing.NewPool(processing.Config{
			Workers: cfg.MaxConcurrentAnalyses,
			Retry: processing.RetryPolicy{
				MaxRetries: cfg.MaxTaskRetries,
				TimeUnit:   cfg.RetryTimeUnit,
			},
		}, app.Store, app.Broadcaster, app.WorkerMetrics, logger)
		submitter, canceller = app.Pool, app.Pool
		app.attachPoolSubscribers()
	} else {
		if app.Bus == nil {
			app.Close()
			return nil, fmt.Errorf("dispatch mode %q requires NATS_URL", cfg.DispatchMode)
		}
		submitter = usecase.NewQueueSubmitter(app.Bus, remotePublishLimit, logger)
	}

	app.Analysis = usecase.NewAnalysisUseCase(app.Store, submitter, canceller, xlsx.NewRenderer(), logger)
	return app, nil
}

func (a *App) runsPool() bool {
	return a.Role == RoleWorker || a.Config.DispatchMode != config.DispatchNATS
}

func (a *App) initStore(ctx context.Context) error {
	if a.Config.PostgresDSN == "" {
		if a.Config.DispatchMode == config.DispatchNATS {
			a.Logger.Warn("session_store_in_memory", "reason", "POSTGRES_DSN is empty; API and worker nodes will not share sessions")
		}
		a.Store = memory.NewSessionStore()
		return nil
	}

	db, err := postgres.OpenDB(a.Config.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	a.closeFn = append(a.closeFn, func() { _ = db.Close() })

	repo := postgres.NewSessionRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.Store = retrying.NewSessionStore(repo, resilience.NewExecutor(resilience.StoreConfig(), a.Logger))
	a.checks["database"] = pingCheck(db)
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.Config.StorageBackend {
	case config.StorageMinIO:
		storage, err := miniostorage.New(ctx, miniostorage.Config{
			Endpoint:  a.Config.S3Endpoint,
			Region:    a.Config.S3Region,
			Bucket:    a.Config.S3Bucket,
			AccessKey: a.Config.S3AccessKey,
			SecretKey: a.Config.S3SecretKey,
			UseSSL:    a.Config.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("init minio storage: %w", err)
		}
		a.Storage = storage
	case config.StorageLocalFS, "":
		storage, err := localfs.New(a.Config.StoragePath)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		a.Storage = storage
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", a.Config.StorageBackend)
	}
	return nil
}

func (a *App) initBus() error {
	if a.Config.NATSURL == "" {
		return nil
	}
	bus, err := natsqueue.New(a.Config.NATSURL, natsqueue.Options{
		RequestsSubject:    a.Config.NATSRequestsSubject,
		EventsSubject:      a.Config.NATSEventsSubject,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), a.Logger),
		Logger:             a.Logger,
	})
	if err != nil {
		return fmt.Errorf("init message bus: %w", err)
	}
	a.Bus = bus
	a.closeFn = append(a.closeFn, bus.Close)
	a.checks["nats"] = func(context.Context) error {
		if !bus.Connected() {
			return errors.New("nats connection is not established")
		}
		return nil
	}
	return nil
}

// attachPoolSubscribers wires consumers of events produced by the local
// pool: client callbacks and the outbound NATS relay.
func (a *App) attachPoolSubscribers() {
	notifier := callback.NewNotifier(callbackTimeout, resilience.NewExecutor(resilience.CallbackConfig(), a.Logger))
	callbacks := usecase.NewCallbackSubscriber(a.Store, notifier, a.Logger)
	a.Broadcaster.Subscribe(callbacks)
	a.closeFn = append(a.closeFn, func() {
		a.Broadcaster.Unsubscribe(callbacks)
		callbacks.Close()
	})
	if a.Bus != nil {
		a.Broadcaster.Subscribe(natsqueue.NewRelaySubscriber(a.Bus))
	}
}

func newProviderRouter(cfg config.Config, logger *slog.Logger) *provider.Router {
	defaultKind := cfg.AnalysisMode
	if cfg.AirSpecMode {
		defaultKind = string(provider.KindLocal)
	}
	router := provider.NewRouter(defaultKind, logger)

	router.Register(provider.KindSimulated, func() (ports.AnalysisProvider, error) {
		return simulated.New("simulated analysis mode")
	})

	router.Register(provider.KindLocal, func() (ports.AnalysisProvider, error) {
		var fallback ports.AnalysisProvider
		if cfg.AllowSimulatedFallback {
			sim, err := simulated.New("local model unavailable")
			if err != nil {
				return nil, err
			}
			fallback = sim
		}

		client := ollama.New(cfg.LocalLLMURL, cfg.LocalLLMModel, localModelTimeout,
			resilience.NewExecutor(resilience.ModelConfig(), logger), logger)
		opts := ollama.Options{
			UseLLM:        cfg.UseLocalLLM,
			MultiStage:    cfg.LocalLLMMultiStage,
			AllowFallback: cfg.AllowSimulatedFallback,
		}
		if cfg.AirSpecMode {
			guard := thermal.NewGuard(thermal.NewMonitor(cpuSampleInterval, logger), cfg.CPUUsageThreshold, cfg.CoolDown(), logger)
			return ollama.NewProvider(client, chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap), guard, fallback, opts, logger), nil
		}
		return ollama.NewProvider(client, chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap), nil, fallback, opts, logger), nil
	})

	// Air-gapped deployments never reach a hosted model. Without a key the
	// cloud kind stays unregistered and resolves to the fallback.
	if !cfg.AirSpecMode && cfg.OpenAIAPIKey != "" {
		router.Register(provider.KindCloud, func() (ports.AnalysisProvider, error) {
			return cloud.New(cloud.Config{
				APIKey:  cfg.OpenAIAPIKey,
				BaseURL: cfg.OpenAIBaseURL,
				Model:   cfg.OpenAIModel,
				Timeout: cloudTimeout,
			}, logger), nil
		})
	}
	return router
}

// StartPool launches the local workers with the analysis pipeline bound.
func (a *App) StartPool() error {
	if a.Pool == nil {
		return nil
	}
	timeout := a.Config.AnalysisTimeout()
	return a.Pool.Start(func(ctx context.Context, task *processing.Task) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return a.Pipeline.Run(ctx, task.SessionID, task.Request)
	})
}

// StopPool drains the local workers.
func (a *App) StopPool(timeout time.Duration) {
	if a.Pool != nil {
		a.Pool.Stop(timeout)
	}
}

// ConsumeRequests feeds remote submissions into the local pool until ctx
// is done.
func (a *App) ConsumeRequests(ctx context.Context) error {
	if a.Bus == nil || a.Pool == nil {
		return fmt.Errorf("consume requests: NATS_URL and a local pool are required")
	}
	intake := usecase.NewWorkerIntake(a.Pool, a.Logger)
	return a.Bus.SubscribeAnalysisRequests(ctx, intake.Handle)
}

// RelayRemoteProgress re-broadcasts worker events to local subscribers. It
// only runs on API nodes without a local pool, so relayed events never
// loop back onto the bus.
func (a *App) RelayRemoteProgress(ctx context.Context) error {
	if a.Bus == nil || a.Pool != nil {
		return nil
	}
	return a.Bus.SubscribeProgress(ctx, a.Broadcaster.Broadcast)
}

// HTTPHandler builds the API router with MCP and metrics mounted.
func (a *App) HTTPHandler() (http.Handler, error) {
	a.HTTPMetrics = metrics.NewHTTPServerMetrics(string(a.Role))

	var (
		metricsHandler http.Handler
		queue          httpadapter.QueueReporter
		mcpQueue       mcpadapter.QueueReporter
	)
	if a.WorkerMetrics != nil {
		metricsHandler = a.HTTPMetrics.HandlerWith(a.WorkerMetrics.Registry())
	}
	if a.Pool != nil {
		queue, mcpQueue = a.Pool, a.Pool
	}

	mcp := mcpadapter.NewServer(Version, a.Analysis, mcpQueue, a.Logger)
	router, err := httpadapter.NewRouter(a.Config, httpadapter.Dependencies{
		Uploader:       a.Uploader,
		Analysis:       a.Analysis,
		Queue:          queue,
		Providers:      a.Providers,
		Hub:            a.Broadcaster,
		Checks:         a.checks,
		Metrics:        a.HTTPMetrics,
		MetricsHandler: metricsHandler,
		MCP:            mcp.Handler(),
		Logger:         a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build http router: %w", err)
	}
	return router.Handler(), nil
}

func (a *App) Close() {
	for i := len(a.closeFn) - 1; i >= 0; i-- {
		a.closeFn[i]()
	}
	a.closeFn = nil
}

func pingCheck(db *sql.DB) httpadapter.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
