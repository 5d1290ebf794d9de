// Package app builds the long-lived services from configuration and holds
// them for the CLI commands and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/api"
	"github.com/JakeFAU/pressroom/internal/cache"
	"github.com/JakeFAU/pressroom/internal/categorize"
	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/config"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/crawler"
	"github.com/JakeFAU/pressroom/internal/derive"
	"github.com/JakeFAU/pressroom/internal/emails"
	"github.com/JakeFAU/pressroom/internal/embed"
	"github.com/JakeFAU/pressroom/internal/events"
	"github.com/JakeFAU/pressroom/internal/extract"
	"github.com/JakeFAU/pressroom/internal/hash/sha256"
	"github.com/JakeFAU/pressroom/internal/id/uuid"
	"github.com/JakeFAU/pressroom/internal/llm"
	"github.com/JakeFAU/pressroom/internal/logging"
	"github.com/JakeFAU/pressroom/internal/metrics"
	"github.com/JakeFAU/pressroom/internal/normalize"
	"github.com/JakeFAU/pressroom/internal/notify"
	"github.com/JakeFAU/pressroom/internal/orchestrator"
	"github.com/JakeFAU/pressroom/internal/pipeline"
	"github.com/JakeFAU/pressroom/internal/policy/ratelimit"
	"github.com/JakeFAU/pressroom/internal/publisher"
	memorypublisher "github.com/JakeFAU/pressroom/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pressroom/internal/publisher/pubsub"
	"github.com/JakeFAU/pressroom/internal/queue"
	queuememory "github.com/JakeFAU/pressroom/internal/queue/memory"
	queueredis "github.com/JakeFAU/pressroom/internal/queue/redis"
	"github.com/JakeFAU/pressroom/internal/retry"
	"github.com/JakeFAU/pressroom/internal/scheduler"
	"github.com/JakeFAU/pressroom/internal/search"
	"github.com/JakeFAU/pressroom/internal/sources"
	gcsstorage "github.com/JakeFAU/pressroom/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pressroom/internal/storage/local"
	memorystorage "github.com/JakeFAU/pressroom/internal/storage/memory"
	memorystore "github.com/JakeFAU/pressroom/internal/store/memory"
	"github.com/JakeFAU/pressroom/internal/store/postgres"
	"github.com/JakeFAU/pressroom/internal/telemetry"
)

// Mode selects how index updates leave the event bus.
type Mode int

const (
	// ModeCLI applies index updates inline, so a command's changes are
	// searchable when it returns.
	ModeCLI Mode = iota
	// ModeServe turns index updates into queued tasks on the index lane.
	ModeServe
)

// Options are build-time settings that do not come from the config file.
type Options struct {
	Mode    Mode
	Version string
}

// Pipeline runs the stages synchronously.
type Pipeline interface {
	Crawl(ctx context.Context, req pipeline.CrawlRequest) (pipeline.CrawlReport, error)
	Process(ctx context.Context, limit int, reprocess bool) (pipeline.ProcessReport, error)
	Categorize(ctx context.Context, limit int) (int, error)
	Embed(ctx context.Context, limit int) (int, int, error)
	SyncCategories(ctx context.Context) (int, error)
	GuessEmails(ctx context.Context, limit int) (emails.Result, error)
	CleanJournalists(ctx context.Context) (int, error)
}

// Index manages the search replica.
type Index interface {
	Sync(ctx context.Context, journalistID int64) error
	Delete(ctx context.Context, journalistID int64) error
	Reconcile(ctx context.Context, window time.Duration) (int, error)
	Rebuild(ctx context.Context) (int, error)
	Status(ctx context.Context) (search.Status, error)
}

// Importer loads source lists.
type Importer interface {
	Import(ctx context.Context, entries []sources.Entry) (sources.Report, error)
}

var (
	_ Pipeline = (*pipeline.Runner)(nil)
	_ Index    = (*search.Synchronizer)(nil)
	_ Importer = (*sources.Importer)(nil)
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	opts   Options
	logger *zap.Logger
	clock  core.Clock

	store     core.Store
	redis     goredis.UniversalClient
	broker    queue.Broker
	bus       *events.Bus
	notifier  notify.Notifier
	publisher publisher.Publisher
	pubsub    *gcppublisher.Publisher
	gcs       *gcsstorage.BlobStore
	renderer  *crawler.ChromedpRenderer
	index     *search.Synchronizer
	importer  *sources.Importer
	runner    *pipeline.Runner
	orch      *orchestrator.Orchestrator
	apiServer *api.Server

	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Errors wrapping
// core.ErrFatalConfig mean the configuration cannot work.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, opts: opts, logger: logger, clock: system.New()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	a.logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if err := a.setupTelemetry(ctx); err != nil {
		return err
	}
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	if err := a.setupRedis(ctx); err != nil {
		return err
	}
	a.notifier = a.setupNotifier()
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}

	a.bus = events.NewBus()
	policy := a.retryPolicy()
	failed := a.failedDomains()

	model := llm.New(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		EmbedModel: cfg.LLM.EmbedModel,
		Timeout:    cfg.LLM.Timeout,
		Limiter:    ratelimit.New(ratelimit.Config{DefaultRPS: cfg.LLM.RPS, DefaultBurst: cfg.LLM.Burst}),
		Retry:      policy,
	}, a.logger)

	a.index = search.NewSynchronizer(search.NewClient(search.Config{
		URL:        cfg.Index.URL,
		APIKey:     cfg.Index.APIKey,
		Collection: cfg.Index.Collection,
		Timeout:    cfg.Index.Timeout,
	}), a.store, a.clock, policy, a.logger)

	deriver := derive.New(a.store, a.bus, a.logger)
	deriver.Subscribe(a.bus)
	publisher.Forward(a.bus, a.publisher, a.clock, a.logger)

	siteCrawler, err := a.setupCrawler(blobs, failed)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Store:    a.store,
		Selector: scheduler.NewResolver(a.store, a.clock, scheduler.Config{StalenessWindow: cfg.Scheduler.StalenessWindow, DomainLimit: cfg.Scheduler.DomainLimit}),
		Crawler:  siteCrawler,
		Extractor: extract.New(model, a.store, a.bus, extract.Config{
			MaxContentChars: cfg.Extract.MaxContentChars,
		}, a.logger),
		Categorizer: categorize.New(model, a.store, a.bus, categorize.Config{
			ExcerptChars: cfg.Categorize.ExcerptChars,
			BatchSize:    cfg.Categorize.BatchSize,
		}, a.logger),
		Embedder: embed.NewGenerator(model, a.store, embed.NewTruncator(cfg.Embed.Encoding), policy, embed.Config{
			BatchSize:  cfg.Embed.BatchSize,
			MaxTokens:  cfg.Embed.MaxTokens,
			Dimensions: cfg.Embed.Dimensions,
		}, a.logger),
		Indexer:   a.index,
		Deriver:   deriver,
		Emails:    a.setupEmails(failed, policy),
		Bus:       a.bus,
		Publisher: a.publisher,
		Notifier:  a.notifier,
		Clock:     a.clock,
	}

	a.runner = pipeline.NewRunner(deps, pipeline.RunnerConfig{
		CrawlConcurrency:   cfg.Queue.Concurrency[queue.LaneCrawl],
		ProcessConcurrency: cfg.Extract.Concurrency,
	}, a.logger)
	a.importer = sources.NewImporter(a.store, a.logger)
	a.setupOrchestrator(deps, policy)

	switch {
	case cfg.Index.URL == "":
		a.logger.Warn("no search index configured, index updates are not propagated")
	case a.opts.Mode == ModeServe:
		pipeline.RouteIndexEvents(a.bus, a.orch)
	default:
		pipeline.PushIndexEvents(a.bus, a.index, a.logger)
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(a.store, a.orch, a.importer, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, a.logger)

	a.logger.Info("application built")
	return nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     a.opts.Version,
		Exporter:    a.cfg.Telemetry.Exporter,
		Endpoint:    a.cfg.Telemetry.Endpoint,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.logger.Info("tracing enabled", zap.String("exporter", a.cfg.Telemetry.Exporter))
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	db := a.cfg.Database
	if db.DSN == "" {
		a.logger.Warn("no database DSN configured, using the in-memory store")
		a.store = memorystore.New(a.clock)
		return nil
	}
	if db.MigrateOnStart {
		version, err := postgres.Migrate(db.DSN)
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.logger.Info("database migrated", zap.Uint("version", version))
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.store = store
	a.logger.Info("postgres store initialized")
	return nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if a.cfg.Queue.Backend != "redis" && a.cfg.FailedDomains.Backend != "redis" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redis = client
	a.logger.Info("redis connected", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupNotifier() notify.Notifier {
	if a.cfg.Notify.SlackWebhookURL == "" {
		return notify.NewLog(a.logger)
	}
	slack, err := notify.NewSlack(notify.SlackConfig{WebhookURL: a.cfg.Notify.SlackWebhookURL})
	if err != nil {
		a.logger.Warn("slack notifier disabled", zap.Error(err))
		return notify.NewLog(a.logger)
	}
	return slack
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (core.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = blobs
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) retryPolicy() retry.Policy {
	r := a.cfg.Retry
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Initial:     r.Initial,
		Max:         r.Max,
		Multiplier:  r.Multiplier,
	}.WithOnRetry(func(err error, wait time.Duration) {
		a.logger.Warn("transient failure, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
}

func (a *App) failedDomains() cache.FailedDomains {
	if a.cfg.FailedDomains.Backend == "redis" && a.redis != nil {
		return cache.NewRedis(a.redis, a.cfg.Redis.KeyPrefix+"failed:", a.cfg.FailedDomains.TTL)
	}
	return cache.NewMemory(a.cfg.FailedDomains.TTL, a.clock)
}

func (a *App) setupCrawler(blobs core.BlobStore, failed cache.FailedDomains) (*crawler.SiteCrawler, error) {
	cfg := a.cfg
	var renderer crawler.Renderer
	if cfg.Headless.Enabled {
		r, err := crawler.NewChromedpRenderer(crawler.RendererConfig{
			MaxParallel: cfg.Headless.MaxParallel,
			NavTimeout:  cfg.Headless.NavTimeout,
			UserAgent:   cfg.Crawler.UserAgent,
		}, a.logger)
		if err != nil {
			a.logger.Warn("headless renderer init failed, rendering disabled", zap.Error(err))
		} else {
			a.renderer = r
			renderer = r
			a.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	return crawler.New(crawler.Deps{
		Store:         a.store,
		Normalizer:    normalize.New(),
		Clock:         a.clock,
		Archiver:      crawler.NewArchiver(blobs, sha256.New(), cfg.Storage.Prefix),
		Detector:      crawler.NewHeuristicDetector(cfg.Headless.PromotionThreshold, cfg.Headless.MinTextChars, crawler.DefaultSPAMarkers),
		Renderer:      renderer,
		FailedDomains: failed,
		Limiter:       ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.HostRPS, DefaultBurst: cfg.Crawler.HostBurst}),
	}, crawler.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Crawler.Timeout,
		Parallelism:  cfg.Crawler.Parallelism,
		Delay:        cfg.Crawler.Delay,
		IgnoreRobots: cfg.Crawler.IgnoreRobots,
		MaxPages:     cfg.Crawler.MaxPages,
		MaxDepth:     cfg.Crawler.MaxDepth,
	}, a.logger), nil
}

func (a *App) setupEmails(failed cache.FailedDomains, policy retry.Policy) *emails.Guesser {
	var finder emails.Finder
	if a.cfg.Emails.HunterAPIKey != "" {
		finder = emails.NewHunter(emails.HunterConfig{
			BaseURL: a.cfg.Emails.HunterBaseURL,
			APIKey:  a.cfg.Emails.HunterAPIKey,
			Limiter: ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Emails.HunterRPS, DefaultBurst: 1}),
			Retry:   policy,
		})
		a.logger.Info("email discovery uses Hunter before pattern guessing")
	}
	return emails.New(a.store, nil, finder, failed, a.bus, a.logger)
}

func (a *App) setupOrchestrator(deps pipeline.Deps, policy retry.Policy) {
	cfg := a.cfg
	if cfg.Queue.Backend == "redis" && a.redis != nil {
		a.broker = queueredis.New(a.redis, queueredis.Config{
			Prefix:      cfg.Redis.KeyPrefix,
			PollTimeout: cfg.Queue.PollTimeout,
			Clock:       a.clock,
		})
	} else {
		a.broker = queuememory.NewBroker(cfg.Queue.Capacity)
	}

	a.orch = orchestrator.New(a.broker, uuid.NewUUIDGenerator(), a.clock, orchestrator.Config{
		Concurrency: cfg.Queue.Concurrency,
		Retry:       policy,
	}, a.logger)
	pipeline.NewHandlers(deps, a.orch, a.logger).Register(a.orch)

	a.orch.OnError(func(ctx context.Context, task queue.Task, err error) {
		notify.Alert(ctx, a.notifier, a.logger, fmt.Sprintf("task %s (%s) failed after %d attempts: %v",
			task.Kind, task.ID, task.Attempt, err))
	})

	a.orch.Every(cfg.Schedule.PipelineInterval, pipeline.KindCrawlSources, func() any {
		return pipeline.CrawlRequest{DomainLimit: cfg.Scheduler.DomainLimit}
	})
	if cfg.Index.URL != "" {
		a.orch.Every(cfg.Schedule.ReconcileInterval, pipeline.KindIndexReconcile, func() any {
			return pipeline.ReconcileTask{Window: cfg.Index.ReconcileWindow}
		})
	}
	a.orch.Every(cfg.Schedule.HealthInterval, pipeline.KindHealthCheck, nil)
	a.orch.Every(cfg.Schedule.EmailsInterval, pipeline.KindGuessEmails, func() any {
		return pipeline.LimitTask{Limit: cfg.Emails.Limit}
	})
	a.orch.Every(cfg.Schedule.ProcessInterval, pipeline.KindProcessPages, func() any {
		return pipeline.LimitTask{Limit: cfg.Extract.BatchSize}
	})
	a.orch.Every(cfg.Schedule.CategorizeInterval, pipeline.KindCategorizePages, func() any {
		return pipeline.LimitTask{Limit: cfg.Categorize.BatchSize}
	})
	a.orch.Every(cfg.Schedule.SyncInterval, pipeline.KindSyncCategories, nil)
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Notifier returns the operator notifier.
func (a *App) Notifier() notify.Notifier { return a.notifier }

// Pipeline returns the synchronous stage runner.
func (a *App) Pipeline() Pipeline { return a.runner }

// Index returns the search synchronizer.
func (a *App) Index() Index { return a.index }

// Importer returns the source importer.
func (a *App) Importer() Importer { return a.importer }

// Submit enqueues a task for the serve workers.
func (a *App) Submit(ctx context.Context, kind string, payload any) (string, error) {
	id, err := a.orch.Submit(ctx, kind, payload)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", kind, err)
	}
	return id, nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Serve runs the API and the lane workers until the context is canceled or
// the process receives SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchDone := make(chan error, 1)
	go func() {
		a.logger.Info("orchestrator started", zap.Strings("lanes", a.orch.Lanes()))
		orchDone <- a.orch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-orchDone; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}

// Close releases every service the app opened. It is safe on a partially
// built app.
func (a *App) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("broker close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := logging.Sync(a.logger); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}
