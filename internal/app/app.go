// -----------------------------------------------------------------------
// App - Builds and owns the application components: storage, queue,
// generation providers, the transformation pipeline, workers, reaper and
// HTTP handlers.
// -----------------------------------------------------------------------

package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/common"
	"github.com/ternarybob/muto/internal/handlers"
	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/jobs"
	"github.com/ternarybob/muto/internal/queue"
	"github.com/ternarybob/muto/internal/services/budget"
	"github.com/ternarybob/muto/internal/services/llm"
	"github.com/ternarybob/muto/internal/services/normalize"
	"github.com/ternarybob/muto/internal/services/prompt"
	"github.com/ternarybob/muto/internal/services/transform"
	badgerstorage "github.com/ternarybob/muto/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager  *badgerstorage.Manager
	QueueManager    interfaces.QueueManager
	ProviderFactory *llm.ProviderFactory
	Pipeline        *transform.Pipeline
	JobService      *jobs.Service
	Worker          *jobs.Worker
	Reaper          *jobs.Reaper

	JobHandler      *handlers.JobHandler
	DocumentHandler *handlers.DocumentHandler
	StatusHandler   *handlers.StatusHandler
}

// New builds the application from configuration. Components come up in
// dependency order: storage, queue, services, workers, handlers.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	// Storage
	storageManager, err := badgerstorage.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	// Queue shares the storage Badger instance
	visibility := common.ParseDurationOr(cfg.Queue.VisibilityTimeout, 5*time.Minute)
	queueManager, err := queue.NewManager(
		storageManager.DB().Store().Badger(),
		cfg.Queue.QueueName,
		visibility,
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		a.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueManager = queueManager

	// Generation providers
	a.ProviderFactory = llm.NewProviderFactory(&cfg.Gemini, &cfg.Claude, &cfg.LLM, logger)

	// Pipeline
	defaultModel := a.ProviderFactory.GetDefaultModel(llm.ProviderType(cfg.LLM.DefaultProvider))
	temperature := cfg.Claude.Temperature
	if cfg.LLM.DefaultProvider == common.LLMProviderGemini {
		temperature = cfg.Gemini.Temperature
	}
	a.Pipeline = transform.NewPipeline(
		storageManager.DocumentStorage(),
		normalize.NewService(logger),
		budget.NewService(logger),
		prompt.NewService(logger),
		a.ProviderFactory,
		logger,
		transform.Options{
			MaxPromptChars: cfg.Jobs.MaxPromptChars,
			Model:          defaultModel,
			Temperature:    temperature,
		},
	)

	// Job submission, workers, reclaim sweep
	a.JobService = jobs.NewService(
		storageManager.JobStorage(),
		storageManager.DocumentStorage(),
		queueManager,
		logger,
		cfg.Jobs.ListLimit,
	)
	a.Worker = jobs.NewWorker(
		queueManager,
		storageManager.JobStorage(),
		a.Pipeline,
		logger,
		jobs.WorkerConfig{
			Concurrency:     cfg.Queue.Concurrency,
			PollInterval:    common.ParseDurationOr(cfg.Queue.PollInterval, time.Second),
			PipelineTimeout: common.ParseDurationOr(cfg.Jobs.PipelineTimeout, 5*time.Minute),
			LeaseExtension:  visibility,
		},
	)
	a.Reaper = jobs.NewReaper(
		storageManager.JobStorage(),
		queueManager,
		logger,
		jobs.ReaperConfig{
			Schedule:    cfg.Jobs.ReclaimSchedule,
			StaleAfter:  common.ParseDurationOr(cfg.Jobs.StaleAfter, 10*time.Minute),
			MaxReclaims: cfg.Jobs.MaxReclaims,
		},
	)

	// Handlers
	syncTimeout := common.ParseDurationOr(cfg.Jobs.SyncTimeout, 25*time.Second)
	a.JobHandler = handlers.NewJobHandler(a.JobService, logger, syncTimeout)
	a.DocumentHandler = handlers.NewDocumentHandler(storageManager.DocumentStorage(), logger)
	a.StatusHandler = handlers.NewStatusHandler(storageManager.JobStorage(), logger)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("queue", cfg.Queue.QueueName).
		Int("workers", cfg.Queue.Concurrency).
		Str("default_provider", string(cfg.LLM.DefaultProvider)).
		Msg("Application initialized")

	return a, nil
}

// Start launches the background workers and the reclaim sweep
func (a *App) Start() error {
	a.Worker.Start()
	return a.Reaper.Start()
}

// Close shuts down components in reverse dependency order
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.Reaper != nil {
		a.Reaper.Stop()
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.ProviderFactory != nil {
		a.ProviderFactory.Close()
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
