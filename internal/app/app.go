// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the service binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbrapp1/sourcebatch/internal/batch"
	systemclock "github.com/kbrapp1/sourcebatch/internal/clock/system"
	"github.com/kbrapp1/sourcebatch/internal/config"
	"github.com/kbrapp1/sourcebatch/internal/id/uuid"
	"github.com/kbrapp1/sourcebatch/internal/logging"
	"github.com/kbrapp1/sourcebatch/internal/processor/crawl"
	"github.com/kbrapp1/sourcebatch/internal/publisher"
	publishermemory "github.com/kbrapp1/sourcebatch/internal/publisher/memory"
	publisherpubsub "github.com/kbrapp1/sourcebatch/internal/publisher/pubsub"
	"github.com/kbrapp1/sourcebatch/internal/store"
	storememory "github.com/kbrapp1/sourcebatch/internal/store/memory"
	storepostgres "github.com/kbrapp1/sourcebatch/internal/store/postgres"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup and passed to the components that need it.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	runStore     store.Store
	publisher    publisher.Publisher
	pubsubCloser func() error
	processor    batch.Processor
	orchestrator *batch.Orchestrator
	idGen        *uuid.Generator
	clock        *systemclock.Clock
}

// New creates and initializes an App from the loaded configuration. It fails
// fast if any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	runStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pub, pubCloser, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		runStore.Close()
		return nil, err
	}

	clock := systemclock.New()
	processor := crawl.New(crawl.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		PerHostRPS:   cfg.Fetch.PerHostRPS,
		PerHostBurst: cfg.Fetch.PerHostBurst,
	}, logger)

	return &App{
		cfg:          cfg,
		logger:       logger,
		runStore:     runStore,
		publisher:    pub,
		pubsubCloser: pubCloser,
		processor:    processor,
		orchestrator: batch.NewOrchestrator(batch.NewActivePolicy(), clock, logger),
		idGen:        uuid.NewGenerator(),
		clock:        clock,
	}, nil
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("using postgres run store", zap.String("table", cfg.DB.Table))
		s, err := storepostgres.NewStore(ctx, storepostgres.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MaxConnLifetime: time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	case "memory":
		logger.Info("using in-memory run store; history is lost on restart")
		return storememory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildPublisher(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (publisher.Publisher, func() error, error) {
	switch cfg.PubSub.Provider {
	case "pubsub":
		logger.Info("using pubsub summary publisher", zap.String("topic", cfg.PubSub.TopicName))
		p, err := publisherpubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return p, p.Close, nil
	case "memory":
		logger.Info("using in-memory summary publisher")
		return publishermemory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown pubsub provider %q", cfg.PubSub.Provider)
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunStore exposes the configured run-history store.
func (a *App) RunStore() store.Store {
	return a.runStore
}

// Publisher returns the configured summary publisher.
func (a *App) Publisher() publisher.Publisher {
	return a.publisher
}

// Processor returns the crawl processor used for batch items.
func (a *App) Processor() batch.Processor {
	return a.processor
}

// Orchestrator returns the shared batch orchestrator.
func (a *App) Orchestrator() *batch.Orchestrator {
	return a.orchestrator
}

// IDGen returns the run ID generator.
func (a *App) IDGen() *uuid.Generator {
	return a.idGen
}

// Clock returns the system clock.
func (a *App) Clock() *systemclock.Clock {
	return a.clock
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.pubsubCloser != nil {
		if err := a.pubsubCloser(); err != nil {
			a.logger.Warn("close publisher failed", zap.Error(err))
		}
	}
	// Flush any buffered log entries; best effort on shutdown.
	_ = a.logger.Sync()
}
