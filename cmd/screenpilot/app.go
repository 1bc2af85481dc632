package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/chunker"
	"github.com/fyrsmithlabs/screenpilot/internal/config"
	"github.com/fyrsmithlabs/screenpilot/internal/embeddings"
	"github.com/fyrsmithlabs/screenpilot/internal/endpoint"
	"github.com/fyrsmithlabs/screenpilot/internal/events"
	"github.com/fyrsmithlabs/screenpilot/internal/generation"
	"github.com/fyrsmithlabs/screenpilot/internal/logging"
	"github.com/fyrsmithlabs/screenpilot/internal/rag"
	"github.com/fyrsmithlabs/screenpilot/internal/secrets"
	"github.com/fyrsmithlabs/screenpilot/internal/services"
	"github.com/fyrsmithlabs/screenpilot/internal/telemetry"
	"github.com/fyrsmithlabs/screenpilot/internal/vectorstore"
)

const healthCheckInterval = 30 * time.Second

// app holds every long-lived dependency of a command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	store     vectorstore.Store
	health    *vectorstore.HealthMonitor
	publisher events.Publisher
	secondary generation.Provider
	pipeline  *rag.Pipeline
	registry  services.Registry
}

type appOptions struct {
	// logTarget overrides where console logs go. The MCP command sends
	// them to stderr because stdout carries the protocol.
	logTarget string
	// monitor starts the periodic vector store health check.
	monitor bool
}

// newApp loads configuration and builds the pipeline. Close releases
// everything it opened, including on partial failure.
func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if opts.logTarget != "" {
		logCfg.Output.Target = opts.logTarget
	}
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := a.logger.Underlying()

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	a.store, err = vectorstore.NewStore(cfg.VectorStore, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	if opts.monitor {
		a.health = vectorstore.NewHealthMonitor(ctx, a.store, healthCheckInterval, zl)
		a.health.Start()
	}

	resolver := endpoint.NewResolver(endpoint.FromSettings(cfg.Primary), endpoint.WithLogger(zl))
	primary, err := generation.NewPrimaryFromConfig(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}
	a.secondary, err = generation.NewSecondaryFromConfig(ctx, cfg.Secondary)
	if err != nil {
		return nil, fmt.Errorf("failed to create secondary provider: %w", err)
	}
	if !cfg.Primary.APIKey.IsSet() {
		a.logger.Warn(ctx, "primary provider has no API key; requests will likely be rejected")
	}

	gen := generation.NewGenerator(resolver, primary,
		generation.WithSecondary(a.secondary),
		generation.WithTimeouts(cfg.Primary.Timeout.Duration(), cfg.Secondary.Timeout.Duration()),
		generation.WithLogger(a.logger.Named("generation")),
	)

	ch, err := chunker.New(cfg.Chunking.MaxLength, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	var scrubber secrets.Scrubber = secrets.Nop{}
	if cfg.Secrets.Enabled {
		scrubber, err = secrets.New(secrets.FromSettings(cfg.Secrets))
		if err != nil {
			return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
		}
	}

	a.publisher, err = events.New(cfg.Events, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}

	a.pipeline, err = rag.NewPipeline(rag.Config{
		Chunker:    ch,
		Embedder:   a.embedder,
		Store:      a.store,
		Generator:  gen,
		Collection: cfg.VectorStore.Collection,
		Scrubber:   scrubber,
		Publisher:  a.publisher,
		Logger:     a.logger.Named("rag"),
	})
	if err != nil {
		return nil, err
	}

	a.registry = services.NewRegistry(services.Options{
		Pipeline:    a.pipeline,
		Generator:   gen,
		VectorStore: a.store,
		Health:      a.health,
		Scrubber:    scrubber,
		Backends: services.Backends{
			VectorStore: cfg.VectorStore.Provider,
			Embeddings:  cfg.Embeddings.Provider,
		},
	})

	a.logger.Info(ctx, "screenpilot initialized",
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("collection", cfg.VectorStore.Collection),
		zap.String("primary", gen.PrimaryName()),
		zap.String("secondary", gen.SecondaryName()),
		zap.Bool("secrets_scrubbing", scrubber.IsEnabled()),
		zap.Bool("events", cfg.Events.NATSURL != ""))
	return a, nil
}

// Close releases resources in reverse order of creation. It is safe on a
// partially built app.
func (a *app) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if c, ok := a.secondary.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.health != nil {
		a.health.Stop()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.telemetry.Shutdown(ctx))
		cancel()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
