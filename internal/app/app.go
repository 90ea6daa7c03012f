// Package app assembles the stores, providers and services described by a
// Config. Every driving adapter (CLI, HTTP, MCP, inbox) starts from an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/custodia-labs/folio/internal/adapters/driven/ai"
	"github.com/custodia-labs/folio/internal/adapters/driven/config/file"
	"github.com/custodia-labs/folio/internal/adapters/driven/events"
	"github.com/custodia-labs/folio/internal/adapters/driven/events/redisstream"
	"github.com/custodia-labs/folio/internal/adapters/driven/metrics"
	"github.com/custodia-labs/folio/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/folio/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/folio/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/folio/internal/config"
	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/services"
	"github.com/custodia-labs/folio/internal/logger"
	"github.com/custodia-labs/folio/internal/normalisers"
	"github.com/custodia-labs/folio/internal/postprocessors"
)

// Store is the union of the storage ports. Every backend implements all of them.
type Store interface {
	driven.NotebookStore
	driven.DocumentStore
	driven.ChunkStore
	driven.JobStore
	driven.ReportStore
	driven.ChatStore
	io.Closer
}

// Options adjust how New builds the App.
type Options struct {
	// Ping checks provider connectivity at startup.
	Ping bool

	// Store replaces the configured backend. The App does not close it.
	Store Store

	// Embedding and LLM replace the configured providers when set.
	Embedding driven.EmbeddingService
	LLM       driven.LLMService
}

// App holds the wired services.
type App struct {
	Config *config.Config

	Store    Store
	Broker   *events.Broker
	Metrics  *metrics.Recorder
	Prompts  *file.PromptStore
	Notifier *services.Notifier

	Embedding driven.EmbeddingService
	LLM       driven.LLMService
	Warnings  []string

	Notebooks *services.NotebookService
	Documents *services.DocumentService
	Jobs      *services.JobService
	Ingest    *services.IngestService
	Embedder  *services.EmbeddingGenerator
	Retrieval *services.RetrievalService
	Reports   *services.ReportService
	Chat      *services.ChatService
	Worker    *services.Worker

	closers []func() error
}

// New builds every service from cfg. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Store = opts.Store
	if a.Store == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	}

	a.Metrics = metrics.New()
	a.Broker = events.NewBroker()
	publisher, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}
	a.Notifier = services.NewNotifier(events.Fanout{publisher, a.Broker}, a.Metrics)

	if err := a.initProviders(ctx, opts); err != nil {
		return nil, err
	}

	a.Prompts, err = file.NewPromptStore(cfg.PromptDir())
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	pipeline, err := registry.BuildPipeline([]string{"chunker"}, map[string]map[string]any{
		"chunker": cfg.ChunkerOptions(),
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	jobCfg := cfg.JobConfig()
	a.Notebooks = services.NewNotebookService(a.Store)
	a.Documents = services.NewDocumentService(a.Store, a.Store)
	a.Jobs = services.NewJobService(a.Store, jobCfg, a.Notifier)
	extractor := services.NewMetadataExtractor(a.LLM, a.Prompts, cfg.Metadata.MaxChars)
	a.Ingest = services.NewIngestService(a.Store, a.Store, a.Store, normalisers.NewDefaultRegistry(), pipeline, extractor, a.Jobs)
	a.Embedder = services.NewEmbeddingGenerator(a.Embedding, a.Store, a.Notifier, cfg.Embedding.BatchSize)
	a.Retrieval = services.NewRetrievalService(a.Store, a.Store, a.Embedding, cfg.RetrievalSettings())
	a.Reports = services.NewReportService(a.Store, a.Store, a.Store, a.Retrieval, a.LLM, a.Prompts, a.Jobs, a.Notifier)
	a.Chat = services.NewChatService(a.Store, a.Store, a.Retrieval, a.LLM, a.Prompts, services.ChatConfig{
		HistoryMessages: cfg.Chat.HistoryMessages,
		RewriteQueries:  cfg.Chat.RewriteQueries,
		TopK:            cfg.Chat.TopK,
	})

	a.Worker = services.NewWorker(jobCfg, a.Store, a.Notifier)
	a.Worker.Register(domain.JobKindIngest, a.Ingest.Handle)
	a.Worker.Register(domain.JobKindEmbed, a.Embedder.Handle)
	a.Worker.Register(domain.JobKindReportSection, a.Reports.HandleSection)
	a.Worker.Register(domain.JobKindBatchSearch, a.Retrieval.HandleBatchSearch)

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Storage.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warn("storage: using in-memory store, nothing will persist")
		return memory.New(), nil
	default:
		store, err := sqlite.NewStore(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	}
}

// publisher returns the external event transport.
func (a *App) publisher(ctx context.Context) (driven.EventPublisher, error) {
	if a.Config.Events.Driver != "redis" {
		return events.NewLogPublisher(), nil
	}
	client, err := redisstream.Dial(ctx, a.Config.Events.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return redisstream.New(client, a.Config.Events.Stream), nil
}

func (a *App) initProviders(ctx context.Context, opts Options) error {
	a.Embedding, a.LLM = opts.Embedding, opts.LLM
	if a.Embedding != nil && a.LLM != nil {
		return nil
	}

	throttles := make(map[domain.AIProvider]domain.ThrottleSettings)
	for _, p := range []domain.AIProvider{domain.AIProviderOllama, domain.AIProviderOpenAI, domain.AIProviderAnthropic} {
		throttles[p] = a.Config.ThrottleSettings(p)
	}
	embedding, llm := a.Config.EmbeddingSettings(), a.Config.LLMSettings()
	if a.Embedding != nil {
		embedding = domain.ProviderSettings{}
	}
	if a.LLM != nil {
		llm = domain.ProviderSettings{}
	}

	result, err := ai.Init(ctx, ai.Options{
		Embedding: embedding,
		LLM:       llm,
		Throttles: throttles,
		Metrics:   a.Metrics,
		Ping:      opts.Ping,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { result.Close(); return nil })
	a.Warnings = result.Warnings
	if a.Embedding == nil {
		a.Embedding = result.EmbeddingService
	}
	if a.LLM == nil {
		a.LLM = result.LLMService
	}
	return nil
}

// Close stops the worker and releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	if a.Worker != nil && a.Worker.IsRunning() {
		errs = append(errs, a.Worker.Stop())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
