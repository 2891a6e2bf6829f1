package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mindweave/mindcore-go/pkg/agent"
	"github.com/mindweave/mindcore-go/pkg/assembly"
	"github.com/mindweave/mindcore-go/pkg/audit"
	"github.com/mindweave/mindcore-go/pkg/experience"
	"github.com/mindweave/mindcore-go/pkg/extraction"
	"github.com/mindweave/mindcore-go/pkg/genai"
	anthropicGenAI "github.com/mindweave/mindcore-go/pkg/genai/anthropic"
	openaiGenAI "github.com/mindweave/mindcore-go/pkg/genai/openai"
	"github.com/mindweave/mindcore-go/pkg/tier"
	"github.com/mindweave/mindcore-go/pkg/tier/document"
	"github.com/mindweave/mindcore-go/pkg/tier/episodic"
	"github.com/mindweave/mindcore-go/pkg/tier/graph"
	"github.com/mindweave/mindcore-go/pkg/tier/semantic"
	"github.com/mindweave/mindcore-go/pkg/tier/structured"
	"github.com/mindweave/mindcore-go/pkg/tier/working"
	"github.com/mindweave/mindcore-go/pkg/vector"
	chromemStore "github.com/mindweave/mindcore-go/pkg/vector/chromem"
	mysqlStore "github.com/mindweave/mindcore-go/pkg/vector/mysql"
	postgresStore "github.com/mindweave/mindcore-go/pkg/vector/postgres"
	sqliteStore "github.com/mindweave/mindcore-go/pkg/vector/sqlite"
)

// Assistant is the memory-and-agency core: it owns the tier registry,
// the generative service, the read and write pipelines and the agent
// engine, wired together from one Config.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	assistant, err := core.NewAssistant(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer assistant.Close()
//
//	conv, _ := assistant.CreateConversation(ctx, "notes", "You are concise.", core.TierFlags{Semantic: true})
//	reply, _ := assistant.Chat(ctx, conv.ID, "What do you remember about Apollo?")
type Assistant struct {
	config   *Config
	logger   *slog.Logger
	db       *sql.DB
	service  genai.Service
	registry tier.Registry

	episodic   *episodic.Store
	structured *structured.Store
	workingMem *working.Tier
	vectors    vector.Store
	trail      *audit.Trail

	assembler    *assembly.Pipeline
	extractor    *extraction.Pipeline
	runs         *agent.RunStore
	tools        *agent.Registry
	engine       *agent.Engine
	experiences  *experience.Store
	consolidator *experience.Consolidator

	dispatcher *Dispatcher
}

// TierFlags selects which memory tiers a conversation uses during
// context assembly.
type TierFlags struct {
	Semantic   bool
	Structured bool
	Graph      bool
	Document   bool
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithLogger sets the assistant's logger.
func WithLogger(l *slog.Logger) AssistantOption {
	return func(a *Assistant) { a.logger = l }
}

// WithService overrides the configured generative service. Used by
// tests to substitute a fake without module-level mutable state.
func WithService(s genai.Service) AssistantOption {
	return func(a *Assistant) { a.service = s }
}

// NewAssistant creates an Assistant from the configuration.
//
// The constructor opens the shared database, builds the generative
// service and embedder from the provider factories, constructs all six
// memory tiers and wires the pipelines and the agent engine on top.
func NewAssistant(config *Config, opts ...AssistantOption) (*Assistant, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Assistant{
		config: config,
		logger: NewLogger(config.Log.Level, config.Log.Format),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.service == nil {
		service, err := initService(&config.GenAI)
		if err != nil {
			return nil, NewCoreError("NewAssistant", err)
		}
		a.service = genai.WithRetry(service)
	}

	embedder, err := initEmbedder(&config.Embedder, a.service)
	if err != nil {
		return nil, NewCoreError("NewAssistant", err)
	}

	db, err := sql.Open("sqlite3", config.Database.Path)
	if err != nil {
		return nil, NewCoreError("NewAssistant", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	// An in-memory SQLite database exists per connection; cap the pool
	// so every component sees the same database.
	if strings.Contains(config.Database.Path, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	a.db = db

	if err := a.build(embedder); err != nil {
		_ = db.Close()
		return nil, NewCoreError("NewAssistant", err)
	}
	return a, nil
}

// build constructs the tiers, pipelines and engine over the shared
// database.
func (a *Assistant) build(embedder genai.Embedder) error {
	var err error

	a.vectors, err = initVectorStore(&a.config.VectorStore, a.db, embedder.Dimensions())
	if err != nil {
		return err
	}

	semanticTier, err := semantic.New(embedder, a.vectors)
	if err != nil {
		return err
	}

	a.trail, err = audit.NewTrailWithDB(a.db)
	if err != nil {
		return err
	}

	summarizer := &turnSummarizer{service: a.service, semantic: semanticTier, logger: a.logger}
	a.episodic, err = episodic.NewStoreWithDB(a.db,
		episodic.WithSummarizer(summarizer),
		episodic.WithLogger(a.logger))
	if err != nil {
		return err
	}

	a.structured, err = structured.NewStoreWithDB(a.db)
	if err != nil {
		return err
	}
	graphTier, err := graph.NewStoreWithDB(a.db)
	if err != nil {
		return err
	}
	documentTier, err := document.NewStoreWithDB(a.db)
	if err != nil {
		return err
	}
	a.workingMem, err = working.New()
	if err != nil {
		return err
	}

	a.registry = tier.Registry{}
	a.registry.Register(a.episodic)
	a.registry.Register(semanticTier)
	a.registry.Register(a.structured)
	a.registry.Register(graphTier)
	a.registry.Register(documentTier)
	a.registry.Register(a.workingMem)

	a.assembler = assembly.New(a.registry, a.service,
		assembly.WithAuditTrail(a.trail),
		assembly.WithLogger(a.logger))
	a.extractor = extraction.New(a.service, a.structured, semanticTier, a.trail,
		extraction.WithLogger(a.logger))

	a.runs, err = agent.NewRunStoreWithDB(a.db)
	if err != nil {
		return err
	}
	a.experiences, err = experience.NewStoreWithDB(a.db)
	if err != nil {
		return err
	}
	a.consolidator = experience.NewConsolidator(a.runs, a.service, a.experiences,
		experience.WithLogger(a.logger))

	a.dispatcher = NewDispatcher(a.logger)
	a.tools = agent.NewRegistry()
	a.engine = agent.NewEngine(a.runs, a.service, a.tools,
		agent.WithLogger(a.logger),
		agent.WithCompletionHook(func(runID string) {
			a.consolidator.Consolidate(context.Background(), runID)
		}))
	return nil
}

// initService builds the generative service from the provider name.
func initService(cfg *GenAIConfig) (genai.Service, error) {
	switch cfg.Provider {
	case "openai":
		return openaiGenAI.NewClient(&openaiGenAI.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		return anthropicGenAI.NewClient(&anthropicGenAI.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported genai provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// initEmbedder builds the embedding provider. The hash provider is a
// deterministic, non-semantic placeholder; the openai provider
// delegates to the generative service's embedding endpoint.
func initEmbedder(cfg *EmbedderConfig, service genai.Service) (genai.Embedder, error) {
	switch cfg.Provider {
	case "hash":
		return genai.NewHashEmbedder(cfg.Dimensions), nil
	case "openai":
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = 1536
		}
		return &serviceEmbedder{service: service, dims: dims}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// initVectorStore builds the vector store from the provider name. The
// sqlite provider shares the assistant's database handle.
func initVectorStore(cfg *VectorStoreConfig, db *sql.DB, dims int) (vector.Store, error) {
	get := func(key, fallback string) string {
		if v, ok := cfg.Config[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}
	getInt := func(key string, fallback int) int {
		switch v := cfg.Config[key].(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
		return fallback
	}

	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClientWithDB(db, get("table_name", "semantic_memories"))
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:       get("host", "localhost"),
			Port:       getInt("port", 5432),
			User:       get("user", "postgres"),
			Password:   get("password", ""),
			DBName:     get("db_name", "mindcore"),
			TableName:  get("table_name", "semantic_memories"),
			Dimensions: dims,
			SSLMode:    get("ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:       get("host", "127.0.0.1"),
			Port:       getInt("port", 3306),
			User:       get("user", "root"),
			Password:   get("password", ""),
			DBName:     get("db_name", "mindcore"),
			TableName:  get("table_name", "semantic_memories"),
			Dimensions: dims,
		})
	case "chromem":
		return chromemStore.NewClient(chromemStore.Config{
			CollectionName: get("collection_name", "semantic_memories"),
		})
	default:
		return nil, fmt.Errorf("%w: unsupported vector store provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// serviceEmbedder adapts a generative service's embedding endpoint to
// the Embedder interface.
type serviceEmbedder struct {
	service genai.Service
	dims    int
}

func (e *serviceEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.service.GenerateEmbedding(ctx, text)
}

func (e *serviceEmbedder) Dimensions() int {
	return e.dims
}

// Close drains background tasks and releases every resource the
// assistant owns.
func (a *Assistant) Close() error {
	a.dispatcher.Wait()
	a.engine.Wait()
	_ = a.episodic.Close()
	_ = a.workingMem.Close()
	if err := a.service.Close(); err != nil {
		a.logger.Warn("failed to close generative service", "error", err)
	}
	// The vector store is closed before the shared database handle so
	// external backends (postgres, mysql) release their connections.
	if err := a.vectors.Close(); err != nil {
		a.logger.Warn("failed to close vector store", "error", err)
	}
	return a.db.Close()
}
