package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-nlq/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-nlq/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlq/pkg/config"
	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/handlers"
	"github.com/ekaya-inc/ekaya-nlq/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/mcp"
	"github.com/ekaya-inc/ekaya-nlq/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-nlq/pkg/middleware"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	"github.com/ekaya-inc/ekaya-nlq/pkg/services"
	"github.com/ekaya-inc/ekaya-nlq/pkg/vectorindex"
)

// Version is set at build time via ldflags
var Version = "dev"

// initialBuildTimeout bounds the catalog build at startup.
const initialBuildTimeout = 2 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("datasource", fmt.Sprintf("%s@%s/%s", cfg.Datasource.User, cfg.Datasource.Host, cfg.Datasource.Database)),
		zap.Int("max_rows", cfg.Query.MaxRows),
		zap.Int("max_concurrent_queries", cfg.Query.MaxConcurrentQueries),
		zap.Duration("query_timeout", cfg.Query.Timeout()),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_index", cfg.Embedding.Index))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	synonyms, err := models.LoadSynonyms(cfg.Catalog.SynonymsFile)
	if err != nil {
		return err
	}

	embedders, err := newEmbedders(cfg.Embedding, logger)
	if err != nil {
		return err
	}

	factory := datasource.NewAdapterFactory(logger)
	dsConfig := cfg.Datasource.AdapterConfig()

	connector, err := factory.NewConnector(cfg.Datasource.Type, dsConfig)
	if err != nil {
		return fmt.Errorf("create %s connector: %w", cfg.Datasource.Type, err)
	}

	builder, err := services.NewCatalogBuilder(
		factory,
		cfg.Datasource.Type,
		dsConfig,
		embedders,
		llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Embedding.MaxConcurrent}, logger),
		services.CatalogBuilderConfig{
			SampleValues:          cfg.Catalog.SampleValues,
			SampleColumnsPerTable: cfg.Catalog.SampleColumnsPerTable,
			EmbeddingBatchSize:    cfg.Embedding.BatchSize,
		},
		logger,
	)
	if err != nil {
		return err
	}

	store := services.NewCatalogStore(builder, logger)
	defer store.Close()

	// Start without a snapshot rather than refusing to boot; requests report
	// schema_not_found and health reports degraded until a refresh succeeds.
	buildCtx, cancel := context.WithTimeout(ctx, initialBuildTimeout)
	if _, err := store.Refresh(buildCtx); err != nil {
		logger.Error("Initial catalog build failed", zap.String("error", logging.SanitizeError(err)))
	}
	cancel()
	store.StartAutoRefresh(cfg.Catalog.RefreshInterval())

	scorer, err := vectorindex.NewScorer(cfg.Embedding.Index, logger)
	if err != nil {
		return fmt.Errorf("create %s similarity index (compiled in: %v): %w", cfg.Embedding.Index, vectorindex.RegisteredScorers(), err)
	}
	index := vectorindex.New(embedders, scorer, logger)
	defer index.Close()

	auditor := audit.NewSecurityAuditor(logger)
	keySuffixes := cfg.Heuristics.KeyColumnSuffixes

	rankerCfg := services.DefaultRankerConfig()
	rankerCfg.TopK = cfg.Query.TopK

	svc := services.NewQueryService(services.QueryServiceDeps{
		Store:  store,
		Parser: services.NewIntentParser(auditor, logger),
		Ranker: services.NewRanker(index, synonyms, rankerCfg, logger),
		Planner: services.NewPlanner(services.PlannerConfig{
			MaxJoinDepth:      cfg.Query.MaxJoinDepth,
			MaxInListSize:     cfg.Heuristics.MaxInListSize,
			RangeIsSelective:  cfg.Heuristics.RangeIsSelective,
			KeyColumnSuffixes: keySuffixes,
		}, synonyms, logger),
		Validator: services.NewSafetyValidator(services.ValidatorConfig{
			Dialect:           connector.Dialect(),
			MaxRows:           cfg.Query.MaxRows,
			MaxSubqueryDepth:  cfg.Query.MaxSubqueryDepth,
			KeyColumnSuffixes: keySuffixes,
		}, auditor, logger),
		Executor: services.NewExecutor(
			datasource.NewLeaseTracker(connector, logger),
			services.NewAdmission(cfg.Query.MaxConcurrentQueries, cfg.Query.AdmissionTimeout(), logger),
			services.ExecutorConfig{Timeout: cfg.Query.Timeout()},
			auditor,
			logger,
		),
		Analyzer: services.NewPerformanceAnalyzer(services.AnalyzerConfig{
			EnableIndexRecommendations: cfg.Query.EnableIndexRecommendations,
			HighVolumeRows:             cfg.Performance.HighVolumeRows,
		}, logger),
		Orchestrator: services.NewOrchestrator(keySuffixes, cfg.Query.MaxRows, logger),
		Quality: services.QualityConfig{
			PenaltyFallback:    cfg.Heuristics.PenaltyFallback,
			PenaltyDroppedTerm: cfg.Heuristics.PenaltyDroppedTerm,
			PenaltyUnfiltered:  cfg.Heuristics.PenaltyUnfiltered,
			PenaltyTruncated:   cfg.Heuristics.PenaltyTruncated,
			HighThreshold:      cfg.Heuristics.HighThreshold,
			MediumThreshold:    cfg.Heuristics.MediumThreshold,
		},
	}, logger)

	toolCalls := mcp.NewToolCallLogger(logger)
	mcpServer := mcp.NewServer("ekaya-nlq", cfg.Version, logger, server.WithHooks(toolCalls.Hooks()))
	tools.RegisterQueryTools(mcpServer.MCP(), services.NewToolRegistry(svc), logger)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, svc, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(svc, logger).RegisterRoutes(mux)
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer()))

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-nlq", zap.String("addr", httpServer.Addr), zap.String("version", cfg.Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newEmbedders returns the embedding set used by both the catalog builder and
// the similarity index. The lexical embedder is always present so ranking
// keeps working when the remote provider is down.
func newEmbedders(cfg config.EmbeddingConfig, logger *zap.Logger) (*embedding.Set, error) {
	lexical := embedding.NewLexical(cfg.Dimensions)
	if cfg.Provider != "openai" {
		return embedding.NewSet(nil, lexical), nil
	}

	client, err := llm.NewClient(&llm.Config{
		Endpoint:   cfg.Endpoint,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		Dimensions: cfg.Dimensions,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	remote := embedding.NewRemote(client, nil, embedding.RemoteConfig{
		BatchSize:  cfg.BatchSize,
		Dimensions: cfg.Dimensions,
	}, logger)

	primary, err := embedding.NewCached(remote, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return embedding.NewSet(primary, lexical), nil
}
