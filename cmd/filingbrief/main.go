package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/config"
	dbRedis "github.com/kailas-cloud/filingbrief/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/filingbrief/internal/db/sqlite"
	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/index"
	logpkg "github.com/kailas-cloud/filingbrief/internal/logger"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
	budgetrepo "github.com/kailas-cloud/filingbrief/internal/repository/budget"
	chunkrepo "github.com/kailas-cloud/filingbrief/internal/repository/chunk"
	"github.com/kailas-cloud/filingbrief/internal/repository/embcache"
	memoryrepo "github.com/kailas-cloud/filingbrief/internal/repository/memory"
	anthropicLLM "github.com/kailas-cloud/filingbrief/internal/transport/anthropic"
	chiTransport "github.com/kailas-cloud/filingbrief/internal/transport/chi"
	"github.com/kailas-cloud/filingbrief/internal/transport/marketdata"
	openaiTransport "github.com/kailas-cloud/filingbrief/internal/transport/openai"
	"github.com/kailas-cloud/filingbrief/internal/usecase/analysis"
	"github.com/kailas-cloud/filingbrief/internal/usecase/audit"
	batchuc "github.com/kailas-cloud/filingbrief/internal/usecase/batch"
	budgetuc "github.com/kailas-cloud/filingbrief/internal/usecase/budget"
	embeddinguc "github.com/kailas-cloud/filingbrief/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/filingbrief/internal/usecase/health"
	llmuc "github.com/kailas-cloud/filingbrief/internal/usecase/llm"
	memoryuc "github.com/kailas-cloud/filingbrief/internal/usecase/memory"
	"github.com/kailas-cloud/filingbrief/internal/usecase/planner"
	"github.com/kailas-cloud/filingbrief/internal/usecase/rerank"
	"github.com/kailas-cloud/filingbrief/internal/usecase/retrieval"
	"github.com/kailas-cloud/filingbrief/internal/usecase/synthesis"
	usageuc "github.com/kailas-cloud/filingbrief/internal/usecase/usage"
	"github.com/kailas-cloud/filingbrief/internal/version"
)

const (
	budgetCounterGrace = 35 * 24 * time.Hour
	defaultVectorDim   = 1536
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting filingbrief API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("retrieval_backend", cfg.Retrieval.Backend),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterLLMMetrics()
	metrics.RegisterPipelineMetrics()
	metrics.RegisterHTTPMetrics()

	prefix := cfg.Storage.KeyPrefix
	budgetStore := budgetrepo.New(store, budgetCounterGrace)

	// Embedders
	vecCfg := cfg.Embedding.Vectorizer
	provName := vecCfg.Provider
	provCfg := cfg.Embedding.Providers[provName]

	embBudget := newTracker(ctx, budgetuc.KindEmbedding, provName, prefix, provCfg.Budget, budgetStore, logger)

	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     provCfg.APIKey,
		BaseURL:    provCfg.BaseURL,
		Model:      vecCfg.Model,
		Dimensions: vecCfg.Dimensions,
		Provider:   provName,
		Logger:     logger,
	})
	cacheTTL := time.Duration(cfg.Embedding.CacheTTL) * time.Hour
	docEmbedder := buildEmbedder(baseEmbedder, vecCfg, vecCfg.DocumentInstruction, store, prefix, cacheTTL, embBudget, logger)
	queryEmbedder := buildEmbedder(baseEmbedder, vecCfg, vecCfg.QueryInstruction, store, prefix, cacheTTL, embBudget, logger)
	logger.Info("Embedders created",
		zap.String("provider", provName),
		zap.String("model", vecCfg.Model),
		zap.Int("dimensions", vecCfg.Dimensions),
	)

	// LLM (optional)
	completer, llmBudget, llmHealth := buildCompleter(ctx, cfg, budgetStore, logger)

	// Repositories
	vectorDim := cfg.Retrieval.VectorDimensions
	if vectorDim == 0 {
		vectorDim = vecCfg.Dimensions
	}
	if vectorDim == 0 {
		vectorDim = defaultVectorDim
	}
	chunks := chunkrepo.New(store, prefix, vectorDim)
	if err := chunks.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure chunk index", zap.Error(err))
	}

	var (
		memRepo *memoryrepo.Repo
		durable healthuc.Checker
	)
	switch cfg.Memory.GlobalBackend {
	case "sqlite":
		lite, err := dbSQLite.Open(cfg.Memory.SQLitePath)
		if err != nil {
			logger.Fatal("Failed to open durable memory", zap.Error(err), zap.String("path", cfg.Memory.SQLitePath))
		}
		defer func() { _ = lite.Close() }()
		durable = healthuc.CheckerFunc(lite.Ping)
		memRepo = memoryrepo.New(lite, store, prefix, cfg.Memory.SessionTTL())
	default:
		memRepo = memoryrepo.New(store, store, prefix, cfg.Memory.SessionTTL())
	}

	// Pipeline
	memSvc := memoryuc.New(memRepo, logger,
		memoryuc.WithSessionTTL(cfg.Memory.SessionTTL()),
		memoryuc.WithHistoryWindow(cfg.Memory.HistoryWindow),
	)

	plannerOpts := []planner.Option{
		planner.WithTickers(cfg.Planner.Tickers),
		planner.WithAliases(cfg.Planner.Aliases),
		planner.WithMaxSubQueries(cfg.Planner.MaxSubQueries),
	}
	if cfg.Planner.LLMTopics && completer != nil {
		plannerOpts = append(plannerOpts, planner.WithLLMTopics(completer))
	}
	pl := planner.New(plannerOpts...)

	var backend retrieval.Backend
	switch cfg.Retrieval.Backend {
	case "local":
		backend = index.New(chunks, docEmbedder, queryEmbedder, index.NewSparseScorer(cfg.Retrieval.SparseScorer), logger)
	default:
		backend = retrieval.NewRedisBackend(chunks, queryEmbedder)
	}
	retriever := retrieval.New(backend, cfg.Retrieval.Backend, cfg.Retrieval.TopN, cfg.Retrieval.RRFK)

	var scorer rerank.Scorer
	switch cfg.Rerank.Scorer {
	case "llm":
		scorer = rerank.NewLLMScorer(completer)
	case "lexical":
		scorer = rerank.LexicalScorer{}
	}
	reranker := rerank.New(scorer, cfg.Rerank.Pool, cfg.Rerank.FinalK)

	var synthOpts []synthesis.Option
	if cfg.LLM.Drafting && completer != nil {
		synthOpts = append(synthOpts, synthesis.WithCompleter(completer))
	}
	synthesizer := synthesis.New(rerank.LexicalScorer{}, synthOpts...)

	auditor := audit.New(chunks,
		audit.WithMode(audit.Mode(cfg.Audit.Mode)),
		audit.WithRelativeTolerance(cfg.Audit.RelativeTolerance),
		audit.WithMarketCapTolerance(cfg.Audit.MarketCapTolerance),
	)

	analysisOpts := []analysis.Option{
		analysis.WithConcurrency(cfg.Retrieval.Concurrency),
		analysis.WithSubQueryTimeout(cfg.Retrieval.SubQueryTimeout()),
	}
	var market *marketdata.Client
	if cfg.MarketData.BaseURL != "" {
		market = marketdata.NewClient(marketdata.Config{
			BaseURL:       cfg.MarketData.BaseURL,
			APIKey:        cfg.MarketData.APIKey,
			Source:        cfg.MarketData.Source,
			RatePerSecond: cfg.MarketData.RatePerSecond,
			Burst:         cfg.MarketData.Burst,
			Timeout:       time.Duration(cfg.MarketData.TimeoutSec) * time.Second,
			Logger:        logger,
		})
		analysisOpts = append(analysisOpts, analysis.WithMarketData(market))
	}
	analysisSvc := analysis.New(memSvc, pl, retriever, reranker, synthesizer, auditor, logger, analysisOpts...)

	batchSvc := batchuc.New(chunks, docEmbedder, logger)

	readers := []usageuc.BudgetReader{embBudget}
	if llmBudget != nil {
		readers = append(readers, llmBudget)
	}
	usageSvc := usageuc.New(readers...)

	healthOpts := []healthuc.Option{
		healthuc.WithComponent("embedding", baseEmbedder),
	}
	if durable != nil {
		healthOpts = append(healthOpts, healthuc.WithComponent("durable_memory", durable))
	}
	if llmHealth != nil {
		healthOpts = append(healthOpts, healthuc.WithComponent("llm", llmHealth))
	}
	if market != nil {
		healthOpts = append(healthOpts, healthuc.WithComponent("market_data", market))
	}
	healthSvc := healthuc.New(store, healthOpts...)

	server := chiTransport.NewServer(analysisSvc, memSvc, batchSvc, usageSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(chiTransport.AuthKeys{
		API:   cfg.Auth.APIKeys,
		Admin: cfg.Auth.AdminKeys,
	}))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// newTracker builds a persisted token budget. Zero limits still count usage for /v1/usage.
func newTracker(
	ctx context.Context,
	kind budgetuc.Kind,
	provider, prefix string,
	bc config.BudgetConfig,
	store budgetuc.Store,
	logger *zap.Logger,
) *budgetuc.Tracker {
	action := budgetuc.ActionWarn
	if bc.Action == "reject" {
		action = budgetuc.ActionReject
	}
	return budgetuc.NewTracker(kind, provider, prefix, budgetuc.Limits{
		Daily:   bc.DailyTokenLimit,
		Monthly: bc.MonthlyTokenLimit,
		Action:  action,
	}, logger).WithStore(ctx, store)
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	base domain.Embedder,
	vecCfg config.VectorizerConfig,
	instruction string,
	store *dbRedis.Store,
	prefix string,
	cacheTTL time.Duration,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	var embedder domain.Embedder = embcache.New(base, store, prefix, cacheTTL, metrics.EmbeddingCacheTotal, logger)

	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, vecCfg.Provider, vecCfg.Model, budget, logger)

	// Outermost so the cache key includes the instruction.
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// buildCompleter returns a nil completer when no LLM provider is configured.
func buildCompleter(
	ctx context.Context,
	cfg config.Config,
	budgetStore budgetuc.Store,
	logger *zap.Logger,
) (domain.Completer, *budgetuc.Tracker, healthuc.Checker) {
	lc := cfg.LLM
	if lc.Provider == "" {
		logger.Info("LLM disabled, using extractive synthesis and lexical re-ranking")
		return nil, nil, nil
	}

	var (
		inner  domain.UsageCompleter
		health healthuc.Checker
	)
	timeout := time.Duration(lc.TimeoutSec) * time.Second
	switch lc.Provider {
	case "anthropic":
		inner = anthropicLLM.NewCompleter(&anthropicLLM.Config{
			APIKey:    lc.APIKey,
			BaseURL:   lc.BaseURL,
			Model:     lc.Model,
			MaxTokens: lc.MaxTokens,
			Timeout:   timeout,
			Logger:    logger,
		})
	default:
		c := openaiTransport.NewCompleter(&openaiTransport.Config{
			APIKey:    lc.APIKey,
			BaseURL:   lc.BaseURL,
			Model:     lc.Model,
			MaxTokens: lc.MaxTokens,
			Provider:  lc.Provider,
			Logger:    logger,
		})
		inner, health = c, c
	}

	tracker := newTracker(ctx, budgetuc.KindLLM, lc.Provider, cfg.Storage.KeyPrefix, lc.Budget, budgetStore, logger)
	logger.Info("LLM completer created",
		zap.String("provider", lc.Provider),
		zap.String("model", lc.Model),
		zap.Bool("drafting", lc.Drafting),
	)
	return llmuc.NewInstrumentedCompleter(inner, lc.Provider, lc.Model, tracker, logger), tracker, health
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.CodeInternal,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
