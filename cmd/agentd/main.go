// agentd - conversation middleware server
//
// Runs the turn pipeline over HTTP: validation, rate limiting,
// per-thread locking, context management, long-term memory, and an
// observer draining the event queue.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spotfinder/agentcore"
)

func main() {
	cfg := agentcore.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := agentcore.NewProductionZapLogger()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := agentcore.NewPrometheusMetrics(nil)

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("invalid redis configuration: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := redisClient.Ping(startupCtx).Err(); err != nil {
		log.Fatalf("redis unreachable: %v", err)
	}

	breakers := agentcore.NewBreakerRegistry(logger, metrics)
	llmBreaker := breakers.GetOrCreate("llm", agentcore.BreakerConfigFor("llm")).
		WithExcludedErrors(agentcore.IsUserError)

	llm, err := agentcore.NewLLMClient(cfg, llmBreaker, logger, metrics)
	if err != nil {
		log.Fatalf("llm init failed: %v", err)
	}

	counter := agentcore.NewTokenCounter(cfg.LLMModelName)
	window := agentcore.NewContextWindow(counter,
		cfg.SoftLimitTokens, cfg.HardLimitTokens, cfg.KeepRecent, logger, metrics)
	summarizer := agentcore.NewSummarizer(
		llm.WithTemperature(0.2), agentcore.DefaultSummarizeTimeout, logger, metrics)
	contexts := agentcore.NewContextManager(window, summarizer, logger)

	validator := agentcore.NewInputValidator(cfg.MaxInputLength, logger, metrics)
	limiter := agentcore.NewRateLimiter(redisClient,
		cfg.RequestsPerMinute, cfg.RequestsPerHour, logger, metrics)
	lock := agentcore.NewConversationLock(redisClient,
		agentcore.DefaultConversationLockTTL, agentcore.DefaultConversationLockTimeout,
		logger, metrics)
	threads := agentcore.NewThreadStore(redisClient, 0, logger, metrics)
	emitter := agentcore.NewEmitter(redisClient, cfg.ObserverEnabled, logger, metrics)

	// Long-term memory is optional; without a vector store the agent
	// still answers, it just forgets between threads.
	var (
		memories  *agentcore.MemoryStore
		chain     *agentcore.EmbeddingChain
		retriever *agentcore.Retriever
	)
	if cfg.VectorStoreURL != "" {
		embedder, err := agentcore.NewOpenAIEmbeddings(cfg)
		if err != nil {
			log.Fatalf("embeddings init failed: %v", err)
		}
		chain, err = agentcore.NewEmbeddingChain(
			[]agentcore.EmbeddingProvider{embedder}, logger, metrics)
		if err != nil {
			log.Fatalf("embedding chain init failed: %v", err)
		}
		chain.WithBreaker(breakers.GetOrCreate("embedding", agentcore.BreakerConfigFor("embedding")))
		memories = agentcore.NewMemoryStore(cfg.VectorStoreURL, cfg.VectorStoreKey,
			cfg.MemoryCollection, chain.Dimension(), logger, metrics).
			WithBreaker(breakers.GetOrCreate("vector-store", agentcore.BreakerConfigFor("vector-store")))
		if err := memories.EnsureCollection(startupCtx); err != nil {
			log.Fatalf("vector store init failed: %v", err)
		}
		retriever = agentcore.NewRetriever(chain, memories,
			cfg.RetrievalTopK, cfg.ScoreThreshold, logger, metrics)
	}

	agent := agentcore.NewAgent(agentcore.AgentDeps{
		Config:    cfg,
		Validator: validator,
		Limiter:   limiter,
		Lock:      lock,
		Threads:   threads,
		Contexts:  contexts,
		Retriever: retriever,
		Memories:  memories,
		Chain:     chain,
		LLM:       llm,
		Emitter:   emitter,
		Logger:    logger,
		Metrics:   metrics,
	})

	var observer *agentcore.Observer
	if cfg.ObserverEnabled {
		var sink agentcore.AlertSink
		if cfg.AlertWebhookURL != "" {
			sink = agentcore.NewWebhookAlertSink(cfg.AlertWebhookURL, agentcore.DefaultWebhookTimeout)
		}
		observer = agentcore.NewObserver(redisClient, sink,
			cfg.AnomalyDetectionEnabled, logger, metrics)
		observer.Start()
	}

	server := agentcore.NewServer(agentcore.ServerDeps{
		Agent:       agent,
		Threads:     threads,
		Memories:    memories,
		Redis:       redisClient,
		PromMetrics: metrics,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("agentd listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if observer != nil {
		if err := observer.Stop(shutdownCtx); err != nil {
			logger.Error("observer shutdown failed", "error", err)
		}
	}
}
