package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/config"
	"github.com/tailorcv/vector-service/internal/embeddings"
	"github.com/tailorcv/vector-service/internal/health"
	"github.com/tailorcv/vector-service/internal/httpapi"
	"github.com/tailorcv/vector-service/internal/indexer"
	_ "github.com/tailorcv/vector-service/internal/metrics" // register collectors
	"github.com/tailorcv/vector-service/internal/retriever"
	"github.com/tailorcv/vector-service/internal/storing"
	"github.com/tailorcv/vector-service/internal/tracing"
	"github.com/tailorcv/vector-service/internal/vectordb"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedding client, with an optional Redis cache behind the local LRU.
	var cache embeddings.Cache
	if cfg.Embeddings.EnableRedis {
		rc, err := embeddings.NewRedisCache(cfg.Embeddings.RedisAddr)
		if err != nil {
			logger.Warn("Redis cache unavailable, falling back to in-process LRU only",
				zap.String("addr", cfg.Embeddings.RedisAddr),
				zap.Error(err),
			)
		} else {
			cache = rc
		}
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:     cfg.Embeddings.BaseURL,
		Model:       cfg.Embeddings.Model,
		Dimension:   cfg.Vector.Dimension,
		Timeout:     cfg.Embeddings.Timeout,
		EnableRedis: cfg.Embeddings.EnableRedis,
		RedisAddr:   cfg.Embeddings.RedisAddr,
		CacheTTL:    cfg.Embeddings.CacheTTL,
		MaxLRU:      cfg.Embeddings.MaxLRU,
	}, cache)

	vectorStore := vectordb.NewClient(vectordb.Config{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		APIKey:     cfg.Vector.APIKey,
		Collection: cfg.Vector.Collection,
		Dimension:  cfg.Vector.Dimension,
		Timeout:    cfg.Vector.Timeout,
	}, logger)

	// A collection with mismatched dimensions and live points is fatal:
	// silently writing vectors of the wrong size would corrupt search.
	if err := vectorStore.EnsureCollection(ctx); err != nil {
		var mismatch vectordb.DimensionMismatchError
		if errors.As(err, &mismatch) {
			logger.Fatal("Vector collection dimension mismatch",
				zap.String("collection", mismatch.Collection),
				zap.Int("expected", mismatch.ExpectedDimension),
				zap.Int("actual", mismatch.ActualDimension),
			)
		}
		logger.Fatal("Failed to ensure vector collection", zap.Error(err))
	}

	docStore := storing.NewClient(storing.Config{
		BaseURL: cfg.Storing.BaseURL,
		Timeout: cfg.Storing.Timeout,
	}, logger)

	processor := indexer.NewProcessor(
		docStore,
		embedder,
		vectorStore,
		cfg.Embeddings.EmbedBatchMax,
		cfg.Queue.ResourceMarkers,
		logger,
	)
	consumer := indexer.NewConsumer(cfg.Queue, processor, logger)
	if err := consumer.Connect(); err != nil {
		logger.Fatal("Failed to start queue consumer", zap.Error(err))
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Queue consumer stopped", zap.Error(err))
		}
	}()

	hm := health.NewManager(logger)
	hm.Register(health.CheckFunc{CheckName: "qdrant", Fn: vectorStore.Healthy})
	hm.Register(health.CheckFunc{CheckName: "storing", Fn: docStore.Healthy})
	hm.Register(health.CheckFunc{CheckName: "embeddings", Fn: embedder.Healthy})
	hm.Register(health.CheckFunc{CheckName: "nats", Fn: consumer.Healthy})

	retrieverSvc := retriever.NewService(cfg.Retriever, embedder, vectorStore, logger)

	mux := http.NewServeMux()
	hm.RegisterRoutes(mux)
	httpapi.NewHandler(retrieverSvc, vectorStore, logger).RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Internal API listening", zap.Int("port", cfg.Service.Port))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Internal API server failed", zap.Error(err))
			stop()
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("Metrics listening", zap.Int("port", cfg.Service.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown incomplete", zap.Error(err))
	}
	tracing.Shutdown(shutdownCtx)
	logger.Info("Shutdown complete")
	os.Exit(0)
}
