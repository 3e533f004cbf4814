package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/config"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/database"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/gpu"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/middleware"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/queue"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/summarizer"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/vision"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-api", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer closer.Close()

	ctx := context.Background()
	searchEnabled := cfg.Vision.EmbeddingModel != ""

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, searchEnabled); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
	}

	repo := database.NewRepository(db, logger)
	checks := map[string]HealthCheck{"database": db.Health}

	// Redis is optional; without it nothing is cached
	var (
		videoCache summarizer.VideoCache
		descCache  vision.DescriptionCache
	)
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cache.Options{
			DescriptionTTL: cfg.Redis.DescriptionTTL,
			VideoTTL:       cfg.Redis.VideoTTL,
		})
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, caching disabled")
		} else {
			defer c.Close()
			videoCache = c
			descCache = c
			checks["redis"] = c.Ping
		}
	}

	// Object storage backs process-url for bucket URLs and remote uploads
	var store storage.ObjectStore
	if s, err := storage.New(ctx, cfg.Storage, logger); err != nil {
		logger.WithError(err).Warn("Object storage unavailable")
	} else {
		store = s
	}

	var publisher summarizer.JobPublisher
	if q, err := queue.New(cfg.Queue, logger); err != nil {
		logger.WithError(err).Warn("Queue unavailable, remote processing disabled")
	} else {
		defer q.Close()
		publisher = q
	}

	// Vision model
	backend, err := vision.NewOllamaBackend(cfg.Vision.Host, cfg.Vision.RequestTimeout, cfg.Vision.PullMissing)
	if err != nil {
		logger.Fatalf("Failed to initialize vision backend: %v", err)
	}
	checks["vision"] = backend.Heartbeat

	gpuManager := gpu.NewManager(cfg.Media.FFmpegPath)
	describer := vision.NewDescriber(backend, gpuManager, vision.Options{
		ModelID:      cfg.Vision.ModelID,
		Prompt:       cfg.Vision.Prompt,
		MaxNewTokens: cfg.Vision.MaxNewTokens,
		Device:       cfg.Vision.Device,
		Cache:        descCache,
		Logger:       logger,
	})
	if err := describer.Load(ctx); err != nil {
		logger.Fatalf("Failed to load vision model: %v", err)
	}

	var embedder summarizer.Embedder
	if searchEnabled {
		embedder = backend.Embedder(cfg.Vision.EmbeddingModel)
	}

	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	frameSampler := sampler.New(ffmpeg, sampler.NewFFmpegDecoder(cfg.Media.FFmpegPath))

	if err := os.MkdirAll(cfg.Media.TempDir, 0755); err != nil {
		logger.Fatalf("Failed to create temp dir: %v", err)
	}

	service := summarizer.New(summarizer.Deps{
		Repo:      repo,
		Prober:    frameSampler,
		Local:     pipeline.NewOrchestrator(frameSampler, describer, logger),
		Publisher: publisher,
		Store:     store,
		Embedder:  embedder,
		Cache:     videoCache,
		TempDir:   cfg.Media.TempDir,
		BatchSize: cfg.Remote.BatchSize,
		Logger:    logger,
	})

	// Metrics exporter
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	var limiter *middleware.RateLimiter
	stopCleanup := make(chan struct{})
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		go limiter.Cleanup(stopCleanup)
	}

	api := NewAPI(service, checks, cfg.Server.UploadDir, cfg.Server.MaxUploadMB, logger)
	router := setupRouter(api, limiter, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", addr).
			WithField("model_id", describer.ModelID()).
			WithField("device", string(describer.Device())).
			Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	close(stopCleanup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}

	logger.Info("Server stopped")
}
