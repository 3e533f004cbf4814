package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/cache"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/config"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/database"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/gpu"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/logging"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/media"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/queue"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/sampler"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/storage"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/summarizer"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framescribe/internal/vision"
	"github.com/therealutkarshpriyadarshi/framescribe/pkg/models"
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
	logger = logger.WithWorkerID(workerID())

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer closer.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Initialize storage
	store, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	q.SetFailureClassifier(summarizer.ErrorType)

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
		}
	}

	backend, err := vision.NewOllamaBackend(cfg.Vision.Host, cfg.Vision.RequestTimeout, cfg.Vision.PullMissing)
	if err != nil {
		logger.Fatalf("Failed to initialize vision backend: %v", err)
	}

	gpuManager := gpu.NewManager(cfg.Media.FFmpegPath)
	capability := gpuManager.GetCapability()
	logger.WithField("cuda", capability.CUDAAvailable).
		WithField("nvenc", capability.NVENCSupported).
		Info("GPU capability detected")

	// Jobs may ask for a model other than the default; each is loaded once
	registry := vision.NewRegistry(cfg.Vision.ModelID, func(modelID string) *vision.Describer {
		return vision.NewDescriber(backend, gpuManager, vision.Options{
			ModelID:      modelID,
			Prompt:       cfg.Vision.Prompt,
			MaxNewTokens: cfg.Vision.MaxNewTokens,
			Device:       cfg.Vision.Device,
			Cache:        descCache,
			Logger:       logger,
		})
	})
	describers := func(ctx context.Context, modelID string) (pipeline.FrameDescriber, error) {
		d, err := registry.Get(ctx, modelID)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	frameSampler := sampler.New(ffmpeg, sampler.NewFFmpegDecoder(cfg.Media.FFmpegPath))

	runner := pipeline.NewRemoteRunner(store, ffmpeg, gpuManager, frameSampler, describers, pipeline.RemoteOptions{
		WorkDir: cfg.Remote.WorkDir,
		Preset:  cfg.Media.Preset,
		UseGPU:  cfg.Media.EnableGPU,
		Logger:  logger,
	})

	var embedder summarizer.Embedder
	if searchEnabled {
		embedder = backend.Embedder(cfg.Vision.EmbeddingModel)
	}

	service := summarizer.New(summarizer.Deps{
		Repo:      repo,
		Remote:    runner,
		Store:     store,
		Embedder:  embedder,
		Cache:     videoCache,
		BatchSize: cfg.Remote.BatchSize,
		Logger:    logger,
	})

	// Metrics exporter
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Job handler. Its context outlives shutdown so the job in flight can
	// finish and record its outcome.
	jobHandler := func(ctx context.Context, job *models.RemoteJob) error {
		jobLogger := logger.WithJobID(job.ID).WithVideoID(job.VideoID)
		jobLogger.Info("Processing remote job")

		if err := service.ProcessRemote(ctx, job); err != nil {
			jobLogger.WithError(err).Error("Remote job failed")
			return err
		}

		jobLogger.Info("Remote job completed")
		return nil
	}

	monitoring.NewMonitor(q, monitoring.DefaultInterval, logger).Start(ctx)

	logger.Info("Worker started, waiting for jobs...")
	if err := q.ConsumeJobs(ctx, jobHandler); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	// Wait for shutdown, then for the job in flight
	<-ctx.Done()

	drained := make(chan struct{})
	go func() {
		q.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info("Worker stopped")
	case <-time.After(cfg.Remote.ShutdownTimeout):
		logger.WithField("timeout", cfg.Remote.ShutdownTimeout.String()).
			Warn("Worker stopped with a job still running; it will be redelivered")
	}
}

func workerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()
}
