package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voicecache-gateway/internal/handlers"
	"voicecache-gateway/internal/httpserver"
	"voicecache-gateway/internal/precache"
	"voicecache-gateway/internal/progress"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func initServeCmd() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ----- Config + logger -----
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_dir", cfg.CacheDir),
		zap.String("progress_backend", cfg.ProgressBackend),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("synth_base_url", cfg.SynthBaseURL),
		zap.Int("batch_width", cfg.PrecacheBatchWidth),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.ProgressBackend == "redis" {
		redisClient, err = connectRedis(ctx, cfg, logger, 30*time.Second)
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		defer redisClient.Close()
	}

	// ----- Progress mirror -----
	mirror := progress.NewStore(progress.Config{
		Backend: cfg.ProgressBackend,
		TTL:     cfg.ProgressTTL,
		Prefix:  "voicecache",
	}, redisClient)
	if closer, ok := mirror.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Audio cache -----
	disk, store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	// ----- Synthesis client -----
	synthClient, err := newSynth(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSynth(synthClient)

	// ----- Handlers -----
	jobs := handlers.NewJobRegistry(
		store,
		synthClient,
		precache.Config{BatchWidth: cfg.PrecacheBatchWidth},
		mirror,
		logger,
	)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Audio:    handlers.NewAudioHandler(store, synthClient),
		Stats:    handlers.NewStatsHandler(store, disk),
		Precache: handlers.NewPrecacheHandler(jobs, mirror),
	}, httpserver.Options{
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_dir", cfg.CacheDir),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			serveErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("precache jobs did not stop in time", zap.Error(err))
	}

	logger.Info("server shutdown complete")
	return nil
}
