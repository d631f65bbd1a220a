package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/autograde/internal/api"
	"github.com/timmy/autograde/internal/api/handler"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/metrics"
	"github.com/timmy/autograde/internal/repository"
	"github.com/timmy/autograde/internal/service"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("autograde-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	store, err := repository.NewProgressStore(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open progress store")
	}
	defer store.Close()

	scorer := service.NewChatScorer(&service.ScoringConfig{
		BaseURL:     cfg.Scoring.BaseURL,
		APIKey:      cfg.Scoring.APIKey,
		Model:       cfg.Scoring.Model,
		Timeout:     cfg.Scoring.Timeout,
		MaxTokens:   cfg.Scoring.MaxTokens,
		Temperature: cfg.Scoring.Temperature,
		ScoreMin:    cfg.Scoring.ScoreMin,
		ScoreMax:    cfg.Scoring.ScoreMax,
	})

	recorder := metrics.NewRecorder()
	pipeline := service.NewPipeline(cfg, store, scorer, recorder, appLogger)

	// Background runs live as long as the server
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	admin := handler.NewAdminHandler(runCtx, pipeline, cfg.Similarity, appLogger)

	router := api.SetupRouter(api.Deps{
		Pipeline: pipeline,
		Admin:    admin,
		Metrics:  recorder.Handler(),
		Config:   cfg,
		Logger:   appLogger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":  cfg.Server.Port,
			"mode":  cfg.Server.Mode,
			"model": scorer.GetModel(),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Interrupt a running grading run; finished records are already durable
	cancelRuns()
	admin.Wait()

	appLogger.Info("Server exited")
}
