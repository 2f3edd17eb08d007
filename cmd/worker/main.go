package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/knowledgeflow-backend/internal/app"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/temporalx/temporalworker"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// The worker process serves every task queue by default. WORKER_QUEUES
// narrows it to a comma separated subset so heavy queues (video, vector)
// can be scaled independently.
func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Setting up application from main...")
	application, err := app.New(ctx, log)
	if err != nil {
		log.Error("App init failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if application.TemporalClient == nil {
		log.Error("Worker requires TEMPORAL_ADDRESS; refusing to start in eager mode")
		os.Exit(1)
	}

	log.Info("Registering task handlers from main...")
	if err := application.RegisterAllTasks(); err != nil {
		log.Error("Task registration failed", "error", err)
		os.Exit(1)
	}

	queues := utils.GetEnvAsStringSlice("WORKER_QUEUES", nil, log)
	runner, err := temporalworker.NewRunner(log, application.TemporalClient, application.TaskRegistry, application.Results, queues)
	if err != nil {
		log.Error("Worker init failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.Error("Worker start failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping workers")
}
