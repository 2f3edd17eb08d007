package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/knowledgeflow-backend/internal/app"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/server"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

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

	ctx := context.Background()

	log.Info("Setting up application from main...")
	application, err := app.New(ctx, log)
	if err != nil {
		log.Error("App init failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if application.Eager() {
		log.Info("Registering in-process task handlers from main...")
		if err := application.RegisterAllTasks(); err != nil {
			log.Error("Task registration failed", "error", err)
			os.Exit(1)
		}
	}

	// Router
	log.Info("Setting up Router from main...")
	auth := server.NewAuthMiddleware(log, application.Cfg.Auth, application.Validator)
	api := server.NewAPI(log, application.Cfg, application.Registry, application.Worker,
		application.Dispatcher, application.Pipeline, application.Health)
	router := server.NewRouter(server.RouterConfig{Auth: auth, API: api})

	port := utils.GetEnv("PORT", "8000", log)
	log.Info("Starting HTTP server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}
