package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DanrwAU/zenwifi/internal/api"
	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/coordinator"
	"github.com/DanrwAU/zenwifi/internal/zen"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	optionsPath := os.Getenv("ZEN_CONFIG")
	if optionsPath == "" {
		optionsPath = "config.yaml"
	}

	options, err := config.Load(optionsPath, logger)
	if err != nil {
		logger.Fatal("Failed to load options", zap.Error(err))
	}

	creds, err := config.CredentialsFromEnv()
	if err != nil {
		logger.Fatal("Missing credentials", zap.Error(err))
	}

	logger.Info("Starting Zen WiFi bridge",
		zap.String("base_url", options.BaseURL),
		zap.Duration("poll_interval", options.PollInterval()),
		zap.Int("api_port", options.APIPort))

	client := zen.NewClient(options.BaseURL, creds.Username, creds.Password, logger)

	// Reject a bad credential set up front, the same way the setup flow
	// would, instead of discovering it on the first cycle.
	validateCtx, cancelValidate := context.WithTimeout(context.Background(), 30*time.Second)
	err = config.ValidateCredentials(validateCtx, client, logger)
	cancelValidate()
	if err != nil {
		logger.Fatal("Credential validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := coordinator.New(client, logger, options.PollInterval())
	go coord.Start(ctx)

	server := api.NewServer(coord, client, logger, options.APIPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge running. Press Ctrl+C to exit.")

	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()
	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}
}
