package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"edgerelay/internal/config"
	"edgerelay/internal/logger"
	"edgerelay/internal/processor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("middleware", os.Getenv("LOG_LEVEL"))
		logger.Logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	logger.Init("middleware", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := processor.New(cfg)
	if err := p.Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("error in the initialization")
		stop()
		os.Exit(1)
	}

	logger.Logger.Info().Msg("exited")
}
