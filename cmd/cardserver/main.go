// Package main runs the review card server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/app"
	"github.com/halfbloodedyash/Letterboxd/internal/config"
	"github.com/halfbloodedyash/Letterboxd/internal/logging"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initialize application", zap.Error(err))
	}
	defer a.Close(context.Background())

	if err := a.Run(ctx); err != nil {
		logger.Fatal("run server", zap.Error(err))
	}
	logger.Info("server stopped")
}
