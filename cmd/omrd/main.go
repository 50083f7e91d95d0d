package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/omr-eval/pipeline/internal/appctx"
	"github.com/omr-eval/pipeline/internal/config"
	"github.com/omr-eval/pipeline/internal/httpapi"
	"github.com/omr-eval/pipeline/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("omrd", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config YAML")
	flags.Parse(os.Args[1:])

	logger := logging.New()
	log.SetOutput(os.Stderr)

	logger.Info("=== Starting Evaluation Pipeline Coordinator ===")

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		logger.Error("config: load failed", "err", err)
		os.Exit(1)
	}

	ctx, err := appctx.Build(cfg, logger)
	if err != nil {
		logger.Error("appctx: build failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := ctx.Close(); err != nil {
			logger.Error("appctx: close failed", "err", err)
		}
	}()

	logger.Info("replaying any pending ledger appends left over from a prior crash...")
	if err := ctx.Orch.ReplayPending(); err != nil {
		logger.Error("orchestrator: replay pending failed", "err", err)
		os.Exit(1)
	}

	app := httpapi.NewApp(ctx.Store, ctx.Chain, ctx.Queue, ctx.Orch, logger)

	addr := ":" + cfg.HTTP.Port
	logger.Info("starting HTTP server", "addr", addr)
	if err := app.Start(addr); err != nil {
		logger.Error("httpapi: start failed", "err", err)
		os.Exit(1)
	}

	logger.Info("=== Coordinator Successfully Started ===")
	logger.Info("endpoints", "papers", "/papers", "keys", "/keys", "sheets", "/sheets",
		"ledger", "/ledger/status", "interventions", "/interventions")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("httpapi: shutdown error", "err", err)
	}
	logger.Info("coordinator gracefully stopped")
}
