package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/arenabuilder"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := arenabuilder.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalf("arena init error: %v", err)
	}

	logger.Info("arena_started", zap.String("http_addr", cfg.HTTPAddr), zap.String("ws_addr", cfg.WSAddr))
	runErr := deps.Run(ctx)
	stop()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := deps.Close(closeCtx); err != nil {
		logger.Warn("arena_close_failed", zap.Error(err))
	}
	if runErr != nil {
		logger.Error("arena_stopped", zap.Error(runErr))
		_ = logger.Sync()
		log.Fatalf("arena error: %v", runErr)
	}
	logger.Info("arena_stopped")
}
