package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/crownking/assistant/internal/api"
	"github.com/crownking/assistant/internal/config"
	"github.com/crownking/assistant/internal/engine"
	"github.com/crownking/assistant/internal/watcher"
)

func main() {
	// Setup Logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logger.WithField("service", "crownking-assistant")

	// 1. Config
	cfg, err := config.Resolve()
	if err != nil {
		entry.Fatalf("Failed to load configuration: %v", err)
	}
	configureLogger(logger, cfg.Log)

	entry.Info("Starting CrownKing Assistant API Service")

	// 2. Engine (documents + LLM)
	eng, err := engine.NewEngine(cfg, entry.WithField("component", "engine"))
	if err != nil {
		entry.Fatalf("Failed to initialize engine: %v", err)
	}
	if err := eng.Initialize(); err != nil {
		entry.WithError(err).Warn("Serving without an LLM until /reload succeeds")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Optional documents watcher
	if cfg.Documents.Watch {
		exts := []string{".txt"}
		if cfg.Documents.IncludeHTML {
			exts = append(exts, ".html", ".htm")
		}
		w, err := watcher.New(eng.DocumentsDir(), eng.Reload, watcher.Options{
			Debounce:   cfg.Documents.WatchDebounce,
			Extensions: exts,
			Logger:     entry.WithField("component", "watcher"),
		})
		if err != nil {
			entry.WithError(err).Error("Failed to start documents watcher")
		} else {
			defer w.Close()
			eng.OnReload = func(dir string) {
				if err := w.SetDir(dir); err != nil {
					entry.WithError(err).WithField("dir", dir).Error("Failed to watch new documents directory")
				}
			}
			go w.Run(ctx)
		}
	}

	// 4. API Server
	server := api.NewServer(eng, entry.WithField("component", "api"), cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			entry.Fatal(err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			entry.WithError(err).Error("Graceful shutdown failed")
		}
	}
	entry.Info("Server stopped")
}

func configureLogger(logger *logrus.Logger, cfg config.LogConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Level).Warn("Unknown log level, using info")
	}
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}
