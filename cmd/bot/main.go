package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/bot"
	"github.com/ivolkov/tg-fin-assistant/internal/config"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigPath(), "path to config.json")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := bot.New(logger, cfg)
	if err != nil {
		logger.Fatal("init error", zap.Error(err))
	}
	defer app.Close()

	// Graceful stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		app.Close()
		os.Exit(0)
	}()

	if err := app.Run(); err != nil {
		logger.Fatal("run error", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
