package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tayyebi/smart-proxy/internal/app"
	"github.com/tayyebi/smart-proxy/internal/shared/config"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the JSON configuration file")
	flag.Parse()

	// A missing or malformed file yields the defaults; nothing here can
	// abort startup.
	cfg := config.Load(*configPath)

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	server := app.New(cfg)
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start smart proxy service")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info().Msg("Shutdown signal received.")

	// A second signal force-kills instead of waiting for the drain.
	go func() {
		<-sigChan
		logger.Warn().Msg("Second signal received, forcing exit.")
		os.Exit(1)
	}()

	server.Stop()
}
