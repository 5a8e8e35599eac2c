// icestream is a SHOUTcast/Icecast-compatible broadcast server core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icestream/icestream/internal/auth"
	"github.com/icestream/icestream/internal/config"
	"github.com/icestream/icestream/internal/logging"
	"github.com/icestream/icestream/internal/relay"
	"github.com/icestream/icestream/internal/server"
	"github.com/icestream/icestream/internal/stream"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "icestream.vibe", "Path to configuration file")
	devLog := flag.Bool("dev", false, "Use human-readable text logs instead of JSON")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("icestream %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.New(*devLog)

	authenticator, err := auth.NewAuthenticator(cfg)
	if err != nil {
		log.Fatalf("failed to build authenticator: %v", err)
	}

	registry := stream.NewRegistry()
	srv := server.New(cfg, registry, authenticator, logger)

	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
	logger.Info("icestream running", "address", cfg.Address, "port", cfg.Port, "version", version)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	if cfg.MasterServer.Enabled {
		puller := relay.New(cfg, registry, logger)
		go puller.Run(relayCtx)
		logger.Info("relay puller started", "upstream", cfg.MasterServer.URL)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	cancelRelay()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
