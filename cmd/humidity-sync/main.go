package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/config"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/service"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	logpkg "github.com/caat-at/sistema-sensores-humedad-agricola/common/logger"
)

func main() {
	flagSet := pflag.NewFlagSet("humidity-sync", pflag.ContinueOnError)
	gatewayURL := flagSet.String("gateway-url", "", "backend base URL (overrides GATEWAY_BASE_URL)")
	transport := flagSet.String("transport", "", "push transport: websocket or mqtt (overrides CHANNEL_TRANSPORT)")
	httpAddr := flagSet.String("http-addr", "", "view API listen address (overrides HTTP_ADDR)")
	logLevel := flagSet.String("log-level", "", "log level (overrides LOG_LEVEL)")
	sensors := flagSet.StringSlice("subscribe", nil, "sensor ids to subscribe on the push channel")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *gatewayURL != "" {
		cfg.Gateway.BaseURL = *gatewayURL
	}
	if *transport != "" {
		cfg.Channel.Transport = *transport
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if len(*sensors) > 0 {
		cfg.Sync.SubscribeSensors = *sensors
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "humidity-sync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svc, err := service.NewSyncService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create sync service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
		cancel()
	}

	if err := svc.Stop(ctx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
