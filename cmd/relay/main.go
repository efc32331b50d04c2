package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/catalog"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/config"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/producer"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/relay"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/server"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/ws"
	"github.com/aparajitverma/TheExportExpress-sub004/pkg/logger"
	"github.com/aparajitverma/TheExportExpress-sub004/pkg/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (default: ./relay.yaml if present)")
	pflag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read .env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	shutdownTelemetry, err := telemetry.Setup(telemetry.Options{
		Tracing: cfg.Telemetry.Tracing,
		Metrics: cfg.Telemetry.Metrics,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rl := relay.New(relay.NewRegistry(cfg.Relay.Shards), zapLogger, relay.Options{
		ExcludeSender: cfg.Relay.ExcludeSender,
		SendBuffer:    cfg.Relay.SendBuffer,
	})
	wsHandler := ws.NewHandler(rl, zapLogger, ws.OptionsFromConfig(cfg))

	var sources []producer.Source
	if cfg.Redis.Enabled {
		client := producer.NewRedisClient(cfg.Redis)
		defer client.Close()
		sources = append(sources, producer.NewRedisSource(client, cfg.Redis.Channels, rl, zapLogger))
	}
	if cfg.Kafka.Enabled {
		reader := producer.NewKafkaReader(cfg.Kafka, zapLogger)
		sources = append(sources, producer.NewKafkaSource(reader, rl, zapLogger))
	}
	runner := producer.NewRunner(zapLogger, sources...)
	producersDone := make(chan struct{})
	go func() {
		defer close(producersDone)
		if err := runner.Run(ctx); err != nil {
			zapLogger.Error("Producer sources failed", zap.Error(err))
		}
	}()

	srv := server.NewServer(cfg, zapLogger, rl, wsHandler, catalog.NewFixtures())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	zapLogger.Info("ExportExpress relay started",
		zap.String("addr", cfg.Addr()),
		zap.Bool("exclude_sender", cfg.Relay.ExcludeSender),
		zap.Int("producer_sources", runner.Len()))

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("HTTP server failed", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	wsHandler.Close()
	rl.Close()
	if err := wsHandler.Wait(shutdownCtx); err != nil {
		zapLogger.Warn("WebSocket connections did not drain", zap.Error(err))
	}
	select {
	case <-producersDone:
	case <-shutdownCtx.Done():
		zapLogger.Warn("Producer sources did not stop in time")
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		zapLogger.Warn("Failed to flush telemetry", zap.Error(err))
	}

	zapLogger.Info("Shutdown complete")
}
