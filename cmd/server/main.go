package main

import (
	"chat-relay/infrastructure/grpc"
	"chat-relay/infrastructure/httpapi"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Every deferred close runs before the process exits.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig(".env")
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB) and search index (Bluge)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithSyncWrites(config.SyncWrites).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing Bluge index...")
		_ = writer.Close()
	}()

	repository, err := repositories.NewMessageRepository(db, log, config.LimitMessages,
		repositories.NewMessageIndex(writer, log))
	if err != nil {
		return err
	}
	defer func() { _ = repository.Close() }()

	// 3. Supervision & Orchestration
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, supervisor, repository, config.SinkTimeout, runtime.Policy{
		StrictMembership: config.StrictMembership,
		PersistTimeout:   config.PersistTimeout,
		PersistRetries:   config.PersistRetries,
		RetryInterval:    config.RetryInterval,
	})

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Transports
	healthServer := grpc.NewHealthServer(log)
	heartbeat := workers.NewHeartbeatWorker(log, orchestrator, repository, healthServer, config.MetricInterval)

	websocket := ws.NewHandler(ctx, log, orchestrator.Sessions(), ws.Options{
		ConnectionBufferSize: config.ConnectionBufferSize,
		MaxMessageSize:       config.MaxMessageSize,
		MaxTextLength:        config.MaxTextLength,
		RateLimitPerSecond:   config.RateLimitPerSecond,
		RateLimitBurst:       config.RateLimitBurst,
		AllowedOrigins:       config.Origins(),
	})
	httpServer := &http.Server{
		Addr:              config.Address(),
		Handler:           httpapi.NewRouter(log, repository, orchestrator, heartbeat, websocket),
		ReadHeaderTimeout: 10 * time.Second,
	}

	orchestrator.Add(
		heartbeat,
		workers.NewHTTPServerWorker(log, httpServer, config.ShutdownTimeout),
		workers.NewGrpcServerWorker(log, grpc.NewServer(log, healthServer), config.GrpcAddress()),
	)

	// 6. Start and wait for a signal
	orchestrator.Start(ctx)
	log.Info("Chat relay started", "http", config.Address(), "grpc", config.GrpcAddress())
	<-ctx.Done()

	// 7. Final Cleanup
	log.Info("Shutting down gracefully...")
	healthServer.Shutdown()
	orchestrator.Stop()
	log.Info("Program stopped cleanly")
	return nil
}
