package workers

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
)

// HTTPServerWorker serves HTTP until its context is cancelled, then shuts down gracefully.
type HTTPServerWorker struct {
	log             *slog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewHTTPServerWorker(log *slog.Logger, server *http.Server, shutdownTimeout time.Duration) *HTTPServerWorker {
	return &HTTPServerWorker{log: log, server: server, shutdownTimeout: shutdownTimeout}
}

func (w *HTTPServerWorker) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting HTTP server", "address", w.server.Addr, "at", time.Now().UTC())
		if err := w.server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()
	w.log.Info("Shutting down HTTP server...")
	// Hijacked websocket connections are not tracked by Shutdown, their pumps stop on their own
	return w.server.Shutdown(shutdownCtx)
}

// GrpcServerWorker serves gRPC on address until its context is cancelled.
type GrpcServerWorker struct {
	log     *slog.Logger
	server  *grpc.Server
	address string
}

func NewGrpcServerWorker(log *slog.Logger, server *grpc.Server, address string) *GrpcServerWorker {
	return &GrpcServerWorker{log: log, server: server, address: address}
}

func (w *GrpcServerWorker) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.address, err)
	}

	errChan := make(chan error, 1)
	go func() {
		w.log.Info("Starting gRPC server", "address", w.address, "at", time.Now().UTC())
		if err := w.server.Serve(listener); err != nil && !stdErrors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		w.log.Info("Shutting down gRPC server...")
		w.server.GracefulStop()
		return nil
	}
}
