package grpc

import (
	"chat-relay/errors"
	"context"
	"log/slog"

	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// RelayService is the service name reported by the health endpoint.
const RelayService = "chat.relay.v1.Relay"

// HealthServer reports whether the relay can store messages.
// It starts as NOT_SERVING until the first successful store probe.
type HealthServer struct {
	log    *slog.Logger
	server *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	h := &HealthServer{log: log, server: health.NewServer()}
	h.SetServing(false)
	return h
}

func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(RelayService, status)
	h.log.Debug("Health status updated", "service", RelayService, "status", status.String())
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// NewServer builds the gRPC server exposing the health service.
func NewServer(log *slog.Logger, healthServer *HealthServer) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			sdkgrpc.UnaryLoggingInterceptor(log),
			UnaryErrorInterceptor,
		))
	healthpb.RegisterHealthServer(s, healthServer.server)
	for serviceName := range s.GetServiceInfo() {
		log.Debug("gRPC exposed services", "name", serviceName)
	}
	return s
}

// UnaryErrorInterceptor turns domain errors returned by handlers into gRPC status errors.
// The health service already answers with status errors and passes through
// untouched; the mapping applies to any relay service registered on this server.
func UnaryErrorInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if _, ok := status.FromError(err); ok {
		return resp, err
	}
	return resp, errors.MapToGRPCError(err)
}
