package grpc

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T) (*HealthServer, healthpb.HealthClient) {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	health := NewHealthServer(slog.Default())
	server := NewServer(slog.Default(), health)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return health, healthpb.NewHealthClient(conn)
}

func TestHealthServer_Follows_Store_Status(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	health, client := startHealthServer(t)

	// Given no probe succeeded yet
	res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: RelayService})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, res.Status)

	// When the store answers
	health.SetServing(true)

	res, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: RelayService})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, res.Status)
	res, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, res.Status)

	// When shutting down
	health.Shutdown()
	health.SetServing(true)

	res, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: RelayService})
	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_NOT_SERVING, res.Status)
}

func TestUnaryErrorInterceptor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	call := func(err error) error {
		_, out := UnaryErrorInterceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/test"},
			func(context.Context, any) (any, error) { return nil, err })
		return out
	}

	req.NoError(call(nil))

	st, ok := status.FromError(call(fmt.Errorf("append: %w", errors.ErrPersistence)))
	req.True(ok)
	req.Equal(codes.Unavailable, st.Code())

	// Status errors pass through untouched
	st, ok = status.FromError(call(status.Error(codes.NotFound, "nope")))
	req.True(ok)
	req.Equal(codes.NotFound, st.Code())
}

func TestNewServer_Keeps_Health_Status_Errors(t *testing.T) {
	req := require.New(t)
	_, client := startHealthServer(t)

	// The health service answers unknown services with NotFound, the error chain keeps it
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown.Service"})

	st, ok := status.FromError(err)
	req.True(ok)
	req.Equal(codes.NotFound, st.Code())
}
