package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// LocalHealthClient serves runtime.WithHealthzEndpoint from an in-process
// health server, without dialing the gRPC listener.
type LocalHealthClient struct {
	Server *health.Server
}

var _ healthpb.HealthClient = LocalHealthClient{}

func (c LocalHealthClient) Check(ctx context.Context, in *healthpb.HealthCheckRequest, _ ...grpc.CallOption) (*healthpb.HealthCheckResponse, error) {
	return c.Server.Check(ctx, in)
}

func (LocalHealthClient) Watch(context.Context, *healthpb.HealthCheckRequest, ...grpc.CallOption) (healthpb.Health_WatchClient, error) {
	return nil, status.Error(codes.Unimplemented, "watch is not served over HTTP")
}

// UnaryLogger logs one line per RPC with its status code and latency.
func UnaryLogger() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unavailable || code == codes.Unknown {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "rpc", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start), "err", err)
		return resp, err
	}
}
