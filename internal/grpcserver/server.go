// Package grpcserver serves the standard gRPC health service so orchestrators can
// probe the worker process.
package grpcserver

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/hijab-blur/internal/logging"
)

// ServiceName is reported alongside the overall server status.
const ServiceName = "hijabblur.Tasks"

// Server wraps a grpc.Server exposing grpc.health.v1.Health.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// New creates a server whose status starts as SERVING.
func New(logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	logger = logger.Named("grpc")
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs, logger: logger}
	s.SetServing(true)
	return s
}

// SetServing flips the reported status of the server and of ServiceName.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until the listener fails or the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health service listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil {
		return logging.NewOperationError("grpcserver.serve", "", err)
	}
	return nil
}

// Stop drains in-flight calls, forcing the stop when ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
		<-done
	}
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
		} else {
			logger.Debug("rpc", zap.String("method", info.FullMethod))
		}
		return resp, err
	}
}
