package admin

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the health service name the node reports under. The empty
// name reports overall server health and is kept in step with it.
const Service = "broadcast.Node"

// DefaultStopTimeout bounds how long Stop waits for open streams, such as
// health watchers, before closing them.
const DefaultStopTimeout = 2 * time.Second

// Server is a gRPC health and reflection endpoint.
type Server struct {
	lis        net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger

	stopTimeout time.Duration
	stopOnce    sync.Once
}

// New listens on addr and registers the health and reflection services.
// Serving starts with Serve.
func New(addr string, logger *zap.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return newServer(lis, logger), nil
}

func newServer(lis net.Listener, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		lis:        lis,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		logger:     logger.Named("admin"),

		stopTimeout: DefaultStopTimeout,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	s.logger.Info("admin listening", zap.String("addr", lis.Addr().String()))
	return s
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	if err := s.grpcServer.Serve(s.lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// SetServing flips the reported status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	s.logger.Info("health status changed", zap.String("status", status.String()))
}

// Stop marks every service NOT_SERVING and gracefully stops the server.
// Streams still open after the stop timeout are closed. It is safe to call
// more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()

		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(s.stopTimeout):
			s.logger.Warn("graceful stop timed out, closing open streams", zap.Duration("timeout", s.stopTimeout))
			s.grpcServer.Stop()
			<-stopped
		}
		s.logger.Info("admin stopped")
	})
}
