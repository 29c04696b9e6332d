// Package grpc serves the standard grpc.health.v1 service.  The process
// reports NOT_SERVING until the first reference snapshot is published.
package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
)

const defaultGracefulTimeout = 10 * time.Second

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle:     15 * time.Minute,
	MaxConnectionAge:      30 * time.Minute,
	MaxConnectionAgeGrace: 5 * time.Second,
	Time:                  5 * time.Minute,
	Timeout:               1 * time.Second,
}

var defaultKeepalivePolicy = keepalive.EnforcementPolicy{
	MinTime:             5 * time.Second,
	PermitWithoutStream: true,
}

// ServicePrefix names per-engine health entries: crimesight.engine.<name>.
const ServicePrefix = "crimesight.engine."

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpcServer      *grpc.Server
	healthServer    *health.Server
	cfg             config.GRPCConfig
	logger          logging.Logger
	gracefulTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	engines  []string
	ready    bool
}

// NewServer builds the server.  Every service, including the overall "",
// starts NOT_SERVING.
func NewServer(cfg config.GRPCConfig, logger logging.Logger) *Server {
	logger = logger.Named("grpc")
	gs := grpc.NewServer(
		grpc.KeepaliveParams(defaultKeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(defaultKeepalivePolicy),
		grpc.ChainUnaryInterceptor(recoveryUnaryInterceptor(logger), loggingUnaryInterceptor(logger)),
		grpc.ChainStreamInterceptor(recoveryStreamInterceptor(logger)),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpcServer:      gs,
		healthServer:    hs,
		cfg:             cfg,
		logger:          logger,
		gracefulTimeout: defaultGracefulTimeout,
	}
}

// SetEngines replaces the per-engine health entries.  Removed engines go to
// SERVICE_UNKNOWN; current ones follow the overall readiness.
func (s *Server) SetEngines(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	for _, old := range s.engines {
		if !keep[old] {
			s.healthServer.SetServingStatus(ServicePrefix+old, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	s.engines = append([]string(nil), names...)
	st := s.statusLocked()
	for _, n := range s.engines {
		s.healthServer.SetServingStatus(ServicePrefix+n, st)
	}
}

// MarkReady flips every entry to SERVING.  It is called after the first
// snapshot swap and is idempotent.
func (s *Server) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return
	}
	s.ready = true
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, n := range s.engines {
		s.healthServer.SetServingStatus(ServicePrefix+n, healthpb.HealthCheckResponse_SERVING)
	}
	s.logger.Info("health serving", logging.Int("engines", len(s.engines)))
}

func (s *Server) statusLocked() healthpb.HealthCheckResponse_ServingStatus {
	if s.ready {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve blocks serving l until Stop.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("grpc server starting", logging.String("address", l.Addr().String()))
	return s.grpcServer.Serve(l)
}

// Start listens on the configured port.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", s.cfg.Port, err)
	}
	return s.Serve(l)
}

// Stop drains connections, forcing a stop after the graceful timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.healthServer.Shutdown()

	gracefulCtx, cancel := context.WithTimeout(ctx, s.gracefulTimeout)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.logger.Info("grpc server stopped gracefully")
	case <-gracefulCtx.Done():
		s.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Interceptors
// ---------------------------------------------------------------------------

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc stream panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprintf("%v", r)))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func loggingUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if isHealthCheck(info.FullMethod) && err == nil {
			return resp, err
		}
		logger.Info("grpc request",
			logging.String("method", info.FullMethod),
			logging.Duration("duration", time.Since(start)),
			logging.String("code", status.Code(err).String()))
		return resp, err
	}
}
