package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"volunteersync.org/internal/obs"
)

// IdentityService is the service name reported alongside the overall ("") status.
const IdentityService = "volunteersync.identity"

// GRPCServer serves grpc.health.v1.Health backed by the readiness check.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	logger    *slog.Logger
}

func NewGRPCServer(r readinessChecker, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		logger:    logger.With("component", "grpc"),
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register installs the health service, and reflection when asked, on srv.
func (s *GRPCServer) Register(srv *grpc.Server, withReflection bool) {
	healthpb.RegisterHealthServer(srv, s.health)
	if withReflection {
		reflection.Register(srv)
	}
}

// Refresh runs the readiness check once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch refreshes the status every interval until ctx ends.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "readiness check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher ahead of GracefulStop.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
}

func (s *GRPCServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(IdentityService, status)
}
