package grpcsvc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"fadedreams/roadassist/domain"
)

const appName = "roadassist"

// HealthServer reports store reachability through the standard gRPC health
// service, both overall ("") and under the service name.
type HealthServer struct {
	health  *health.Server
	store   domain.Pinger
	service string
	logger  *slog.Logger
	serving *bool
}

func NewHealthServer(store domain.Pinger, service string, logger *slog.Logger) *HealthServer {
	return &HealthServer{
		health:  health.NewServer(),
		store:   store,
		service: service,
		logger:  logger,
	}
}

// Register attaches the health service and reflection to grpcServer.
func (s *HealthServer) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
	reflection.Register(grpcServer)
}

// check pings the store once and publishes the resulting status.
func (s *HealthServer) check(ctx context.Context) {
	ctx, span := otel.Tracer(appName).Start(ctx, "GRPCHealthCheck")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Store unreachable")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	serving := status == healthpb.HealthCheckResponse_SERVING
	if s.serving == nil || *s.serving != serving {
		s.logger.Info("Health status changed", "status", status.String(), "app", appName)
		s.serving = &serving
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

// Start checks the store on every tick until ctx is cancelled, then marks
// the server as shutting down.
func (s *HealthServer) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.check(ctx)
		}
	}
}
