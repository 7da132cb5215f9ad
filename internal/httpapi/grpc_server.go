package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"neon.nuty.works/internal/obs"
)

// HealthServer exposes readiness over the standard gRPC health protocol.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
}

// NewHealthServer creates the gRPC health wrapper. It starts NOT_SERVING until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	hs := &HealthServer{srv: health.NewServer(), readiness: r}
	hs.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.srv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the readiness check once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	err := h.readiness.Check(ctx)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(serviceName, st)
	return err
}

// Run refreshes on every tick until ctx is done.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
			obs.Error("grpc readiness check failed", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.srv.Shutdown()
}
