package grpc

import (
	"context"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the monitor.
const ServiceName = "flowwatch.Monitor"

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthServer wraps the gRPC health check server
type HealthServer struct {
	server *health.Server
}

// NewHealthServer creates a health server reporting SERVING.
func NewHealthServer() *HealthServer {
	h := &HealthServer{server: health.NewServer()}
	h.SetServing(true)
	return h
}

// SetServing sets the status of the overall server and ServiceName.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Probe runs checks and marks the server NOT_SERVING when any fails.
// It returns the first failure.
func (h *HealthServer) Probe(ctx context.Context, checks ...HealthCheck) error {
	for _, check := range checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			h.SetServing(false)
			return err
		}
	}
	h.SetServing(true)
	return nil
}

// Shutdown sets every service to NOT_SERVING permanently.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}
