package app

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sensordash/internal/services/controller"
)

// HealthService is the gRPC health service name reporting dashboard state.
const HealthService = "sensordash.Dashboard"

// NewHealthServer returns a gRPC health server whose status follows the
// controller: SERVING only while Ready. Register sync with
// Controller.OnStateChange.
func NewHealthServer(initial controller.State) (*health.Server, func(old, new controller.State)) {
	hs := health.NewServer()
	set := func(s controller.State) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if s == controller.StateReady {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(HealthService, status)
		hs.SetServingStatus("", status)
	}
	set(initial)
	return hs, func(_, next controller.State) { set(next) }
}
