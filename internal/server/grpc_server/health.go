package grpc_server

import (
	"context"
	"sync"

	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/relay"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const relayServicePrefix = "relayctl.relay."

// RelayServiceName is the health service name that tracks one relay.
func RelayServiceName(relayID string) string { return relayServicePrefix + relayID }

// HealthReporter mirrors relay fault state into the standard gRPC health
// service. The overall ("") status stays SERVING until Shutdown; each relay
// has its own entry that is NOT_SERVING while the relay is faulted.
type HealthReporter struct {
	hs     *health.Server
	logger *log.Logger

	mu      sync.Mutex
	faulted map[string]bool
}

func NewHealthReporter(relays []relay.Status) *HealthReporter {
	h := &HealthReporter{
		hs:      health.NewServer(),
		logger:  log.Component("grpc_health"),
		faulted: make(map[string]bool, len(relays)),
	}
	h.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, st := range relays {
		h.Observe(st)
	}
	return h
}

// Register installs the health service on s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Observe is a relay.StateListener.
func (h *HealthReporter) Observe(st relay.Status) {
	h.mu.Lock()
	prev, seen := h.faulted[st.ID]
	h.faulted[st.ID] = st.Fault
	h.mu.Unlock()
	if seen && prev == st.Fault {
		return
	}

	status := healthpb.HealthCheckResponse_SERVING
	if st.Fault {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("Relay reported unhealthy", zap.String("relay_id", st.ID), zap.String("fault", st.FaultError))
	}
	h.hs.SetServingStatus(RelayServiceName(st.ID), status)
}

func (h *HealthReporter) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Shutdown flips every entry to NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.hs.Shutdown()
}
