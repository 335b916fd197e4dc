package grpc_server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/okieraised/relay-controller/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthReporterMirrorsFaults(t *testing.T) {
	ctx := context.Background()
	hr := NewHealthReporter([]relay.Status{{ID: "relay_1"}, {ID: "relay_2"}})

	st, err := hr.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	hr.Observe(relay.Status{ID: "relay_2", Fault: true, FaultError: "i2c nack"})
	st, err = hr.Check(ctx, RelayServiceName("relay_2"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
	st, err = hr.Check(ctx, RelayServiceName("relay_1"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	hr.Observe(relay.Status{ID: "relay_2"})
	st, err = hr.Check(ctx, RelayServiceName("relay_2"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = hr.Check(ctx, RelayServiceName("relay_9"))
	assert.Error(t, err)

	hr.Shutdown()
	st, err = hr.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}

func TestHealthReporterOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hr := NewHealthReporter([]relay.Status{{ID: "relay_1"}})
	hr.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)

	hr.Observe(relay.Status{ID: "relay_1", Fault: true})
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: RelayServiceName("relay_1")})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
