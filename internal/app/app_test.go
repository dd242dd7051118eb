package app

import (
	"context"
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestRoles(t *testing.T) {
	roles := Roles()

	require.Len(t, roles, 5)
	assert.Equal(t, RoleOrderService, roles[0])
	assert.Equal(t, RoleInventory, roles[len(roles)-1])
}

func TestGRPCHealthServer(t *testing.T) {
	logger := log.WithField("test", "grpc-health")
	grpcServer, healthServer := newGRPCHealthServer(logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = grpcServer.Serve(lis) }()
	defer stopGRPC(grpcServer, logger)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestNewGRPCHealthServer_RegistersMetricsOnce(t *testing.T) {
	logger := log.WithField("test", "grpc-metrics")

	first, _ := newGRPCHealthServer(logger)
	second, _ := newGRPCHealthServer(logger)

	assert.NotNil(t, first)
	assert.NotNil(t, second)
}
