package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// serveOpsEndpoints поднимает служебный сервер на свободном порту и ждёт, пока он начнёт отвечать.
func serveOpsEndpoints(t *testing.T, ctx context.Context, checks *healthcheck.Handler) string {
	t.Helper()

	addr := freeAddr(t)
	srv := startMetricsServer(ctx, addr, log.WithField("test", t.Name()), checks)
	require.NotNil(t, srv)

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/livez")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "metrics server did not start")
	return base
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().String()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := healthcheck.NewHandler(version.GetVersion())
	checks.RegisterChecker("store", healthcheck.NewPingChecker("store", func(context.Context) error { return nil }))
	base := serveOpsEndpoints(t, ctx, checks)

	for _, path := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		status, body := get(t, base+path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.NotEmpty(t, body, path)
	}

	_, live := get(t, base+"/livez")
	assert.Equal(t, "ok", live)
	_, metrics := get(t, base+"/metrics")
	assert.Contains(t, metrics, "go_goroutines")
}

func TestStartMetricsServer_ReadyzReflectsRequiredCheckers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := healthcheck.NewHandler(version.GetVersion())
	checks.RegisterChecker("store", healthcheck.NewPingChecker("store", func(context.Context) error {
		return errors.New("connection refused")
	}))
	base := serveOpsEndpoints(t, ctx, checks)

	status, _ := get(t, base+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	// Liveness не зависит от хранилища.
	status, _ = get(t, base+"/livez")
	assert.Equal(t, http.StatusOK, status)
}

func TestStartMetricsServer_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base := serveOpsEndpoints(t, ctx, healthcheck.NewHandler(version.GetVersion()))

	cancel()

	assert.Eventually(t, func() bool {
		resp, err := http.Get(base + "/livez")
		if err != nil {
			return true
		}
		resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond, "metrics server still serving after cancel")
}

func TestShutdownHTTP(t *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "nil"))

	addr := freeAddr(t)
	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe() }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	shutdownHTTP(srv, log.WithField("test", "shutdown"))

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestSyncGRPCHealth(t *testing.T) {
	srv := health.NewServer()
	checks := healthcheck.NewHandler(version.GetVersion())
	checks.RegisterChecker("store", healthcheck.NewPingChecker("store", func(context.Context) error {
		return errors.New("down")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syncGRPCHealth(ctx, srv, checks)

	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestNewGRPCHealthServer_ServesHealthProtocol(t *testing.T) {
	logger := log.WithField("test", "grpc-health")

	grpcServer, healthServer := newGRPCHealthServer(logger)
	// Повторное создание не должно паниковать на регистрации метрик.
	second, _ := newGRPCHealthServer(logger)
	second.Stop()

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
