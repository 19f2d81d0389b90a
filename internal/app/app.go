package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

const (
	shutdownTimeout       = 5 * time.Second
	grpcHealthSyncPeriod  = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
)

// Run собирает приложение и блокируется до отмены ctx или падения HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close(logger)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorker(workersCtx, &workers, comps.outboxWorker.Run)
	startWorker(workersCtx, &workers, comps.cleanupWorker.Run)
	startWorker(workersCtx, &workers, comps.staleReporter.Run)
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, comps.health)

	grpcServer, healthServer := newGRPCHealthServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen grpc health: %w", err)
	}
	go func() {
		logger.Infof("gRPC health слушает %s", cfg.GRPCHealthAddr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.WithError(err).Warn("grpc health server failed")
		}
	}()
	go syncGRPCHealth(workersCtx, healthServer, comps.health)

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           comps.handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http api: %w", err)
		}
	}

	healthServer.Shutdown()
	stopGRPC(grpcServer, logger)
	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	return runErr
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, run func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(ctx)
	}()
}

// newGRPCHealthServer поднимает grpc.health.v1 для балансировщиков и k8s probe.
func newGRPCHealthServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return grpcServer, healthServer
}

// syncGRPCHealth переносит результат проверок зависимостей в статус gRPC health.
func syncGRPCHealth(ctx context.Context, srv *health.Server, checks *healthcheck.Handler) {
	ticker := time.NewTicker(grpcHealthSyncPeriod)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		if checks.Run(ctx).Status == healthcheck.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает служебный HTTP: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: httpReadHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
