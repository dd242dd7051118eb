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

	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Role - бинарник саги.
type Role string

const (
	RoleOrderService      Role = "order-service"
	RoleOrchestrator      Role = "orchestrator"
	RoleProductValidation Role = "product-validation-service"
	RolePayment           Role = "payment-service"
	RoleInventory         Role = "inventory-service"
)

// Roles перечисляет все роли в порядке шагов саги.
func Roles() []Role {
	return []Role{RoleOrderService, RoleOrchestrator, RoleProductValidation, RolePayment, RoleInventory}
}

// component - запущенная часть роли: consumer, HTTP API и фоновые воркеры.
type component struct {
	consumer *kafka.Consumer
	httpSrv  *http.Server
	workers  []func(ctx context.Context)
}

// Run запускает роль и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, role Role, cfg Config) error {
	logger := log.WithField("component", string(role))
	build := version.Get()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer deps.Close(logger)

	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init kafka producer: %w", err)
	}

	sagaMetrics := metrics.NewSagaMetrics()
	comp, err := buildComponent(ctx, role, cfg, deps, producer, sagaMetrics, logger)
	if err != nil {
		closeKafka(nil, producer, logger)
		return err
	}

	registerCollector(build.Collector(string(role)), logger)
	healthHandler := healthcheck.NewHandler(string(role), healthcheck.WithVersion(build.Version))
	for _, probe := range deps.probes {
		healthHandler.Register(probe)
	}
	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, healthHandler)

	grpcServer, healthServer := newGRPCHealthServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		closeKafka(comp.consumer, producer, logger)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("grpc health server listening on %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	if comp.httpSrv != nil {
		go func() {
			logger.Infof("http api listening on %s", comp.httpSrv.Addr)
			if err := comp.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, worker := range comp.workers {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(workersCtx)
		}(worker)
	}

	logger.WithFields(log.Fields{
		"version": build.Version,
		"commit":  build.Commit,
	}).Info("service started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case runErr = <-errCh:
		if errors.Is(runErr, grpc.ErrServerStopped) {
			runErr = nil
		}
	}

	healthHandler.SetDraining(true)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(comp.httpSrv, logger)
	stopWorkers()
	wg.Wait()
	closeKafka(comp.consumer, producer, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// newGRPCHealthServer поднимает стандартный grpc health сервис с метриками go-grpc-prometheus.
func newGRPCHealthServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if existing, ok := registerCollector(grpcMetrics, logger).(*promgrpc.ServerMetrics); ok {
		grpcMetrics = existing
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// registerCollector регистрирует collector в глобальном реестре и возвращает
// уже зарегистрированный экземпляр, если такой есть.
func registerCollector(c prometheus.Collector, logger *log.Entry) prometheus.Collector {
	err := prometheus.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector
	}
	logger.WithError(err).Warn("failed to register collector")
	return c
}

func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing grpc server stop")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics, /healthz, /livez и /readyz.
// Сервер останавливает Run последним, чтобы /readyz успел отдать draining.
func startMetricsServer(addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
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
		logger.WithError(err).Warn("http shutdown with error")
	}
}
