package server

import (
	"PortfolioLedger/internal/api"
	"PortfolioLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer serves portfolio.v1.PortfolioService over gRPC and the same
// operations as HTTP/JSON through a grpc-gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       api.PortfolioServiceServer
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

// ServerDeps holds everything the server needs.
type ServerDeps struct {
	Service       api.PortfolioServiceServer
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	// Gatherer backs /metrics; defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// NewGRPCServer creates a gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       deps.Service,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		gatherer:      deps.Gatherer,
		logger:        deps.Logger,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	api.RegisterPortfolioServiceServer(s.grpcServer, deps.Service)

	// Health check
	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)

	return s
}

// Serve runs the gRPC server on lis until Stop or GracefulStop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	err = s.Serve(lis)
	if ctx.Err() != nil {
		// Serve returns as soon as the listener closes; in-flight RPCs are
		// done only once GracefulStop returns.
		<-stopped
		return nil
	}
	return err
}

// Stop stops the gRPC server immediately.
func (s *GRPCServer) Stop() {
	s.grpcServer.Stop()
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func (s *GRPCServer) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.observe(path.Base(info.FullMethod), start, err)
	return resp, err
}

func (s *GRPCServer) observe(method string, start time.Time, err error) {
	code := status.Code(err)
	if s.metrics != nil {
		s.metrics.RPCRequests.WithLabelValues(method, code.String()).Inc()
		s.metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	s.logger.Debug().
		Str("method", method).
		Str("code", code.String()).
		Dur("elapsed", time.Since(start)).
		Msg("rpc")
}
