// Package api serves the trader's read-only status over HTTP and the
// engine's health over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"breakout/internal/config"
	"breakout/internal/domain"
	"breakout/internal/engine"
)

// EngineService is the gRPC health service name that tracks the session.
const EngineService = "breakout.engine"

// StatusSource reports the engine's session state.
type StatusSource interface {
	Snapshot() engine.Snapshot
}

// AccountSource reads the brokerage account.
type AccountSource interface {
	Portfolio(ctx context.Context) (domain.Portfolio, error)
	Positions(ctx context.Context) ([]domain.Position, error)
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	status   StatusSource
	account  AccountSource
	health   *health.Server
	log      *slog.Logger
}

// NewServer creates a Server listening on the addresses in cfg. A zero
// GRPCPort disables the health endpoint listener.
func NewServer(cfg config.Server, status StatusSource, account AccountSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		httpAddr: net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		status:   status,
		account:  account,
		health:   health.NewServer(),
		log:      logger.With("component", "api"),
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.GRPCPort))
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Health exposes the gRPC health service.
func (s *Server) Health() *health.Server { return s.health }

// SetEngineState updates the engine health: SERVING while a session is
// active, NOT_SERVING otherwise. It matches engine.OnTransition.
func (s *Server) SetEngineState(_, to engine.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if to == engine.StateActive {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(EngineService, status)
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails. Both are shut down on return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		s.log.Info("http listening", "addr", s.httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = httpSrv.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, s.health)
		go func() {
			s.log.Info("grpc listening", "addr", s.grpcAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		s.log.Warn("http shutdown", "error", serr)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return err
}
