// Package health exposes the monitor's liveness and arming state over the
// standard gRPC health checking protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/nightwatchman/internal/gate"
	"github.com/banshee-data/nightwatchman/internal/pipeline"
)

// ServiceName reports SERVING while the gate is ACTIVE_MONITORING. The
// overall service "" reports SERVING for as long as the process runs.
const ServiceName = "nightwatchman.Posture"

// Server is a gRPC server carrying only the health service.
type Server struct {
	log    *zap.Logger
	addr   string
	health *grpchealth.Server
	server *grpc.Server

	running  atomic.Bool
	listener net.Listener
	wg       sync.WaitGroup
}

var _ pipeline.Handler = (*Server)(nil)

// NewServer creates a Server that will listen on addr.
func NewServer(log *zap.Logger, addr string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	hs := grpchealth.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{log: log, addr: addr, health: hs, server: srv}
}

// Start binds addr and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("health server already running")
	}
	s.listener = lis

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			s.log.Error("grpc health server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and gracefully stops the server.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	s.log.Info("grpc health server stopped")
}

// SetGate updates ServiceName from the gate state.
func (s *Server) SetGate(state gate.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == gate.ActiveMonitoring {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// HandleEvent follows gate changes.
func (s *Server) HandleEvent(ev pipeline.Event) {
	if ev.Kind == pipeline.EventGate {
		s.SetGate(ev.Gate)
	}
}

// Status returns the local serving status of service.
func (s *Server) Status(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Probe queries a remote health service.
func Probe(ctx context.Context, addr, service string, opts ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %q: %w", service, err)
	}
	return resp.GetStatus(), nil
}
