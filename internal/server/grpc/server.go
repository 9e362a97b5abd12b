// Package grpcserver hosts the Topic Tailer's admin gRPC surface: a
// standard gRPC health check over the room loop's liveness. No custom
// .proto is compiled; subscribe/deliver traffic is carried by whatever
// network layer sits in front of the Tailer (out of scope here — see
// internal/tailer's package doc), and grpc-go already ships the health
// service pre-generated.
//
// Example:
//
//	s := grpcserver.New()
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":7620")
package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server owns the gRPC server instance and its health registry.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// New constructs a gRPC server with the standard health service registered,
// serving NOT_SERVING until MarkServing is called.
func New(opts ...grpc.ServerOption) *Server {
	s := &Server{grpc: grpc.NewServer(opts...), health: health.NewServer()}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// MarkServing flips the overall health status to SERVING. Call once the
// Tailer's room loop is running.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// MarkNotServing flips the overall health status back to NOT_SERVING, e.g.
// during a draining shutdown.
func (s *Server) MarkNotServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
