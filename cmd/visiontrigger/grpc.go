package main

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"visiontrigger/internal/link"
	"visiontrigger/internal/logger"
)

// LinkServiceName is the health service reporting the peer link
const LinkServiceName = "visiontrigger.link.v1.Link"

// linkHealth mirrors the link state into a gRPC health server: SERVING
// while the peer is connected.
type linkHealth struct {
	srv *health.Server
}

func newLinkHealth() *linkHealth {
	h := &linkHealth{srv: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *linkHealth) OnLinkState(session link.LinkSession) {
	if session.Status == link.Connected {
		h.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (h *linkHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(LinkServiceName, status)
}

// serveGRPCHealth runs the health server on addr until ctx is cancelled
func serveGRPCHealth(ctx context.Context, addr string, h *linkHealth) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc health listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.srv)
	reflection.Register(srv)

	errc := make(chan error, 1)
	go func() {
		logger.Info("GRPC", "Health server listening on %s", lis.Addr())
		errc <- srv.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	h.srv.Shutdown()
	srv.GracefulStop()
	logger.Info("GRPC", "Health server stopped")
	return nil
}
