// Command mockdetector serves the detection gRPC API with a scripted scene so
// the daemon can be exercised without an accelerator.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"visiontrigger/internal/detection"
	"visiontrigger/internal/logger"
)

func main() {
	var (
		addrF    = flag.String("addr", ":50051", "Listen address")
		classF   = flag.Int("class", 41, "Class index to report (41 = cup in COCO)")
		classesF = flag.Int("classes", 80, "Number of classes in the model")
		scoreF   = flag.Float64("score", 0.9, "Score of the reported object")
		periodF  = flag.Duration("period", 0, "Object visible for the first half of each period (0 = always)")
		latencyF = flag.Duration("latency", 0, "Simulated inference latency")
		levelF   = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	level, err := logger.ParseLevel(*levelF)
	if err != nil {
		level = logger.INFO
	}
	logger.Init(level, os.Stderr, false)

	sc := &scene{
		class:   *classF,
		classes: *classesF,
		score:   float32(*scoreF),
		period:  *periodF,
		latency: *latencyF,
		start:   time.Now(),
	}

	lis, err := net.Listen("tcp", *addrF)
	if err != nil {
		logger.Error("Mock", "listen %s: %v", *addrF, err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	detection.RegisterDetectorServer(srv, sc.Detect)
	hs := health.NewServer()
	hs.SetServingStatus(detection.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("Mock", "stopping after %d requests", sc.requests.Load())
		srv.GracefulStop()
	}()

	logger.Info("Mock", "Serving %s on %s (class %d, score %.2f, period %v)",
		detection.ServiceName, lis.Addr(), sc.class, sc.score, sc.period)
	if err := srv.Serve(lis); err != nil {
		logger.Error("Mock", "serve: %v", err)
		os.Exit(1)
	}
}
