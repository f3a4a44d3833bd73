package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"visiontrigger/internal/actuation"
	"visiontrigger/internal/config"
	"visiontrigger/internal/control"
	"visiontrigger/internal/detection"
	"visiontrigger/internal/link"
	"visiontrigger/internal/link/ble"
	"visiontrigger/internal/link/mqtt"
	"visiontrigger/internal/logger"
	"visiontrigger/internal/metrics"
	"visiontrigger/internal/pipeline"
	"visiontrigger/internal/trigger"
	"visiontrigger/internal/ws"
)

func main() {
	var (
		configF    = flag.String("config", "", "Path to YAML configuration file")
		modelF     = flag.String("model", "", "Model path passed to the inference service")
		labelsF    = flag.String("labels", "", "Label file, one class name per line")
		scoreF     = flag.String("score_thresh", "", "Detection score threshold")
		peerF      = flag.String("peer", "", "Peer address (BLE MAC or MQTT device id)")
		transportF = flag.String("transport", "", "Link transport (ble, mqtt)")
		deviceF    = flag.String("device", "", "Camera device or URL")
		logLevelF  = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
		dbgF       = flag.Bool("debug", false, "Log HTTP request and response bodies")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visiontrigger: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, *modelF, *labelsF, *scoreF, *peerF, *transportF, *deviceF, *logLevelF); err != nil {
		fmt.Fprintf(os.Stderr, "visiontrigger: %v\n", err)
		os.Exit(2)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, os.Stderr, cfg.LogColor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dbgF); err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
	logger.Info("Main", "exited")
}

// applyFlags overrides config values with explicitly set flags
func applyFlags(cfg *config.Config, model, labels, score, peer, transport, device, level string) error {
	if model != "" {
		cfg.Detector.Model = model
	}
	if labels != "" {
		cfg.Detector.Labels = labels
	}
	if score != "" {
		v, err := strconv.ParseFloat(score, 32)
		if err != nil {
			return fmt.Errorf("invalid -score_thresh %q: %w", score, err)
		}
		cfg.Detector.ScoreThreshold = float32(v)
	}
	if peer != "" {
		cfg.Link.Peer = peer
	}
	if transport != "" {
		cfg.Link.Transport = transport
	}
	if device != "" {
		cfg.Camera.Device = device
	}
	if level != "" {
		cfg.LogLevel = level
	}
	return cfg.Validate()
}

func newTransport(cfg config.LinkConfig) (link.Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case "ble":
		return ble.New(ble.Config{
			ServiceUUID: cfg.BLE.ServiceUUID,
			RXUUID:      cfg.BLE.RXUUID,
			TXUUID:      cfg.BLE.TXUUID,
		}), nil
	case "mqtt":
		return mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}), nil
	default:
		return nil, fmt.Errorf("unknown link transport %q", cfg.Transport)
	}
}

func run(ctx context.Context, cfg *config.Config, debug bool) error {
	labels, err := detection.LoadLabels(cfg.Detector.Labels)
	if err != nil {
		logger.Warn("Main", "Labels unavailable (%v), using class ids", err)
	}

	detector, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
		Endpoint:      cfg.Detector.Endpoint,
		Model:         cfg.Detector.Model,
		ConfThreshold: cfg.Detector.ScoreThreshold,
		Timeout:       cfg.Detector.Timeout,
	})
	if err != nil {
		return fmt.Errorf("inference client: %w", err)
	}
	defer detector.Close()

	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if !detector.IsHealthy(healthCtx) {
		logger.Warn("Main", "Inference service at %s is not healthy yet", cfg.Detector.Endpoint)
	}
	cancel()

	frames := pipeline.NewFFmpegFrameProvider(pipeline.FrameProviderConfig{
		Device:       cfg.Camera.Device,
		FPS:          cfg.Camera.FPS,
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		FrameTimeout: cfg.Camera.FrameTimeout,
		RestartDelay: 2 * time.Second,
	})
	source := pipeline.NewDetectionSource(frames, detector, pipeline.SourceConfig{
		Labels:         labels,
		ScoreThreshold: cfg.Detector.ScoreThreshold,
	})

	bus := pipeline.NewEventBus()
	defer bus.Close()

	m := metrics.New()
	bus.Subscribe(pipeline.EventHandlerFunc(m.OnEvent))

	transport, err := newTransport(cfg.Link)
	if err != nil {
		return err
	}
	linkMgr := link.NewManager(transport, link.Config{
		Peer:           cfg.Link.Peer,
		ConnectTimeout: cfg.Link.ConnectTimeout,
		WriteTimeout:   cfg.Link.WriteTimeout,
		Backoff: link.Backoff{
			Initial:    cfg.Link.Backoff.Initial,
			Max:        cfg.Link.Backoff.Max,
			Multiplier: cfg.Link.Backoff.Multiplier,
		},
		NotifyQueue: cfg.Link.NotifyQueue,
	})

	linkHealth := newLinkHealth()
	linkMgr.OnStateChange(m.OnLinkState)
	linkMgr.OnStateChange(linkHealth.OnLinkState)
	linkMgr.OnStateChange(func(s link.LinkSession) {
		event := pipeline.NewEvent(pipeline.EventLink)
		event.Status = s.Status.String()
		event.Peer = s.PeerAddress
		event.Error = s.LastError
		bus.Publish(event)
	})
	linkMgr.Subscribe(func(msg string) {
		event := pipeline.NewEvent(pipeline.EventNotification)
		event.Peer = cfg.Link.Peer
		event.Message = msg
		bus.Publish(event)
	})

	actuator := actuation.New(linkMgr, actuation.Config{
		Command: cfg.Actuation.Command,
		Hold:    cfg.Actuation.Hold,
	}, bus)
	policy := trigger.NewPolicy(trigger.PolicyConfig{
		TargetLabel: cfg.Trigger.TargetLabel,
		Threshold:   cfg.Trigger.Threshold,
		Cooldown:    cfg.Trigger.Cooldown,
	})
	loop := control.New(source, policy, actuator.Actuate, bus, control.Config{Interval: cfg.Loop.Interval})

	hub := ws.NewEventHub()
	hubEvents, unsubscribe := bus.SubscribeChannel(256)
	defer unsubscribe()

	httpLogger := logger.Default().StdLogger("HTTP")
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: newHTTPHandler(&apiDeps{
			link:     linkMgr,
			loop:     loop,
			policy:   policy,
			actuator: actuator,
			source:   source,
			metrics:  m.Handler(),
			events:   ws.NewHandler(hub),
		}, httpLogger, debug),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Main", "Watching %s for %q (threshold %.2f, cooldown %v), peer %s over %s",
		cfg.Camera.Device, cfg.Trigger.TargetLabel, cfg.Trigger.Threshold, cfg.Trigger.Cooldown,
		cfg.Link.Peer, transport.Name())

	g, gctx := errgroup.WithContext(ctx)
	// the link outlives the loop so an in-flight actuation can finish sending
	linkCtx, stopLink := context.WithCancel(context.WithoutCancel(gctx))
	defer stopLink()
	g.Go(func() error { return frames.Run(gctx) })
	g.Go(func() error { return linkMgr.Run(linkCtx) })
	g.Go(func() error {
		defer stopLink()
		return loop.Run(gctx)
	})
	g.Go(func() error {
		hub.Run(gctx, hubEvents)
		return nil
	})
	g.Go(func() error { return serveHTTP(gctx, srv, httpLogger) })
	if cfg.GRPC.HealthAddr != "" {
		g.Go(func() error { return serveGRPCHealth(gctx, cfg.GRPC.HealthAddr, linkHealth) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	stats := loop.Stats()
	logger.Info("Main", "Shutdown: %d cycles, %d fires, %d dropped, %d capture errors",
		stats.Cycles, stats.Fires, stats.DroppedFires, stats.CaptureErrors)
	return err
}
