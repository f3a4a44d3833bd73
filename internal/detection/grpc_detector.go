package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"visiontrigger/internal/logger"
	"visiontrigger/internal/pipeline"
)

const (
	module = "GRPCDetector"

	// ServiceName is the gRPC service exposed by the inference process
	ServiceName = "visiontrigger.detection.v1.Detector"
	// DetectMethod is the full method name of the unary detect call
	DetectMethod = "/" + ServiceName + "/Detect"
)

// GRPCDetector runs inference on a remote model-serving process.
// Requests and responses are google.protobuf.Struct messages:
//
//	request:  {model, jpeg (base64), width, height, threshold}
//	response: {classes: [[[y0,x0,y1,x1,score], ...] per class id], inference_ms}
type GRPCDetector struct {
	endpoint  string
	model     string
	threshold float32
	timeout   time.Duration

	conn   *grpc.ClientConn
	health healthpb.HealthClient

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint      string
	Model         string
	ConfThreshold float32
	Timeout       time.Duration
	DialOptions   []grpc.DialOption // extra options, e.g. a context dialer in tests
}

// NewGRPCDetector creates a client for the inference service. The connection
// is established lazily on first use.
func NewGRPCDetector(cfg GRPCDetectorConfig) (*GRPCDetector, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Endpoint, err)
	}

	logger.Info(module, "Using inference service at %s (model: %s)", cfg.Endpoint, cfg.Model)

	return &GRPCDetector{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		threshold: cfg.ConfThreshold,
		timeout:   cfg.Timeout,
		conn:      conn,
		health:    healthpb.NewHealthClient(conn),
	}, nil
}

func (gd *GRPCDetector) Name() string {
	return "grpc"
}

// IsHealthy checks the standard gRPC health service, caching a positive
// answer for 30 seconds
func (gd *GRPCDetector) IsHealthy(ctx context.Context) bool {
	gd.healthMu.RLock()
	if gd.healthy && time.Since(gd.lastHealth) < 30*time.Second {
		gd.healthMu.RUnlock()
		return true
	}
	gd.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if err != nil {
		logger.Warn(module, "Health check failed: %v", err)
	}

	gd.healthMu.Lock()
	gd.healthy = healthy
	gd.lastHealth = time.Now()
	gd.healthMu.Unlock()

	return healthy
}

// Infer implements pipeline.Detector
func (gd *GRPCDetector) Infer(ctx context.Context, frame *pipeline.FrameData) (*pipeline.RawOutput, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"model":     gd.model,
		"jpeg":      base64.StdEncoding.EncodeToString(frame.Data),
		"width":     float64(frame.Width),
		"height":    float64(frame.Height),
		"threshold": float64(gd.threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		gd.healthMu.Lock()
		gd.healthy = false
		gd.healthMu.Unlock()
		return nil, fmt.Errorf("detect rpc: %w", err)
	}

	return DecodeRawOutput(resp)
}

// Close shuts down the gRPC connection
func (gd *GRPCDetector) Close() error {
	return gd.conn.Close()
}

// DecodeRawOutput converts a detect response into per-class raw rows
func DecodeRawOutput(resp *structpb.Struct) (*pipeline.RawOutput, error) {
	out := &pipeline.RawOutput{
		InferenceMs: float32(resp.GetFields()["inference_ms"].GetNumberValue()),
	}

	classes := resp.GetFields()["classes"].GetListValue()
	if classes == nil {
		return out, nil
	}

	out.Classes = make([][][]float32, len(classes.GetValues()))
	for classID, cls := range classes.GetValues() {
		rows := cls.GetListValue()
		if rows == nil {
			return nil, fmt.Errorf("class %d: expected a list of rows", classID)
		}
		for i, r := range rows.GetValues() {
			vals := r.GetListValue()
			if vals == nil || len(vals.GetValues()) < 5 {
				return nil, fmt.Errorf("class %d row %d: expected [y0,x0,y1,x1,score]", classID, i)
			}
			row := make([]float32, len(vals.GetValues()))
			for j, v := range vals.GetValues() {
				row[j] = float32(v.GetNumberValue())
			}
			out.Classes[classID] = append(out.Classes[classID], row)
		}
	}
	return out, nil
}

var _ pipeline.Detector = (*GRPCDetector)(nil)
