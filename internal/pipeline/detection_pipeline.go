package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"visiontrigger/internal/logger"
)

const sourceModule = "Pipeline"

// CaptureError reports a failed detection cycle. It is always recoverable:
// the caller skips the cycle and tries again.
type CaptureError struct {
	Stage string // "capture" or "inference"
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// SourceConfig configures a DetectionSource
type SourceConfig struct {
	Labels         []string
	ScoreThreshold float32
}

// DetectionSource turns frames into detection batches. Inference runs on its
// own goroutine so a slow model never holds up the caller's cancellation.
type DetectionSource struct {
	frames    FrameSource
	detector  Detector
	labels    []string
	threshold float32

	seq    atomic.Uint64
	latest atomic.Pointer[Batch]

	statsMu sync.RWMutex
	stats   SourceStats
}

// SourceStats contains detection statistics
type SourceStats struct {
	Batches        uint64  `json:"batches"`
	CaptureErrors  uint64  `json:"capture_errors"`
	InferenceErrs  uint64  `json:"inference_errors"`
	AvgInferenceMs float32 `json:"avg_inference_ms"`
	LastBatchTime  int64   `json:"last_batch_time"`
}

// NewDetectionSource creates a source pulling frames from frames and running detector
func NewDetectionSource(frames FrameSource, detector Detector, cfg SourceConfig) *DetectionSource {
	return &DetectionSource{
		frames:    frames,
		detector:  detector,
		labels:    cfg.Labels,
		threshold: cfg.ScoreThreshold,
	}
}

type inferResult struct {
	raw *RawOutput
	err error
}

// NextDetections captures one frame, runs inference and returns the batch.
// Failures are returned as *CaptureError; ctx cancellation as ctx.Err().
func (s *DetectionSource) NextDetections(ctx context.Context) (*Batch, error) {
	frame, err := s.frames.NextFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.countError(false)
		return nil, &CaptureError{Stage: "capture", Err: err}
	}
	if frame == nil {
		s.countError(false)
		return nil, &CaptureError{Stage: "capture", Err: ErrNoFrame}
	}

	resultCh := make(chan inferResult, 1)
	go func() {
		raw, err := s.detector.Infer(ctx, frame)
		resultCh <- inferResult{raw: raw, err: err}
	}()

	var res inferResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-resultCh:
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.countError(true)
		return nil, &CaptureError{Stage: "inference", Err: res.err}
	}
	if res.raw == nil {
		s.countError(true)
		return nil, &CaptureError{Stage: "inference", Err: errors.New("detector returned no output")}
	}

	width, height := frameSize(frame)
	batch := &Batch{
		Seq:         s.seq.Add(1),
		Timestamp:   frame.Timestamp,
		Width:       width,
		Height:      height,
		Detections:  ExtractDetections(res.raw, width, height, s.labels, s.threshold),
		InferenceMs: res.raw.InferenceMs,
		Frame:       frame.Data,
	}
	s.latest.Store(batch)

	s.statsMu.Lock()
	s.stats.Batches++
	s.stats.LastBatchTime = time.Now().Unix()
	if s.stats.AvgInferenceMs == 0 {
		s.stats.AvgInferenceMs = batch.InferenceMs
	} else {
		s.stats.AvgInferenceMs = (s.stats.AvgInferenceMs + batch.InferenceMs) / 2
	}
	s.statsMu.Unlock()

	logger.Debug(sourceModule, "Batch %d: %d detections (%.1fms)", batch.Seq, len(batch.Detections), batch.InferenceMs)
	return batch, nil
}

// Snapshot returns a copy of the most recent batch, or nil before the first one.
// Intended for overlay rendering and status reporting.
func (s *DetectionSource) Snapshot() *Batch {
	b := s.latest.Load()
	if b == nil {
		return nil
	}
	cp := *b
	cp.Detections = append([]Detection(nil), b.Detections...)
	return &cp
}

// GetStats returns a copy of the detection statistics
func (s *DetectionSource) GetStats() SourceStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *DetectionSource) countError(inference bool) {
	s.statsMu.Lock()
	if inference {
		s.stats.InferenceErrs++
	} else {
		s.stats.CaptureErrors++
	}
	s.statsMu.Unlock()
}

// frameSize returns the frame dimensions, decoding the JPEG header when the
// provider did not know them
func frameSize(frame *FrameData) (int, int) {
	if frame.Width > 0 && frame.Height > 0 {
		return frame.Width, frame.Height
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame.Data))
	if err != nil {
		return frame.Width, frame.Height
	}
	return cfg.Width, cfg.Height
}

var _ BatchSource = (*DetectionSource)(nil)
