package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"visiontrigger/internal/detection"
	"visiontrigger/internal/logger"
)

// scene answers detect requests with one object that comes and goes
type scene struct {
	class   int
	classes int
	score   float32
	period  time.Duration
	latency time.Duration
	start   time.Time

	requests atomic.Uint64
}

func (s *scene) visible(now time.Time) bool {
	if s.period <= 0 {
		return true
	}
	return now.Sub(s.start)%s.period < s.period/2
}

// rows builds the per-class output: one centred box for the scripted class
func (s *scene) rows(now time.Time) [][][]float32 {
	out := make([][][]float32, s.classes)
	if s.class >= 0 && s.class < s.classes && s.visible(now) {
		out[s.class] = [][]float32{{0.25, 0.25, 0.75, 0.75, s.score}}
	}
	return out
}

// Detect implements detection.DetectFunc
func (s *scene) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n := s.requests.Add(1)
	start := time.Now()

	if jpeg := req.GetFields()["jpeg"].GetStringValue(); jpeg == "" {
		return nil, fmt.Errorf("request %d has no jpeg", n)
	}

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ms := float32(time.Since(start).Microseconds()) / 1000
	logger.Debug("Mock", "Request %d served in %.1fms", n, ms)
	return detection.EncodeRawOutput(s.rows(start), ms)
}
