// Package control runs the detection-to-actuation loop.
package control

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"visiontrigger/internal/actuation"
	"visiontrigger/internal/logger"
	"visiontrigger/internal/pipeline"
	"visiontrigger/internal/trigger"
)

// Config paces the loop
type Config struct {
	Interval time.Duration
	// Now is the clock handed to the trigger policy; defaults to time.Now
	Now func() time.Time
}

// Stats counts loop activity
type Stats struct {
	Cycles          uint64 `json:"cycles"`
	CaptureErrors   uint64 `json:"capture_errors"`
	Fires           uint64 `json:"fires"`
	DroppedFires    uint64 `json:"dropped_fires"`
	ActuationErrors uint64 `json:"actuation_errors"`
	Busy            bool   `json:"busy"`
}

// Loop polls the detection source, asks the policy whether to fire and
// hands fires to a single-flight guard.
type Loop struct {
	source pipeline.BatchSource
	policy *trigger.Policy
	task   trigger.Task
	guard  *trigger.Guard
	bus    *pipeline.EventBus

	interval time.Duration
	now      func() time.Time

	cycles          atomic.Uint64
	captureErrors   atomic.Uint64
	fires           atomic.Uint64
	droppedFires    atomic.Uint64
	actuationErrors atomic.Uint64
}

// New creates a loop. bus may be nil.
func New(source pipeline.BatchSource, policy *trigger.Policy, task trigger.Task, bus *pipeline.EventBus, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Loop{
		source:   source,
		policy:   policy,
		task:     task,
		bus:      bus,
		interval: cfg.Interval,
		now:      cfg.Now,
	}
	l.guard = trigger.NewGuard(l.onTaskDone)
	return l
}

// Run loops until ctx is cancelled, then waits for an in-flight actuation
func (l *Loop) Run(ctx context.Context) error {
	logger.Info("Loop", "Started: target=%q threshold=%.2f cooldown=%v interval=%v",
		l.policy.TargetLabel(), l.policy.Threshold(), l.policy.Cooldown(), l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		l.Cycle(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	if l.guard.Busy() {
		logger.Info("Loop", "Waiting for in-flight actuation")
	}
	l.guard.Wait()
	logger.Info("Loop", "Stopped after %d cycles", l.cycles.Load())
	return nil
}

// Cycle runs one detect/decide/dispatch step
func (l *Loop) Cycle(ctx context.Context) {
	batch, err := l.source.NextDetections(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.captureErrors.Add(1)

		var captureErr *pipeline.CaptureError
		if errors.As(err, &captureErr) {
			logger.Warn("Loop", "Capture failed: %v", captureErr)
		} else {
			logger.Error("Loop", "Detection source: %v", err)
		}
		l.publish(pipeline.NewEvent(pipeline.EventCaptureError).WithError(err))
		return
	}
	l.cycles.Add(1)

	target := batch.Filter(l.policy.TargetLabel(), l.policy.Threshold())
	if len(target) == 0 {
		return
	}
	logger.Debug("Loop", "Frame %d: %d x %q", batch.Seq, len(target), l.policy.TargetLabel())

	event := pipeline.NewEvent(pipeline.EventDetections)
	event.Seq = batch.Seq
	event.Detections = target
	l.publish(event)

	if !l.policy.ShouldFire(batch, l.now()) {
		return
	}

	if l.guard.TryRun(ctx, l.task) {
		l.fires.Add(1)
		logger.Info("Loop", "Fire on frame %d (%s %.2f)", batch.Seq, target[0].Label, target[0].Confidence)
		fire := pipeline.NewEvent(pipeline.EventFire)
		fire.Seq = batch.Seq
		l.publish(fire)
		return
	}

	l.droppedFires.Add(1)
	logger.Info("Loop", "Actuation in progress, dropping fire on frame %d", batch.Seq)
	dropped := pipeline.NewEvent(pipeline.EventFireDropped)
	dropped.Seq = batch.Seq
	l.publish(dropped)
}

func (l *Loop) onTaskDone(err error) {
	if err == nil {
		return
	}
	l.actuationErrors.Add(1)

	var actErr *actuation.ActuationError
	if errors.As(err, &actErr) {
		return
	}

	// Tasks that did not produce an ActuationError (panics) are reported here.
	actErr = &actuation.ActuationError{Err: err}
	logger.Error("Loop", "%v", actErr)
	l.publish(pipeline.NewEvent(pipeline.EventActuation).WithError(actErr))
}

func (l *Loop) publish(event *pipeline.Event) {
	if l.bus != nil {
		l.bus.Publish(event)
	}
}

// Busy reports whether an actuation is in flight
func (l *Loop) Busy() bool {
	return l.guard.Busy()
}

// Stats returns loop counters
func (l *Loop) Stats() Stats {
	return Stats{
		Cycles:          l.cycles.Load(),
		CaptureErrors:   l.captureErrors.Load(),
		Fires:           l.fires.Load(),
		DroppedFires:    l.droppedFires.Load(),
		ActuationErrors: l.actuationErrors.Load(),
		Busy:            l.guard.Busy(),
	}
}
