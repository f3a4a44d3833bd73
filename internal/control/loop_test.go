package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visiontrigger/internal/actuation"
	"visiontrigger/internal/link"
	"visiontrigger/internal/pipeline"
	"visiontrigger/internal/trigger"
)

type step struct {
	batch *pipeline.Batch
	err   error
}

type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedSource) NextDetections(ctx context.Context) (*pipeline.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return &pipeline.Batch{Seq: uint64(s.calls)}, nil
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next.batch, next.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func cups(seq uint64, conf ...float32) step {
	b := &pipeline.Batch{Seq: seq}
	for _, c := range conf {
		b.Detections = append(b.Detections, pipeline.Detection{Label: "cup", Confidence: c})
	}
	return step{batch: b}
}

func newPolicy(cooldown time.Duration) *trigger.Policy {
	return trigger.NewPolicy(trigger.PolicyConfig{TargetLabel: "cup", Threshold: 0.5, Cooldown: cooldown})
}

type countingTask struct {
	runs atomic.Int32
	err  error
}

func (c *countingTask) Run(ctx context.Context) error {
	c.runs.Add(1)
	return c.err
}

func TestLoopDebouncesByCooldown(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	clock := &fakeClock{now: t0}
	source := &scriptedSource{steps: []step{cups(1, 0.9), cups(2, 0.9), cups(3, 0.9)}}
	task := &countingTask{}
	l := New(source, newPolicy(5*time.Second), task.Run, nil, Config{Now: clock.Now})

	l.Cycle(context.Background())
	l.guardWait()
	clock.Set(t0.Add(2 * time.Second))
	l.Cycle(context.Background())
	l.guardWait()
	clock.Set(t0.Add(6 * time.Second))
	l.Cycle(context.Background())
	l.guardWait()

	assert.Equal(t, int32(2), task.runs.Load())
	assert.Equal(t, uint64(2), l.Stats().Fires)
}

func TestLoopOneFirePerBatch(t *testing.T) {
	source := &scriptedSource{steps: []step{cups(1, 0.9, 0.8, 0.95)}}
	task := &countingTask{}
	l := New(source, newPolicy(time.Second), task.Run, nil, Config{})

	l.Cycle(context.Background())
	l.guardWait()

	assert.Equal(t, int32(1), task.runs.Load())
}

func TestLoopSurvivesCaptureErrors(t *testing.T) {
	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(16, pipeline.EventCaptureError)
	defer unsubscribe()

	captureErr := &pipeline.CaptureError{Stage: "capture", Err: errors.New("camera unplugged")}
	source := &scriptedSource{steps: []step{{err: captureErr}, {err: captureErr}, cups(3, 0.9)}}
	task := &countingTask{}
	l := New(source, newPolicy(time.Second), task.Run, bus, Config{})

	for i := 0; i < 3; i++ {
		l.Cycle(context.Background())
	}
	l.guardWait()

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.CaptureErrors)
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, int32(1), task.runs.Load(), "loop kept going after capture errors")
	assert.Len(t, events, 2)
}

func TestLoopDropsFireWhileBusy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	source := &scriptedSource{steps: []step{cups(1, 0.9), cups(2, 0.9)}}

	release := make(chan struct{})
	var runs atomic.Int32
	task := func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}
	bus := pipeline.NewEventBus()
	dropped, unsubscribe := bus.SubscribeChannel(4, pipeline.EventFireDropped)
	defer unsubscribe()

	l := New(source, newPolicy(time.Second), task, bus, Config{Now: clock.Now})

	l.Cycle(context.Background())
	require.True(t, l.Busy())
	clock.Set(time.Unix(10, 0))

	start := time.Now()
	l.Cycle(context.Background())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "busy guard never blocks the loop")

	close(release)
	l.guardWait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, uint64(1), l.Stats().DroppedFires)
	assert.Equal(t, uint64(2), (<-dropped).Seq)
}

func TestLoopActuationErrorsDoNotStopLoop(t *testing.T) {
	sender := senderFunc(func(ctx context.Context, cmd []byte) error {
		return &link.SendError{Err: link.ErrNotConnected}
	})
	act := actuation.New(sender, actuation.Config{}, nil)

	clock := &fakeClock{now: time.Unix(0, 0)}
	source := &scriptedSource{steps: []step{cups(1, 0.9), cups(2, 0.9)}}
	l := New(source, newPolicy(time.Second), act.Actuate, nil, Config{Now: clock.Now})

	l.Cycle(context.Background())
	l.guardWait()
	clock.Set(time.Unix(5, 0))
	l.Cycle(context.Background())
	l.guardWait()

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.Fires)
	assert.Equal(t, uint64(2), stats.ActuationErrors)
	assert.Equal(t, actuation.Stats{Failed: 2}, act.Stats())
}

func TestLoopReportsPanickingTask(t *testing.T) {
	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(4, pipeline.EventActuation)
	defer unsubscribe()

	source := &scriptedSource{steps: []step{cups(1, 0.9)}}
	l := New(source, newPolicy(time.Second), func(ctx context.Context) error { panic("boom") }, bus, Config{})

	l.Cycle(context.Background())
	l.guardWait()

	assert.False(t, l.Busy())
	assert.Equal(t, uint64(1), l.Stats().ActuationErrors)
	assert.Contains(t, (<-events).Error, "boom")
}

func TestRunWaitsForInFlightActuation(t *testing.T) {
	source := &scriptedSource{steps: []step{cups(1, 0.9)}}

	var finished atomic.Bool
	started := make(chan struct{})
	task := func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}
	l := New(source, newPolicy(time.Hour), task, nil, Config{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-started
	cancel()
	require.NoError(t, <-done)
	assert.True(t, finished.Load(), "actuation completed with a live context before Run returned")
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &scriptedSource{}
	l := New(source, newPolicy(time.Second), func(context.Context) error { return nil }, nil, Config{Interval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Run(ctx))
	assert.Positive(t, l.Stats().Cycles)
}

type senderFunc func(ctx context.Context, cmd []byte) error

func (f senderFunc) Send(ctx context.Context, cmd []byte) error { return f(ctx, cmd) }

func (l *Loop) guardWait() { l.guard.Wait() }
