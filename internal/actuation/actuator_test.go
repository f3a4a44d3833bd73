package actuation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visiontrigger/internal/link"
	"visiontrigger/internal/pipeline"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(ctx context.Context, cmd []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, string(cmd))
	return nil
}

func TestActuateSendsCommand(t *testing.T) {
	sender := &recordingSender{}
	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(4, pipeline.EventActuation)
	defer unsubscribe()

	a := New(sender, Config{}, bus)
	require.NoError(t, a.Actuate(context.Background()))

	assert.Equal(t, []string{DefaultCommand}, sender.sent)
	assert.Equal(t, Stats{Completed: 1}, a.Stats())

	event := <-events
	assert.NotEmpty(t, event.TaskID)
	assert.Empty(t, event.Error)
}

func TestActuateHolds(t *testing.T) {
	a := New(&recordingSender{}, Config{Command: "on\n", Hold: 60 * time.Millisecond, ProgressInterval: 10 * time.Millisecond}, nil)

	start := time.Now()
	require.NoError(t, a.Actuate(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestActuateWrapsSendError(t *testing.T) {
	sender := &recordingSender{err: &link.SendError{Err: link.ErrNotConnected}}
	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(4)
	defer unsubscribe()

	a := New(sender, Config{Hold: time.Hour}, bus)

	start := time.Now()
	err := a.Actuate(context.Background())
	assert.Less(t, time.Since(start), time.Second, "no hold after a failed send")

	var actErr *ActuationError
	require.ErrorAs(t, err, &actErr)
	assert.NotEmpty(t, actErr.TaskID)
	assert.ErrorIs(t, err, link.ErrNotConnected)

	var sendErr *link.SendError
	assert.True(t, errors.As(err, &sendErr))
	assert.Equal(t, Stats{Failed: 1}, a.Stats())

	event := <-events
	assert.Equal(t, actErr.TaskID, event.TaskID)
	assert.Contains(t, event.Error, "not connected")
}

func TestActuateHoldCancelled(t *testing.T) {
	a := New(&recordingSender{}, Config{Hold: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := a.Actuate(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
