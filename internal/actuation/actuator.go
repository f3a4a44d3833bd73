// Package actuation turns a trigger fire into a command sent to the peer.
package actuation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"visiontrigger/internal/logger"
	"visiontrigger/internal/pipeline"
)

// DefaultCommand toggles the peripheral
const DefaultCommand = "toggle\r\n"

// Sender delivers a command to the peer
type Sender interface {
	Send(ctx context.Context, cmd []byte) error
}

// ActuationError is a failed actuation task
type ActuationError struct {
	TaskID string
	Err    error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("actuation %s: %v", e.TaskID, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }

// Config describes one actuation
type Config struct {
	Command string
	// Hold keeps the task running after the send so the guard stays busy
	Hold time.Duration
	// ProgressInterval is how often a holding task logs; defaults to 1s
	ProgressInterval time.Duration
}

// Actuator sends the configured command and then holds
type Actuator struct {
	sender   Sender
	command  []byte
	hold     time.Duration
	progress time.Duration
	bus      *pipeline.EventBus

	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates an actuator. bus may be nil.
func New(sender Sender, cfg Config, bus *pipeline.EventBus) *Actuator {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	return &Actuator{
		sender:   sender,
		command:  []byte(cfg.Command),
		hold:     cfg.Hold,
		progress: cfg.ProgressInterval,
		bus:      bus,
	}
}

// Actuate runs one task. Errors are always *ActuationError.
func (a *Actuator) Actuate(ctx context.Context) error {
	taskID := uuid.NewString()
	start := time.Now()
	logger.Info("Actuator", "Task %s: sending %q", taskID, a.command)

	err := a.run(ctx)
	if err != nil {
		err = &ActuationError{TaskID: taskID, Err: err}
		a.failed.Add(1)
		logger.Error("Actuator", "%v", err)
	} else {
		a.completed.Add(1)
		logger.Info("Actuator", "Task %s: done in %v", taskID, time.Since(start).Round(time.Millisecond))
	}

	if a.bus != nil {
		event := pipeline.NewEvent(pipeline.EventActuation).WithError(err)
		event.TaskID = taskID
		event.Message = string(a.command)
		a.bus.Publish(event)
	}
	return err
}

func (a *Actuator) run(ctx context.Context) error {
	if err := a.sender.Send(ctx, a.command); err != nil {
		return err
	}
	if a.hold <= 0 {
		return nil
	}

	deadline := time.NewTimer(a.hold)
	defer deadline.Stop()
	ticker := time.NewTicker(a.progress)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-deadline.C:
			return nil
		case <-ticker.C:
			logger.Debug("Actuator", "Holding %v/%v", time.Since(start).Round(a.progress), a.hold)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats is the count of finished tasks
type Stats struct {
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Stats returns task counters
func (a *Actuator) Stats() Stats {
	return Stats{Completed: a.completed.Load(), Failed: a.failed.Load()}
}
