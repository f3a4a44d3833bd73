package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is the work admitted by a Guard
type Task func(ctx context.Context) error

// Guard runs at most one task at a time. A TryRun while a task is in flight
// is rejected immediately; rejected work is dropped, never queued.
type Guard struct {
	busy atomic.Bool
	wg   sync.WaitGroup

	onDone func(err error)

	admitted atomic.Uint64
	rejected atomic.Uint64
}

// NewGuard creates a guard. onDone, if set, is called once per finished task
// with the task's error (nil on success), after the guard has been released.
func NewGuard(onDone func(err error)) *Guard {
	return &Guard{onDone: onDone}
}

// TryRun launches task on its own goroutine if nothing is in flight and
// reports whether it did. The task's context keeps ctx's values but is not
// cancelled with it: an admitted task always runs to completion.
func (g *Guard) TryRun(ctx context.Context, task Task) bool {
	if !g.busy.CompareAndSwap(false, true) {
		g.rejected.Add(1)
		return false
	}

	g.admitted.Add(1)
	g.wg.Add(1)
	go g.run(context.WithoutCancel(ctx), task)
	return true
}

func (g *Guard) run(ctx context.Context, task Task) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		g.busy.Store(false)
		if g.onDone != nil {
			g.onDone(err)
		}
		g.wg.Done()
	}()

	err = task(ctx)
}

// Busy reports whether a task is in flight
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

// Wait blocks until no task is in flight and its completion callback returned
func (g *Guard) Wait() {
	g.wg.Wait()
}

// GuardStats counts admissions and rejections
type GuardStats struct {
	Admitted uint64
	Rejected uint64
	Busy     bool
}

// Stats returns the guard counters
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Admitted: g.admitted.Load(),
		Rejected: g.rejected.Load(),
		Busy:     g.busy.Load(),
	}
}
