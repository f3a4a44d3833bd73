package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardRejectsWhileBusy(t *testing.T) {
	g := NewGuard(nil)
	release := make(chan struct{})

	require.True(t, g.TryRun(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.True(t, g.Busy())

	start := time.Now()
	assert.False(t, g.TryRun(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "rejection is immediate")

	close(release)
	g.Wait()
	assert.False(t, g.Busy())

	stats := g.Stats()
	assert.Equal(t, uint64(1), stats.Admitted)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestGuardAtMostOneConcurrent(t *testing.T) {
	g := NewGuard(nil)

	var active, maxActive atomic.Int32
	task := func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				g.TryRun(context.Background(), task)
			}
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return !g.Busy() }, time.Second, time.Millisecond)

	assert.Equal(t, int32(1), maxActive.Load())
	stats := g.Stats()
	assert.Equal(t, uint64(32*200), stats.Admitted+stats.Rejected)
}

func TestGuardReleasesOnErrorAndPanic(t *testing.T) {
	results := make(chan error, 2)
	g := NewGuard(func(err error) { results <- err })

	boom := errors.New("send failed")
	require.True(t, g.TryRun(context.Background(), func(ctx context.Context) error { return boom }))
	assert.ErrorIs(t, <-results, boom)
	assert.False(t, g.Busy(), "released before the completion callback")

	require.True(t, g.TryRun(context.Background(), func(ctx context.Context) error { panic("nil peer") }))
	err := <-results
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil peer")

	g.Wait()
	assert.True(t, g.TryRun(context.Background(), func(ctx context.Context) error { return nil }))
	g.Wait()
}

func TestGuardTaskSurvivesCallerCancel(t *testing.T) {
	g := NewGuard(nil)
	ctx, cancel := context.WithCancel(context.Background())

	var taskCtxErr atomic.Value
	started := make(chan struct{})
	require.True(t, g.TryRun(ctx, func(taskCtx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		taskCtxErr.Store(fmt.Sprint(taskCtx.Err()))
		return nil
	}))

	<-started
	cancel()
	g.Wait()
	assert.Equal(t, "<nil>", taskCtxErr.Load())
}
