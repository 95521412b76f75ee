package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

type recordingObserver struct {
	mu        sync.Mutex
	created   int
	discarded map[DiscardReason]int
	waits     atomic.Int64
}

func (o *recordingObserver) InstanceCreated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *recordingObserver) InstanceDiscarded(reason DiscardReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.discarded == nil {
		o.discarded = make(map[DiscardReason]int)
	}
	o.discarded[reason]++
}

func (o *recordingObserver) AcquireWaited(time.Duration, bool) { o.waits.Add(1) }

func newPool(t *testing.T, size int, obs Observer) *Pool {
	t.Helper()
	config := DefaultConfig()
	config.Size = size
	config.AcquireTimeout = 100 * time.Millisecond
	config.Timeout = time.Second
	pool := NewPool(config, nil, obs)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func mustCompile(t *testing.T, script string) Task {
	t.Helper()
	prog, err := Compile("pool.js", script, false)
	require.NoError(t, err)
	return Task{Program: prog}
}

func TestPoolExhaustion(t *testing.T) {
	pool := newPool(t, 1, nil)
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = pool.Acquire(ctx)
	assert.True(t, errors.Is(err, errs.ErrPoolExhausted), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, uint64(1), pool.Stats().Exhausted)

	require.NoError(t, pool.Release(held))
	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, held.ID(), again.ID(), "released instance is reused")
	require.NoError(t, pool.Release(again))
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	pool := newPool(t, 1, nil)
	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPoolIsolation(t *testing.T) {
	pool := newPool(t, 1, nil)
	ctx := context.Background()

	inst, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = inst.Run(ctx, mustCompile(t, "globalThis.tenant = 'a'; 'ok'"))
	require.NoError(t, err)
	first := inst.ID()
	require.NoError(t, pool.Release(inst))

	inst, err = pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, inst.ID())
	result, err := inst.Run(ctx, mustCompile(t, "typeof tenant"))
	require.NoError(t, err)
	assert.Equal(t, "undefined", result.Value)
	require.NoError(t, pool.Release(inst))
}

func TestPoolDiscardsTimedOutInstance(t *testing.T) {
	obs := &recordingObserver{}
	pool := newPool(t, 1, obs)
	ctx := context.Background()

	task := mustCompile(t, "for (;;) {}")
	task.Timeout = 50 * time.Millisecond

	inst, err := pool.Acquire(ctx)
	require.NoError(t, err)
	timedOut := inst.ID()
	_, err = inst.Run(ctx, task)
	assert.True(t, errors.Is(err, errs.ErrExecutionTimeout))
	require.NoError(t, pool.Release(inst))

	next, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, timedOut, next.ID(), "timed out instance is never reused")
	require.NoError(t, pool.Release(next))

	assert.Equal(t, 1, obs.discarded[DiscardTimeout])
	assert.Equal(t, 2, obs.created)
}

func TestPoolDiscardsFailedReset(t *testing.T) {
	obs := &recordingObserver{}
	pool := newPool(t, 1, obs)
	ctx := context.Background()

	inst, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = inst.Run(ctx, mustCompile(t, "Array.prototype.polluted = true"))
	require.NoError(t, err)

	err = pool.Release(inst)
	assert.True(t, errors.Is(err, errs.ErrInternalFault))
	assert.Equal(t, 1, obs.discarded[DiscardResetFailed])

	next, err := pool.Acquire(ctx)
	require.NoError(t, err)
	result, err := next.Run(ctx, mustCompile(t, "[].polluted === undefined"))
	require.NoError(t, err)
	assert.Equal(t, true, result.Value)
	require.NoError(t, pool.Release(next))
}

func TestPoolRecyclesAfterMaxUses(t *testing.T) {
	config := DefaultConfig()
	config.Size = 1
	config.MaxUses = 2
	obs := &recordingObserver{}
	pool := NewPool(config, nil, obs)
	defer pool.Close()

	task := mustCompile(t, "1")
	for n := 0; n < 4; n++ {
		_, err := pool.Execute(context.Background(), task)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, obs.discarded[DiscardRecycled])
	assert.Equal(t, 2, obs.created)
}

func TestPoolConcurrentExecutions(t *testing.T) {
	obs := &recordingObserver{}
	config := DefaultConfig()
	config.Size = 3
	pool := NewPool(config, nil, obs)
	defer pool.Close()

	task := mustCompile(t, "let s = 0; for (let i = 0; i < 1000; i++) { s += i } s")

	var wg sync.WaitGroup
	for n := 0; n < 30; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := pool.Execute(context.Background(), task)
			if assert.NoError(t, err) {
				assert.Equal(t, int64(499500), result.Value)
			}
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	assert.LessOrEqual(t, obs.created, 3)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, obs.created, stats.Idle)
}

func TestPoolClose(t *testing.T) {
	pool := newPool(t, 2, nil)
	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)
	idle, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.Release(idle))

	require.NoError(t, pool.Close())
	assert.Equal(t, DiscardClosed, idle.Tainted())

	_, err = pool.Acquire(ctx)
	assert.True(t, errors.Is(err, errs.ErrClosed))

	require.NoError(t, pool.Release(held))
	assert.Equal(t, DiscardClosed, held.Tainted())
	assert.True(t, pool.Stats().Closed)
}
