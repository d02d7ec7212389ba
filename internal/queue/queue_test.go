package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateWindowCompliance(t *testing.T) {
	const window = 300 * time.Millisecond
	q := New(WithPolicy(TaskDownload, RatePolicy{MaxRequests: 3, TimeWindow: window}))

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return i, nil
			}, "t", TaskDownload, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 10)
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	for i := 0; i+3 < len(starts); i++ {
		gap := starts[i+3].Sub(starts[i])
		assert.GreaterOrEqual(t, gap, window-30*time.Millisecond, "starts %d..%d", i, i+3)
	}
}

func TestMinIntervalSpacing(t *testing.T) {
	const interval = 50 * time.Millisecond
	q := New(WithPolicy(TaskList, RatePolicy{MaxRequests: 10, TimeWindow: time.Second, MinInterval: interval}))

	var starts []time.Time
	for range 3 {
		_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			starts = append(starts, time.Now())
			return nil, nil
		}, "t", TaskList, 0)
		require.NoError(t, err)
	}
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), interval-10*time.Millisecond)
	}
}

func TestThrottleRetries(t *testing.T) {
	q := New(
		WithRetry(5, 5*time.Millisecond),
		WithPolicy(TaskOther, RatePolicy{MaxRequests: 10, TimeWindow: time.Second}),
	)

	attempts := 0
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		attempts++
		return nil, errors.New("googleapi: Error 403: rate limit exceeded")
	}, "throttled", TaskOther, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 6, attempts)

	attempts = 0
	_, err = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		attempts++
		return nil, errors.New("connection reset")
	}, "broken", TaskOther, 0)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrySucceedsEventually(t *testing.T) {
	q := New(WithRetry(5, time.Millisecond))

	attempts := 0
	v, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("status 403")
		}
		return "ok", nil
	}, "flaky", TaskGetByPath, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
}

func TestPriorityOrdering(t *testing.T) {
	q := New(WithPolicy(TaskOther, RatePolicy{MaxRequests: 1, TimeWindow: 10 * time.Millisecond}))

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	record := func(name string) Task {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}, "blocker", TaskOther, 0)
	}()
	require.Eventually(t, func() bool { return q.Stats()[TaskOther].Running == 1 }, time.Second, time.Millisecond)

	for i, p := range []struct {
		name     string
		priority int
	}{{"low", 0}, {"high", 5}, {"low2", 0}} {
		want := i + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), record(p.name), p.name, TaskOther, p.priority)
		}()
		require.Eventually(t, func() bool { return q.Stats()[TaskOther].QueueLength == want }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []string{"high", "low", "low2"}, order)
}

func TestShutdown(t *testing.T) {
	q := New()

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		}, "slow", TaskOther, 0)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Stats()[TaskOther].Running == 1 }, time.Second, time.Millisecond)

	q.Shutdown()
	assert.NoError(t, <-done)
	assert.True(t, q.ShuttingDown())

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) { return nil, nil }, "late", TaskOther, 0)
	assert.ErrorIs(t, err, ErrShuttingDown)

	for _, s := range q.Stats() {
		assert.Zero(t, s.ActivePromises)
	}
}

func TestShutdownTimeout(t *testing.T) {
	q := New(WithShutdownTimeout(20 * time.Millisecond))
	block := make(chan struct{})
	defer close(block)

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			<-block
			return nil, nil
		}, "stuck", TaskList, 0)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Stats()[TaskList].Running == 1 }, time.Second, time.Millisecond)

	q.Shutdown()
	assert.ErrorIs(t, <-done, ErrClosed)
}

func TestShutdownDropsTaskWaitingForSlot(t *testing.T) {
	const window = 300 * time.Millisecond
	q := New(
		WithShutdownTimeout(20*time.Millisecond),
		WithPolicy(TaskGetDownloadURL, RatePolicy{MaxRequests: 1, TimeWindow: window}),
	)

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) { return nil, nil }, "first", TaskGetDownloadURL, 0)
	require.NoError(t, err)

	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			ran.Store(true)
			return nil, nil
		}, "second", TaskGetDownloadURL, 0)
		done <- err
	}()
	require.Eventually(t, func() bool { return q.Stats()[TaskGetDownloadURL].Running == 1 }, time.Second, time.Millisecond)

	q.Shutdown()
	assert.ErrorIs(t, <-done, ErrClosed)

	time.Sleep(window + 100*time.Millisecond)
	assert.False(t, ran.Load())
}

func TestEnqueueContextCancel(t *testing.T) {
	q := New(WithPolicy(TaskOther, RatePolicy{MaxRequests: 1, TimeWindow: time.Second}))
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return nil, ctx.Err()
		}, "c", TaskOther, 0)
		errCh <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestDoHelper(t *testing.T) {
	q := New()
	n, err := Do(context.Background(), q, TaskList, "n", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = Do(context.Background(), nil, TaskList, "n", func(ctx context.Context) (int, error) { return 8, nil })
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	err = Run(context.Background(), q, TaskOther, "r", func(ctx context.Context) error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
}

type statusErr int

func (e statusErr) Error() string { return "request failed" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsThrottle(t *testing.T) {
	assert.True(t, IsThrottle(errors.New("403 Forbidden")))
	assert.True(t, IsThrottle(statusErr(403)))
	assert.False(t, IsThrottle(statusErr(500)))
	assert.False(t, IsThrottle(nil))
	assert.False(t, IsThrottle(errors.New("404 not found")))

	assert.True(t, IsThrottle(errors.New("googleapi: Error 403: rate limit exceeded")))
	assert.True(t, IsThrottle(fmt.Errorf("failed to move a.md: %w", errors.New("MOVE /v/a.md: 403"))))
	assert.True(t, IsThrottle(errors.New("status 403")))
	assert.False(t, IsThrottle(fmt.Errorf("failed to upload notes/2024-0403.md: %w", errors.New("connection reset"))))
	assert.False(t, IsThrottle(errors.New("read notes/403.md: 500")))
	assert.False(t, IsThrottle(errors.New("googleapi: Error 4031: odd")))
}
