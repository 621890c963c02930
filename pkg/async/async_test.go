package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/livefeed/pkg/async"
	"github.com/stretchr/testify/require"
)

func TestJob(t *testing.T) {
	t.Parallel()

	t.Run("many waiters see the same result", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		handle := async.Job(func(ctx context.Context) (int, error) {
			<-release
			return 42, nil
		})
		require.NoError(t, handle.Error())

		results := make(chan async.Result[int], 3)
		for range 3 {
			go func() {
				results <- async.NewResult(handle.Wait(context.Background()))
			}()
		}
		close(release)
		for range 3 {
			v, err := (<-results).Unpack()
			require.NoError(t, err)
			require.Equal(t, 42, v)
		}
	})

	t.Run("stop cancels the job context", func(t *testing.T) {
		t.Parallel()

		handle := async.Job(func(ctx context.Context) (struct{}, error) {
			<-ctx.Done()
			return struct{}{}, ctx.Err()
		})
		handle.Stop()

		_, err := handle.Wait(context.Background())
		require.ErrorIs(t, err, context.Canceled)
		require.ErrorIs(t, handle.Error(), context.Canceled)
	})

	t.Run("OnDone after completion runs immediately", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		handle := async.Resolved(0, boom)

		var got error
		handle.OnDone(func(r async.Result[int]) { got = r.Err })
		require.ErrorIs(t, got, boom)
	})

	t.Run("wait honors its context", func(t *testing.T) {
		t.Parallel()

		handle := async.Job(func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, nil
		})
		defer handle.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := handle.Wait(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSequencer(t *testing.T) {
	t.Parallel()

	t.Run("same key runs in order", func(t *testing.T) {
		t.Parallel()

		seq := async.NewSequencer()
		var (
			mu    sync.Mutex
			order []int
		)
		handles := make([]*async.JobHandle[int], 0, 10)
		for i := range 10 {
			handles = append(handles, async.Go(seq, []string{"post:p1"}, func(ctx context.Context) (int, error) {
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			}))
		}
		for _, h := range handles {
			_, err := h.Wait(context.Background())
			require.NoError(t, err)
		}

		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
		require.Zero(t, seq.Pending())
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		t.Parallel()

		seq := async.NewSequencer()
		block := make(chan struct{})
		first := async.Go(seq, []string{"a"}, func(ctx context.Context) (int, error) {
			<-block
			return 1, nil
		})
		second := async.Go(seq, []string{"b"}, func(ctx context.Context) (int, error) {
			return 2, nil
		})

		v, err := second.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, v)

		close(block)
		_, err = first.Wait(context.Background())
		require.NoError(t, err)
	})
}

func TestAsyncMap(t *testing.T) {
	t.Parallel()

	t.Run("preserves order and bounds concurrency", func(t *testing.T) {
		t.Parallel()

		var inFlight, peak atomic.Int32
		out, err := async.AsyncMap(context.Background(), []int{1, 2, 3, 4, 5, 6}, 2, func(ctx context.Context, n int) (int, error) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return n * n, nil
		})

		require.NoError(t, err)
		require.Equal(t, []int{1, 4, 9, 16, 25, 36}, out)
		require.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("returns the first error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		_, err := async.AsyncMap(context.Background(), []int{1, 2, 3}, 1, func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, boom
			}
			return n, nil
		})
		require.ErrorIs(t, err, boom)
	})

	t.Run("a canceled context stops before any call", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var calls atomic.Int32
		_, err := async.AsyncMap(ctx, []int{1, 2, 3}, 2, func(ctx context.Context, n int) (int, error) {
			calls.Add(1)
			return n, nil
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, calls.Load())
	})
}
