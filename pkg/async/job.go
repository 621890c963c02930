package async

import (
	"context"
	"sync"
)

// JobHandle tracks a function running on its own goroutine. Any number of callers may
// wait for it.
type JobHandle[T any] struct {
	cancel func()
	done   chan struct{}
	result Result[T]

	mu        sync.Mutex
	callbacks []func(Result[T])
}

// Job starts job on a new goroutine. The context passed to job is canceled by Stop
// and once job returns.
func Job[T any](job func(ctx context.Context) (T, error)) *JobHandle[T] {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &JobHandle[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()

		res, err := job(ctx)
		handle.finish(NewResult(res, err))
	}()

	return handle
}

// Resolved returns a handle that is already finished with the given result.
func Resolved[T any](value T, err error) *JobHandle[T] {
	handle := &JobHandle[T]{cancel: func() {}, done: make(chan struct{})}
	handle.finish(NewResult(value, err))
	return handle
}

func (j *JobHandle[T]) finish(result Result[T]) {
	j.mu.Lock()
	j.result = result
	close(j.done)
	callbacks := j.callbacks
	j.callbacks = nil
	j.mu.Unlock()

	for _, cb := range callbacks {
		cb(result)
	}
}

func (j *JobHandle[T]) Stop() {
	j.cancel()
}

// Done is closed once the job has finished.
func (j *JobHandle[T]) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done.
func (j *JobHandle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		return j.result.Unpack()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Error returns the job error, or nil while it is still running.
func (j *JobHandle[T]) Error() error {
	select {
	case <-j.done:
		return j.result.Err
	default:
		return nil
	}
}

// OnDone registers a callback invoked with the job result. If the job has already
// finished the callback runs immediately on the calling goroutine.
func (j *JobHandle[T]) OnDone(callback func(Result[T])) {
	j.mu.Lock()
	select {
	case <-j.done:
		j.mu.Unlock()
		callback(j.result)
		return
	default:
	}
	j.callbacks = append(j.callbacks, callback)
	j.mu.Unlock()
}
