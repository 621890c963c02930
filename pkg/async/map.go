package async

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type MapAsyncIteratee[T any, R any] func(context.Context, T) (R, error)

// AsyncMap runs iteratee for every item with at most concurrency calls in flight. The
// result preserves input order; the first error cancels the remaining calls.
func AsyncMap[T any, R any](ctx context.Context, collection []T, concurrency int, iteratee MapAsyncIteratee[T, R]) ([]R, error) { //nolint:revive
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, concurrency))

	result := make([]R, len(collection))
	for i, item := range collection {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := iteratee(ctx, item)
			if err != nil {
				return err
			}
			result[i] = r
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
