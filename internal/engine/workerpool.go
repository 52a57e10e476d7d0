package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// parallelEach runs fn over items with up to concurrency workers consuming
// a shared cursor: each worker claims the next index via
// a non-preemptive atomic increment and processes one item at a time. It
// stops claiming new work once ctx is cancelled, but lets in-flight calls
// finish naturally (they check ctx themselves). Results are returned
// index-aligned; a nil entry means success.
func parallelEach[T any](ctx context.Context, items []T, concurrency int, fn func(ctx context.Context, item T, index int) error) []error {
	if len(items) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	errs := make([]error, len(items))
	var cursor int64 = -1
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for {
			if ctx.Err() != nil {
				return
			}
			idx := int(atomic.AddInt64(&cursor, 1))
			if idx >= len(items) {
				return
			}
			errs[idx] = fn(ctx, items[idx], idx)
		}
	}

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker()
	}
	wg.Wait()
	return errs
}
