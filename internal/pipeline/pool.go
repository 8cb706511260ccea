// Package pipeline implements the two daily jobs: the rankings scrape and
// the top-plays harvest. Each run fans API calls out over a bounded worker
// pool and commits results to the stores in a fixed per-mode order.
package pipeline

import (
	"context"
	"sync"
)

// fanOut runs fn(ctx, worker, index) for every index in 0..n-1 across at most
// workers goroutines. Each goroutine keeps a stable worker id so callers can
// pin per-worker state (one upstream client per worker). The first error
// cancels the shared context and is returned; remaining indices are skipped.
func fanOut(ctx context.Context, workers, n int, fn func(ctx context.Context, worker, index int) error) error {
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if n == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup

	var errOnce sync.Once
	var firstErr error
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for index := range jobs {
				if ctx.Err() != nil {
					return
				}
				if err := fn(ctx, worker, index); err != nil {
					fail(err)
					return
				}
			}
		}(w)
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	return firstErr
}

// chunkIDs splits ids into slices of at most size elements, preserving order.
func chunkIDs(ids []int64, size int) [][]int64 {
	if size < 1 {
		panic("pipeline: non-positive chunk size")
	}
	var chunks [][]int64
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
