package pipeline

import (
	"context"
	"sync"
)

// ForEachMarker dispatches fn over the marker IDs with at most workers
// running concurrently. Marker tasks read and write disjoint per-marker
// files, so no locking beyond the shared resource log is needed. Dispatch
// stops early when the context is canceled; workers already running
// finish their current marker.
func ForEachMarker(ctx context.Context, workers int, markerIDs []string, fn func(ctx context.Context, marker string)) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(markerIDs) {
		workers = len(markerIDs)
	}
	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				fn(ctx, m)
			}
		}()
	}
	for _, m := range markerIDs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- m:
		}
	}
	close(jobs)
	wg.Wait()
}
