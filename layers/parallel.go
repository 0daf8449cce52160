package layers

import (
	"runtime"
	"sync"
)

// parallelFor splits [0, n) into contiguous chunks, one per available
// processor, and runs fn on each. Chunks receive their index so callers can
// keep per-chunk accumulators.
func parallelFor(n int, fn func(chunk, lo, hi int)) int {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, 0, n)
		return 1
	}

	size := (n + workers - 1) / workers
	var wg sync.WaitGroup
	chunks := 0
	for lo := 0; lo < n; lo += size {
		chunk, lo, hi := chunks, lo, min(lo+size, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(chunk, lo, hi)
		}()
		chunks++
	}
	wg.Wait()
	return chunks
}

// numChunks reports how many chunks parallelFor will use for n items.
func numChunks(n int) int {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		return 1
	}
	size := (n + workers - 1) / workers
	return (n + size - 1) / size
}
