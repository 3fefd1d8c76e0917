package ml

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool runs data-parallel work over index ranges with a bounded number of
// goroutines. Callers must only write to disjoint regions from each range.
type Pool struct {
	workers int
}

// NewPool returns a pool of the given width. Widths below one use GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workers
}

// Split calls fn over contiguous sub-ranges of [0, n) and waits for all of
// them. Ranges hold at least grain elements, except possibly the last one.
// A nil pool runs fn inline.
func (p *Pool) Split(n, grain int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	grain = max(grain, 1)
	workers := p.Workers()
	if workers == 1 || n <= grain {
		fn(0, n)
		return
	}

	chunk := max(grain, (n+workers-1)/workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}

	// fn cannot fail
	_ = g.Wait()
}
