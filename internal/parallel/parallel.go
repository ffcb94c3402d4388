// Package parallel splits host kernel loops across goroutines.
//
// Work is divided into contiguous index ranges. Each index is still computed
// by exactly one goroutine in its usual order, so results are identical to a
// sequential run.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a loop is split.
type Config struct {
	Workers  int // Upper bound on goroutines. 1 or less runs inline.
	MinChunk int // Smallest range handed to a goroutine.
}

// Default uses one worker per CPU and a chunk large enough to amortise the
// goroutine start.
var Default = Config{
	Workers:  runtime.NumCPU(),
	MinChunk: 4096,
}

// For calls f(start, end) over disjoint ranges covering [0, n) and returns
// once every call has finished. Small loops run inline.
func For(n int, cfg Config, f func(start, end int)) {
	if n <= 0 {
		return
	}
	if cfg.Workers <= 1 || n < 2*cfg.MinChunk {
		f(0, n)
		return
	}

	chunk := max((n+cfg.Workers-1)/cfg.Workers, cfg.MinChunk)
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// Rows runs f over the rows of an m-row output whose rows cost cols
// operations each, chunking by total work rather than by row count.
func Rows(m, cols int, cfg Config, f func(rowStart, rowEnd int)) {
	if cols <= 0 {
		cols = 1
	}
	rowCfg := cfg
	rowCfg.MinChunk = max(cfg.MinChunk/cols, 1)
	For(m, rowCfg, f)
}
