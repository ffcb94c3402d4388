package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversEveryIndexOnce(t *testing.T) {
	tests := []struct {
		name string
		n    int
		cfg  Config
	}{
		{"inline", 100, Config{Workers: 1, MinChunk: 1}},
		{"small", 100, Default},
		{"split", 10000, Config{Workers: 4, MinChunk: 16}},
		{"uneven", 1001, Config{Workers: 3, MinChunk: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, tt.n)
			var calls atomic.Int32
			For(tt.n, tt.cfg, func(start, end int) {
				calls.Add(1)
				for i := start; i < end; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})
			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
			if tt.cfg.Workers > 1 && tt.n >= 2*tt.cfg.MinChunk && calls.Load() < 2 {
				t.Errorf("expected the loop to be split, got %d calls", calls.Load())
			}
		})
	}
}

func TestForEmpty(t *testing.T) {
	For(0, Default, func(_, _ int) {
		t.Fatal("called for empty range")
	})
}

func TestRowsScalesChunkByWidth(t *testing.T) {
	var calls atomic.Int32
	var rows atomic.Int32
	Rows(64, 1024, Config{Workers: 8, MinChunk: 4096}, func(start, end int) {
		calls.Add(1)
		rows.Add(int32(end - start))
	})
	if rows.Load() != 64 {
		t.Fatalf("covered %d rows, want 64", rows.Load())
	}
	if calls.Load() != 8 {
		t.Errorf("calls = %d, want 8", calls.Load())
	}
}
