package gpu

import (
	"sync"

	"github.com/pkg/errors"
)

// PipelineRegistry memoizes one compiled pipeline per kernel name for the
// lifetime of an accelerator. Concurrent first use of a name compiles once;
// a failed compile is memoized too, so a broken kernel is not retried on
// every dispatch.
type PipelineRegistry struct {
	acc Accelerator
	src KernelSource

	mu      sync.Mutex
	entries map[string]*pipelineEntry
}

type pipelineEntry struct {
	once     sync.Once
	pipeline Pipeline
	err      error
}

// NewPipelineRegistry creates a registry compiling from src on acc.
func NewPipelineRegistry(acc Accelerator, src KernelSource) *PipelineRegistry {
	if src == nil {
		src = BuiltinSource{}
	}
	return &PipelineRegistry{
		acc:     acc,
		src:     src,
		entries: make(map[string]*pipelineEntry),
	}
}

// Get returns the pipeline for name, compiling it on first use.
func (r *PipelineRegistry) Get(name string) (Pipeline, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &pipelineEntry{}
		r.entries[name] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		source, err := r.src.Kernel(name)
		if err != nil {
			e.err = err
			return
		}
		p, err := r.acc.Compile(name, source)
		if err != nil {
			e.err = errors.Wrapf(ErrKernelUnavailable, "compile %s: %v", name, err)
			return
		}
		e.pipeline = p
	})
	return e.pipeline, e.err
}

// Warm compiles names eagerly and returns the first failure.
func (r *PipelineRegistry) Warm(names ...string) error {
	var first error
	for _, name := range names {
		if _, err := r.Get(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len returns the number of kernel names seen, compiled or failed.
func (r *PipelineRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Release releases every compiled pipeline and empties the registry.
func (r *PipelineRegistry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.pipeline != nil {
			e.pipeline.Release()
		}
	}
	r.entries = make(map[string]*pipelineEntry)
}
