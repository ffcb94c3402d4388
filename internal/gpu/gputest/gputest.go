// Package gputest provides an in-memory gpu.Accelerator. Its kernels run the
// host implementations against device-resident float32 buffers, which lets
// the GPU dispatch path, queue pooling and fallback be tested without
// hardware.
package gputest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orchard-ml/orchard/internal/gpu"
)

// Accelerator is a fake device.
type Accelerator struct {
	// FailCompile makes every Compile call fail.
	FailCompile bool
	// FailDispatch makes every Dispatch call fail.
	FailDispatch bool
	// Missing lists kernel names that fail to compile.
	Missing map[string]bool

	compiles   atomic.Int64
	dispatches atomic.Int64
	queues     atomic.Int64

	mu      sync.Mutex
	buffers map[*Buffer]struct{}
}

// New returns an accelerator with every kernel available.
func New() *Accelerator {
	return &Accelerator{buffers: make(map[*Buffer]struct{})}
}

// Name implements gpu.Accelerator.
func (a *Accelerator) Name() string { return "gputest" }

// NewBuffer implements gpu.Accelerator.
func (a *Accelerator) NewBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("gputest: invalid buffer size %d", desc.Size)
	}
	b := &Buffer{
		acc:       a,
		data:      make([]float32, (desc.Size+3)/4),
		size:      desc.Size,
		purgeable: desc.Purgeable,
	}
	a.mu.Lock()
	a.buffers[b] = struct{}{}
	a.mu.Unlock()
	return b, nil
}

// Compile implements gpu.Accelerator.
func (a *Accelerator) Compile(name, source string) (gpu.Pipeline, error) {
	a.compiles.Add(1)
	if a.FailCompile || a.Missing[name] {
		return nil, fmt.Errorf("gputest: compile %s failed", name)
	}
	if source == "" {
		return nil, fmt.Errorf("gputest: empty source for %s", name)
	}
	k, ok := kernels[name]
	if !ok {
		return nil, fmt.Errorf("gputest: unknown kernel %s", name)
	}
	return &Pipeline{name: name, run: k}, nil
}

// NewQueue implements gpu.Accelerator.
func (a *Accelerator) NewQueue() (gpu.Queue, error) {
	a.queues.Add(1)
	return &Queue{acc: a}, nil
}

// Release implements gpu.Accelerator.
func (a *Accelerator) Release() {}

// Compiles returns the number of Compile calls.
func (a *Accelerator) Compiles() int64 { return a.compiles.Load() }

// Dispatches returns the number of successful dispatches.
func (a *Accelerator) Dispatches() int64 { return a.dispatches.Load() }

// Queues returns the number of queues created.
func (a *Accelerator) Queues() int64 { return a.queues.Load() }

// LiveBuffers returns the number of unreleased buffers.
func (a *Accelerator) LiveBuffers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// Buffer is host memory standing in for a device buffer.
type Buffer struct {
	acc       *Accelerator
	data      []float32
	size      int
	purgeable bool
	released  atomic.Bool
}

// Size implements gpu.Buffer.
func (b *Buffer) Size() int { return b.size }

// Purgeable implements gpu.Buffer.
func (b *Buffer) Purgeable() bool { return b.purgeable }

// Handle implements gpu.Buffer.
func (b *Buffer) Handle() uintptr { return uintptr(unsafe.Pointer(&b.data[0])) }

// Release implements gpu.Buffer.
func (b *Buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	b.acc.mu.Lock()
	delete(b.acc.buffers, b)
	b.acc.mu.Unlock()
}

// Floats exposes the buffer contents.
func (b *Buffer) Floats() []float32 { return b.data }

func (b *Buffer) bytes() []byte {
	//nolint:gosec // reinterpreting owned float32 storage as bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.data[0])), len(b.data)*4)[:b.size]
}

// Pipeline wraps a host kernel.
type Pipeline struct {
	name string
	run  kernel
}

// Name implements gpu.Pipeline.
func (p *Pipeline) Name() string { return p.name }

// Release implements gpu.Pipeline.
func (p *Pipeline) Release() {}

// Queue executes work synchronously.
type Queue struct {
	acc *Accelerator
}

func asBuffer(b gpu.Buffer) (*Buffer, error) {
	fb, ok := b.(*Buffer)
	if !ok || fb.released.Load() {
		return nil, fmt.Errorf("gputest: foreign or released buffer %T", b)
	}
	return fb, nil
}

// Upload implements gpu.Queue.
func (q *Queue) Upload(dst gpu.Buffer, offset int, src []byte) error {
	b, err := asBuffer(dst)
	if err != nil {
		return err
	}
	if offset+len(src) > b.size {
		return fmt.Errorf("gputest: upload of %d bytes at %d overflows %d", len(src), offset, b.size)
	}
	copy(b.bytes()[offset:], src)
	return nil
}

// Download implements gpu.Queue.
func (q *Queue) Download(dst []byte, src gpu.Buffer, offset int) error {
	b, err := asBuffer(src)
	if err != nil {
		return err
	}
	if offset+len(dst) > b.size {
		return fmt.Errorf("gputest: download of %d bytes at %d overflows %d", len(dst), offset, b.size)
	}
	copy(dst, b.bytes()[offset:])
	return nil
}

// Copy implements gpu.Queue.
func (q *Queue) Copy(dst gpu.Buffer, dstOffset int, src gpu.Buffer, srcOffset, size int) error {
	d, err := asBuffer(dst)
	if err != nil {
		return err
	}
	s, err := asBuffer(src)
	if err != nil {
		return err
	}
	copy(d.bytes()[dstOffset:dstOffset+size], s.bytes()[srcOffset:srcOffset+size])
	return nil
}

// Dispatch implements gpu.Queue.
func (q *Queue) Dispatch(p gpu.Pipeline, buffers []gpu.Buffer, params gpu.Params, threads int) error {
	if q.acc.FailDispatch {
		return fmt.Errorf("gputest: dispatch %s failed", p.Name())
	}
	if gpu.Workgroups(threads) > gpu.MaxWorkgroups {
		return fmt.Errorf("gputest: %d threads exceed dispatch limit", threads)
	}
	fp, ok := p.(*Pipeline)
	if !ok {
		return fmt.Errorf("gputest: foreign pipeline %T", p)
	}
	data := make([][]float32, len(buffers))
	for i, b := range buffers {
		fb, err := asBuffer(b)
		if err != nil {
			return err
		}
		data[i] = fb.data
	}
	fp.run(data, &params)
	q.acc.dispatches.Add(1)
	return nil
}

// Release implements gpu.Queue.
func (q *Queue) Release() {}
