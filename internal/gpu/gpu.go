// Package gpu defines the accelerator abstraction used by the GPU device
// context, the WGSL kernel library, and the caches built on top of it.
//
// Implementations live in internal/backend/webgpu (real hardware) and
// internal/gpu/gputest (host memory, for tests).
package gpu

import "github.com/pkg/errors"

var (
	// ErrDeviceUnavailable is returned when no GPU device can be opened.
	ErrDeviceUnavailable = errors.New("gpu: device unavailable")

	// ErrKernelUnavailable is returned when a kernel has no source or fails
	// to compile into a pipeline.
	ErrKernelUnavailable = errors.New("gpu: kernel unavailable")
)

// WorkgroupSize is the number of invocations per workgroup in every kernel.
const WorkgroupSize = 256

// MaxWorkgroups is the largest single-dimension dispatch accepted by a queue.
const MaxWorkgroups = 65535

// BufferDesc describes a device buffer request.
type BufferDesc struct {
	Size int
	// Purgeable marks a buffer the device may reclaim under memory pressure.
	Purgeable bool
	// ElemSize and RowBytes describe the page-able surface backing a
	// purgeable buffer.
	ElemSize int
	RowBytes int
	Label    string
}

// Buffer is a device memory region.
type Buffer interface {
	Size() int
	Purgeable() bool
	// Handle identifies the buffer for diagnostics and zero-copy bridges.
	Handle() uintptr
	Release()
}

// Pipeline is a compiled compute kernel.
type Pipeline interface {
	Name() string
	Release()
}

// Queue submits work to the device. Every method blocks until the device
// has finished the submitted work. A queue is owned by one worker at a time.
type Queue interface {
	// Upload copies src into dst starting at byte offset.
	Upload(dst Buffer, offset int, src []byte) error
	// Download copies len(dst) bytes from src starting at byte offset.
	Download(dst []byte, src Buffer, offset int) error
	// Copy copies size bytes between device buffers.
	Copy(dst Buffer, dstOffset int, src Buffer, srcOffset, size int) error
	// Dispatch binds buffers in order, then params as a uniform at the next
	// binding, and launches one invocation per thread.
	Dispatch(p Pipeline, buffers []Buffer, params Params, threads int) error
	Release()
}

// Accelerator is an open compute device.
type Accelerator interface {
	Name() string
	NewBuffer(desc BufferDesc) (Buffer, error)
	// Compile builds a pipeline whose entry point is "main".
	Compile(name, source string) (Pipeline, error)
	NewQueue() (Queue, error)
	Release()
}

// Workgroups returns the number of workgroups needed for threads invocations.
func Workgroups(threads int) int {
	if threads <= 0 {
		return 0
	}
	return (threads + WorkgroupSize - 1) / WorkgroupSize
}
