// Package device bundles the per-worker execution state: a host context, an
// optional GPU context, and the copy routes between them.
//
// A Context is owned by one worker goroutine. Construct one per worker with
// New and hand it to the dispatcher; nothing here is thread-local.
package device

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orchard-ml/orchard/internal/backend/cpu"
	"github.com/orchard-ml/orchard/internal/backend/webgpu"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Options configures a Context.
type Options struct {
	// Accelerator overrides the shared process accelerator. Tests inject
	// gputest accelerators here.
	Accelerator gpu.Accelerator
	// Kernels is the kernel source for the accelerator's pipeline registry.
	// The first Context created for an accelerator decides it.
	Kernels gpu.KernelSource
	// LargeBufferThreshold selects the purgeable strategy for GPU buffers
	// at or above this size. Zero means tensor.DefaultLargeBufferThreshold.
	LargeBufferThreshold int
	// DisableGPU forces a host-only context.
	DisableGPU bool
	// WarmKernels are compiled when the context is created.
	WarmKernels []string
}

// HostContext holds the host allocator and host primitives.
type HostContext struct {
	alloc tensor.HostAllocator
}

// Allocator returns the host allocator.
func (h *HostContext) Allocator() tensor.Allocator { return h.alloc }

// AddFused writes a + b into dst with the BLAS saxpy primitive. All three
// slices are contiguous and of equal length.
func (h *HostContext) AddFused(dst, a, b []float32) {
	cpu.AddVectors(dst, a, b)
}

// GPUContext holds a worker's view of the accelerator: the shared device
// and pipeline registry plus a private queue pool.
type GPUContext struct {
	acc      gpu.Accelerator
	alloc    *tensor.GPUAllocator
	queues   *gpu.QueuePool
	registry *gpu.PipelineRegistry
}

// Accelerator returns the device.
func (g *GPUContext) Accelerator() gpu.Accelerator { return g.acc }

// Allocator returns the GPU allocator.
func (g *GPUContext) Allocator() *tensor.GPUAllocator { return g.alloc }

// Registry returns the accelerator's shared pipeline registry.
func (g *GPUContext) Registry() *gpu.PipelineRegistry { return g.registry }

// Queues returns this worker's queue pool.
func (g *GPUContext) Queues() *gpu.QueuePool { return g.queues }

// WithQueue runs fn on a pooled queue and returns the queue to the pool.
func (g *GPUContext) WithQueue(fn func(q gpu.Queue) error) error {
	q, err := g.queues.Acquire()
	if err != nil {
		return errors.Wrap(err, "acquire queue")
	}
	defer g.queues.Put(q)
	return fn(q)
}

// Context is one worker's execution environment.
type Context struct {
	Host *HostContext
	// GPU is nil when no accelerator is available.
	GPU *GPUContext

	threshold int
}

// New builds a Context. A missing or failing accelerator is not an error:
// the context is host-only and GPU allocations report
// tensor.ErrDeviceUnavailable.
func New(opts Options) *Context {
	threshold := opts.LargeBufferThreshold
	if threshold <= 0 {
		threshold = tensor.DefaultLargeBufferThreshold
	}
	c := &Context{Host: &HostContext{}, threshold: threshold}
	if opts.DisableGPU {
		return c
	}

	acc := opts.Accelerator
	if acc == nil {
		var err error
		if acc, err = Shared(); err != nil {
			return c
		}
	}
	c.GPU = &GPUContext{
		acc:      acc,
		alloc:    tensor.NewGPUAllocator(acc, threshold),
		queues:   gpu.NewQueuePool(acc),
		registry: registryFor(acc, opts.Kernels),
	}
	if len(opts.WarmKernels) > 0 {
		if err := c.GPU.registry.Warm(opts.WarmKernels...); err != nil {
			klog.Warningf("device: warming kernels on %s: %v", acc.Name(), err)
		}
	}
	return c
}

// HasGPU reports whether GPU work can be dispatched.
func (c *Context) HasGPU() bool { return c.GPU != nil }

// Threshold returns the purgeable size threshold.
func (c *Context) Threshold() int { return c.threshold }

// Allocator returns the allocator serving dev. Without an accelerator the
// GPU allocator fails every request with tensor.ErrDeviceUnavailable.
func (c *Context) Allocator(dev tensor.Device) tensor.Allocator {
	if dev == tensor.CPU {
		return c.Host.Allocator()
	}
	if c.GPU == nil {
		return tensor.NewGPUAllocator(nil, c.threshold)
	}
	return c.GPU.alloc
}

// Copy moves n bytes from src at srcOff to dst at dstOff. Host to host is
// a memory copy; transfers touching the GPU go through a pooled queue.
func (c *Context) Copy(dst *tensor.Storage, dstOff int, src *tensor.Storage, srcOff, n int) error {
	if dst == nil || src == nil {
		return tensor.ErrReleased
	}
	if n < 0 || dstOff < 0 || srcOff < 0 || dstOff+n > dst.Size() || srcOff+n > src.Size() {
		return errors.Wrapf(tensor.ErrInvalidArgument, "copy of %d bytes (%d→%d) out of range for %d/%d byte stores",
			n, srcOff, dstOff, src.Size(), dst.Size())
	}
	if n == 0 {
		return nil
	}
	from, to := src.Device(), dst.Device()
	if from == tensor.CPU && to == tensor.CPU {
		copy(dst.Bytes()[dstOff:dstOff+n], src.Bytes()[srcOff:srcOff+n])
		return nil
	}
	if c.GPU == nil {
		return tensor.ErrDeviceUnavailable
	}
	return c.GPU.WithQueue(func(q gpu.Queue) error {
		var err error
		switch {
		case from == tensor.CPU:
			err = q.Upload(dst.Buffer(), dstOff, src.Bytes()[srcOff:srcOff+n])
		case to == tensor.CPU:
			err = q.Download(dst.Bytes()[dstOff:dstOff+n], src.Buffer(), srcOff)
		default:
			err = q.Copy(dst.Buffer(), dstOff, src.Buffer(), srcOff, n)
		}
		return errors.Wrapf(err, "copy %s→%s", from, to)
	})
}

// Release frees the worker's idle queues. The shared accelerator and
// pipeline registry outlive the context.
func (c *Context) Release() {
	if c.GPU != nil {
		c.GPU.queues.Release()
	}
}

var (
	sharedOnce sync.Once
	sharedAcc  gpu.Accelerator
	sharedErr  error

	registryMu sync.Mutex
	registries = map[gpu.Accelerator]*gpu.PipelineRegistry{}
)

// Shared returns the process-wide WebGPU accelerator, opening it on first
// use. The result, including failure, is cached.
func Shared() (gpu.Accelerator, error) {
	sharedOnce.Do(func() {
		sharedAcc, sharedErr = webgpu.Open()
		if sharedErr != nil {
			klog.Warningf("device: GPU unavailable, running on host: %v", sharedErr)
			return
		}
		klog.V(1).Infof("device: opened %s", sharedAcc.Name())
	})
	return sharedAcc, sharedErr
}

func registryFor(acc gpu.Accelerator, src gpu.KernelSource) *gpu.PipelineRegistry {
	registryMu.Lock()
	defer registryMu.Unlock()
	r, ok := registries[acc]
	if !ok {
		r = gpu.NewPipelineRegistry(acc, src)
		registries[acc] = r
	}
	return r
}

// Forget releases the pipeline registry of acc so a later Context compiles
// afresh. Used when an accelerator is torn down.
func Forget(acc gpu.Accelerator) {
	registryMu.Lock()
	r, ok := registries[acc]
	delete(registries, acc)
	registryMu.Unlock()
	if ok {
		r.Release()
	}
}
