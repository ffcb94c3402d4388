package tensor

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/gpu"
)

// DefaultLargeBufferThreshold is the size at which GPU buffers switch to the
// purgeable strategy.
const DefaultLargeBufferThreshold = 16 << 20

// Strategy identifies an allocator variant.
type Strategy int

// Allocator variants.
const (
	HostAligned Strategy = iota
	GPUShared
	GPUPurgeable
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case HostAligned:
		return "host-aligned"
	case GPUShared:
		return "gpu-shared"
	case GPUPurgeable:
		return "gpu-purgeable"
	default:
		return "unknown"
	}
}

// ChooseStrategy picks the allocator variant for a request.
func ChooseStrategy(dev Device, size, threshold int) Strategy {
	if dev == CPU {
		return HostAligned
	}
	if size >= threshold {
		return GPUPurgeable
	}
	return GPUShared
}

// Allocator turns a byte count and a device into a Storage.
// The set of implementations is closed: HostAllocator and GPUAllocator.
type Allocator interface {
	Allocate(size int, dev Device) (*Storage, error)
	Deallocate(s *Storage)
	sealed()
}

// HostAllocator allocates 64-byte aligned host memory.
type HostAllocator struct{}

// Allocate implements Allocator.
func (a HostAllocator) Allocate(size int, dev Device) (*Storage, error) {
	if dev != CPU {
		return nil, invalidf("host allocator cannot serve %s", dev)
	}
	if size <= 0 {
		return nil, invalidf("allocation size %d", size)
	}
	return newStorage(alignedBytes(size), nil, size, CPU, HostAligned, a, nil), nil
}

// Deallocate implements Allocator. Host memory is returned to the Go heap
// once the last slice referencing it is gone.
func (HostAllocator) Deallocate(*Storage) {}

func (HostAllocator) sealed() {}

// GPUAllocator allocates device buffers on an accelerator.
type GPUAllocator struct {
	acc       gpu.Accelerator
	threshold int
}

// NewGPUAllocator creates an allocator for acc. A nil accelerator yields an
// allocator that fails every request with ErrDeviceUnavailable.
func NewGPUAllocator(acc gpu.Accelerator, threshold int) *GPUAllocator {
	if threshold <= 0 {
		threshold = DefaultLargeBufferThreshold
	}
	return &GPUAllocator{acc: acc, threshold: threshold}
}

// Threshold returns the purgeable size threshold.
func (a *GPUAllocator) Threshold() int { return a.threshold }

// Allocate implements Allocator. It never substitutes host memory.
func (a *GPUAllocator) Allocate(size int, dev Device) (*Storage, error) {
	if dev != GPU {
		return nil, invalidf("gpu allocator cannot serve %s", dev)
	}
	if a == nil || a.acc == nil {
		return nil, ErrDeviceUnavailable
	}
	if size <= 0 {
		return nil, invalidf("allocation size %d", size)
	}
	strategy := ChooseStrategy(dev, size, a.threshold)
	desc := gpu.BufferDesc{Size: size}
	if strategy == GPUPurgeable {
		desc.Purgeable = true
		desc.ElemSize = Float32.Size()
		desc.RowBytes = size
	}
	buf, err := a.acc.NewBuffer(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d bytes (%s)", size, strategy)
	}
	return newStorage(nil, buf, size, GPU, strategy, a, nil), nil
}

// Deallocate implements Allocator.
func (a *GPUAllocator) Deallocate(s *Storage) {
	switch s.strategy {
	case GPUShared, GPUPurgeable:
		if s.buf != nil {
			s.buf.Release()
		}
	}
}

func (*GPUAllocator) sealed() {}
