package tensor

import (
	"unsafe"

	"github.com/orchard-ml/orchard/internal/gpu"
)

// Empty allocates a dense tensor. Host memory is zero-initialised; GPU
// memory contents are unspecified until written.
func Empty(alloc Allocator, shape Shape, dtype DataType, dev Device) (*View, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if dtype != Float32 {
		return nil, invalidf("unsupported dtype %s", dtype)
	}
	s, err := alloc.Allocate(shape.NumElements()*dtype.Size(), dev)
	if err != nil {
		return nil, err
	}
	return newView(s, shape.Clone(), shape.ComputeStrides(), 0), nil
}

// FromData wraps caller memory without copying. data must start on a
// 64-byte boundary (see AlignedFloat32s) and hold exactly the shape's
// elements. release, if non-nil, runs once when the last view is gone.
func FromData(data []float32, shape Shape, release func()) (*View, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, shapef("data has %d elements, shape %v needs %d", len(data), shape, shape.NumElements())
	}
	if !isAligned(unsafe.Pointer(&data[0])) {
		return nil, ErrMisaligned
	}
	//nolint:gosec // reinterpreting the caller's float32 slice as bytes
	host := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
	s := newStorage(host, nil, len(host), CPU, HostAligned, nil, release)
	return newView(s, shape.Clone(), shape.ComputeStrides(), 0), nil
}

// WrapBuffer wraps a caller-owned device buffer without copying.
func WrapBuffer(buf gpu.Buffer, shape Shape, release func()) (*View, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, invalidf("nil buffer")
	}
	need := shape.NumElements() * Float32.Size()
	if buf.Size() < need {
		return nil, shapef("buffer has %d bytes, shape %v needs %d", buf.Size(), shape, need)
	}
	strategy := GPUShared
	if buf.Purgeable() {
		strategy = GPUPurgeable
	}
	s := newStorage(nil, buf, need, GPU, strategy, nil, release)
	return newView(s, shape.Clone(), shape.ComputeStrides(), 0), nil
}
