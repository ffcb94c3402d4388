// Copyright 2025 Orchard ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/autodiff"
	"github.com/orchard-ml/orchard/internal/device"
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/profile"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Runtime is one worker's handle on the compute runtime. It is not safe for
// concurrent use; create one Runtime per goroutine.
type Runtime struct {
	cfg    Config
	ctx    *device.Context
	engine *autodiff.Engine
	dev    Device
	safe   bool
}

// NewRuntime creates a runtime with the given settings.
//
// The GPU is opened on first use in the process and shared by every
// runtime. When it cannot be opened the runtime is host-only, unless
// cfg.Device is "gpu", in which case ErrDeviceUnavailable is returned.
func NewRuntime(cfg Config) (*Runtime, error) {
	return newRuntime(cfg, cfg.DeviceOptions())
}

func newRuntime(cfg Config, opts device.Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyProfile()

	ctx := device.New(opts)
	dev := cfg.DefaultDevice(ctx.HasGPU())
	if dev == GPU && !ctx.HasGPU() {
		ctx.Release()
		return nil, errors.Wrap(ErrDeviceUnavailable, "runtime configured for gpu")
	}
	return &Runtime{
		cfg:    cfg,
		ctx:    ctx,
		engine: autodiff.NewEngine(dispatch.New(ctx)),
		dev:    dev,
		safe:   !cfg.StrictDivision,
	}, nil
}

// Config returns the settings the runtime was created with.
func (r *Runtime) Config() Config { return r.cfg }

// Device returns the device new tensors are created on.
func (r *Runtime) Device() Device { return r.dev }

// HasGPU reports whether the runtime can place tensors on the GPU.
func (r *Runtime) HasGPU() bool { return r.ctx.HasGPU() }

// DeviceName describes the accelerator, or "host" without one.
func (r *Runtime) DeviceName() string {
	if !r.ctx.HasGPU() {
		return "host"
	}
	return r.ctx.GPU.Accelerator().Name()
}

// Stats returns execution counters.
func (r *Runtime) Stats() Stats { return r.engine.Dispatcher().Stats() }

// Release frees the runtime's queues. Tensors must be released separately.
func (r *Runtime) Release() { r.ctx.Release() }

// LiveAllocations returns the number of buffers allocated and not yet freed
// across the process.
func (r *Runtime) LiveAllocations() int { return profile.LiveCount() }

// Creation

// FromSlice copies data into a new tensor on the runtime's device.
func (r *Runtime) FromSlice(data []float32, shape Shape, requiresGrad bool) (*Tensor, error) {
	return r.engine.FromSlice(data, shape, r.dev, requiresGrad)
}

// FromSliceOn copies data into a new tensor on dev.
func (r *Runtime) FromSliceOn(data []float32, shape Shape, dev Device, requiresGrad bool) (*Tensor, error) {
	return r.engine.FromSlice(data, shape, dev, requiresGrad)
}

// Wrap makes a host tensor over data without copying. data must come from
// AlignedFloat32s (or be otherwise 64-byte aligned); release, if non-nil,
// runs when the storage is freed.
func (r *Runtime) Wrap(data []float32, shape Shape, requiresGrad bool, release func()) (*Tensor, error) {
	v, err := tensor.FromData(data, shape, release)
	if err != nil {
		return nil, err
	}
	return autodiff.Wrap(v, requiresGrad), nil
}

// Zeros returns a zero-filled tensor on the runtime's device.
func (r *Runtime) Zeros(shape Shape, requiresGrad bool) (*Tensor, error) {
	return r.engine.Zeros(shape, r.dev, requiresGrad)
}

// Full returns a tensor on the runtime's device filled with value.
func (r *Runtime) Full(shape Shape, value float32, requiresGrad bool) (*Tensor, error) {
	return r.engine.Full(shape, value, r.dev, requiresGrad)
}

// Empty returns a tensor on the runtime's device with unspecified contents.
func (r *Runtime) Empty(shape Shape, requiresGrad bool) (*Tensor, error) {
	return r.engine.Empty(shape, r.dev, requiresGrad)
}

// ZerosLike returns a zero-filled tensor with t's shape on t's device.
func (r *Runtime) ZerosLike(t *Tensor, requiresGrad bool) (*Tensor, error) {
	return r.engine.ZerosLike(t, requiresGrad)
}

// Fill sets every element of t, including through strided views, to value.
// It fails with ErrInvalidArgument when t requires gradients.
func (r *Runtime) Fill(t *Tensor, value float32) error { return r.engine.Fill(t, value) }

// Reading

// Values returns t's elements in row-major order.
func (r *Runtime) Values(t *Tensor) ([]float32, error) {
	return r.engine.Values(t)
}

// GradValues returns t's accumulated gradient in row-major order.
func (r *Runtime) GradValues(t *Tensor) ([]float32, error) {
	g := t.Grad()
	if g == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "tensor has no gradient")
	}
	return r.engine.Dispatcher().Values(g)
}

// Arithmetic

// Add returns a + b with broadcasting.
func (r *Runtime) Add(a, b *Tensor) (*Tensor, error) { return r.engine.Add(a, b) }

// Mul returns a * b with broadcasting.
func (r *Runtime) Mul(a, b *Tensor) (*Tensor, error) { return r.engine.Mul(a, b) }

// Div returns a / b with broadcasting in the runtime's division mode.
func (r *Runtime) Div(a, b *Tensor) (*Tensor, error) { return r.engine.Div(a, b, r.safe) }

// DivScalar returns a / s.
func (r *Runtime) DivScalar(a *Tensor, s float32) (*Tensor, error) {
	return r.engine.DivScalar(a, s, r.safe)
}

// DivScalarInPlace divides t by s in place. Gradients still flow to t's
// earlier value.
func (r *Runtime) DivScalarInPlace(t *Tensor, s float32) error {
	return r.engine.DivScalarInPlace(t, s, r.safe)
}

// MatMul returns a @ b for rank-2 operands.
func (r *Runtime) MatMul(a, b *Tensor) (*Tensor, error) { return r.engine.MatMul(a, b) }

// Reductions

// Sum returns the scalar sum of every element.
func (r *Runtime) Sum(t *Tensor) (*Tensor, error) { return r.engine.Sum(t) }

// Mean returns the scalar mean of every element.
func (r *Runtime) Mean(t *Tensor) (*Tensor, error) { return r.engine.Mean(t) }

// SumAxis sums along axis. Negative axes count from the end.
func (r *Runtime) SumAxis(t *Tensor, axis int, keepDim bool) (*Tensor, error) {
	return r.engine.SumAxis(t, axis, keepDim)
}

// MeanAxis averages along axis. Negative axes count from the end.
func (r *Runtime) MeanAxis(t *Tensor, axis int, keepDim bool) (*Tensor, error) {
	return r.engine.MeanAxis(t, axis, keepDim)
}

// Layout

// Transpose swaps two dimensions without copying.
func (r *Runtime) Transpose(t *Tensor, d0, d1 int) (*Tensor, error) {
	return r.engine.Transpose(t, d0, d1)
}

// Reshape returns a view of a contiguous t with a new shape.
func (r *Runtime) Reshape(t *Tensor, shape ...int) (*Tensor, error) {
	return r.engine.View(t, shape...)
}

// Slice returns elements start, start+step, ... below end along dim,
// sharing t's storage. The result does not take part in autograd.
func (r *Runtime) Slice(t *Tensor, dim, start, end, step int) (*Tensor, error) {
	return r.engine.Slice(t, dim, start, end, step)
}

// Contiguous returns t with a row-major layout, copying only when needed.
func (r *Runtime) Contiguous(t *Tensor) (*Tensor, error) { return r.engine.Contiguous(t) }

// Clone returns an independent copy of t.
func (r *Runtime) Clone(t *Tensor) (*Tensor, error) { return r.engine.Clone(t) }

// To returns t on dev. On the same device the result shares t's storage.
func (r *Runtime) To(t *Tensor, dev Device) (*Tensor, error) { return r.engine.To(t, dev) }

// Autograd

// Backward accumulates gradients of t into every tensor of its graph that
// requires them, then releases the graph.
func (r *Runtime) Backward(t *Tensor) error { return r.engine.Backward(t) }
