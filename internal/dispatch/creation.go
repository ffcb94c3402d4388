package dispatch

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/backend/cpu"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Empty allocates a dense tensor on dev. GPU contents are unspecified.
func (d *Dispatcher) Empty(shape tensor.Shape, dev tensor.Device) (*tensor.View, error) {
	return tensor.Empty(d.ctx.Allocator(dev), shape, tensor.Float32, dev)
}

// Full allocates a dense tensor on dev with every element set to value.
func (d *Dispatcher) Full(shape tensor.Shape, value float32, dev tensor.Device) (*tensor.View, error) {
	out, err := d.Empty(shape, dev)
	if err != nil {
		return nil, err
	}
	if err := d.Fill(out, value); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Zeros allocates a zero-filled tensor on dev.
func (d *Dispatcher) Zeros(shape tensor.Shape, dev tensor.Device) (*tensor.View, error) {
	return d.Full(shape, 0, dev)
}

// ZerosLike allocates zeros with v's shape on v's device.
func (d *Dispatcher) ZerosLike(v *tensor.View) (*tensor.View, error) {
	if err := valid(v); err != nil {
		return nil, err
	}
	return d.Zeros(v.Shape(), v.Device())
}

// FromSlice copies data into a new dense tensor on dev.
func (d *Dispatcher) FromSlice(data []float32, shape tensor.Shape, dev tensor.Device) (*tensor.View, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "%d values for shape %v", len(data), shape)
	}
	host, err := d.Empty(shape, tensor.CPU)
	if err != nil {
		return nil, err
	}
	copy(host.Storage().Floats(), data)
	if dev == tensor.CPU {
		return host, nil
	}
	defer host.Release()
	return d.To(host, dev)
}

// Fill sets every element addressed by v to value.
func (d *Dispatcher) Fill(v *tensor.View, value float32) error {
	p, err := pin(v)
	if err != nil {
		return err
	}
	defer p.release()

	shape, strides, off := v.Shape(), v.Strides(), v.Offset()
	params := unaryParams(v)
	params.Scalar = value
	return d.run(v.Device(), &launch{
		kernel:  gpu.KernelFill,
		bufs:    []*tensor.Storage{p[0]},
		writes:  []int{0},
		params:  params,
		threads: v.NumElements(),
		host: func(b [][]float32) {
			cpu.Fill(shape, cpu.Operand{Data: b[0], Strides: strides, Offset: off}, value)
		},
	})
}

// Contiguous returns v itself (as a new alias) when its layout is already
// row-major, otherwise a dense copy on the same device.
func (d *Dispatcher) Contiguous(v *tensor.View) (*tensor.View, error) {
	if err := valid(v); err != nil {
		return nil, err
	}
	if v.IsContiguous() {
		return v.Alias()
	}
	return d.gather(v)
}

// Clone returns an independent dense copy of v on the same device.
func (d *Dispatcher) Clone(v *tensor.View) (*tensor.View, error) {
	if err := valid(v); err != nil {
		return nil, err
	}
	return d.gather(v)
}

// gather copies the elements addressed by v into a new dense tensor.
func (d *Dispatcher) gather(v *tensor.View) (*tensor.View, error) {
	out, err := d.Empty(v.Shape(), v.Device())
	if err != nil {
		return nil, err
	}
	p, err := pin(v, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	shape, strides, off := v.Shape(), v.Strides(), v.Offset()
	err = d.run(v.Device(), &launch{
		kernel:  gpu.KernelCopyStrided,
		bufs:    []*tensor.Storage{p[0], p[1]},
		writes:  []int{1},
		params:  unaryParams(v),
		threads: v.NumElements(),
		host: func(b [][]float32) {
			cpu.Gather(b[1], shape, cpu.Operand{Data: b[0], Strides: strides, Offset: off})
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// To returns v on dev. On the same device the result aliases v's store;
// otherwise v is made contiguous and copied.
func (d *Dispatcher) To(v *tensor.View, dev tensor.Device) (*tensor.View, error) {
	if err := valid(v); err != nil {
		return nil, err
	}
	if v.Device() == dev {
		return v.Alias()
	}
	src, err := d.Contiguous(v)
	if err != nil {
		return nil, err
	}
	defer src.Release()

	out, err := d.Empty(v.Shape(), dev)
	if err != nil {
		return nil, err
	}
	p, err := pin(src, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()
	n := v.NumElements() * tensor.Float32.Size()
	if err := d.ctx.Copy(p[1], 0, p[0], src.ByteOffset(), n); err != nil {
		out.Release()
		return nil, errors.Wrapf(err, "transfer %v to %s", v.Shape(), dev)
	}
	return out, nil
}

// Values returns the logical elements of v in row-major order, reading
// GPU tensors back through the host.
func (d *Dispatcher) Values(v *tensor.View) ([]float32, error) {
	if err := valid(v); err != nil {
		return nil, err
	}
	if v.Device() == tensor.CPU {
		return v.Float32s()
	}
	h, err := d.To(v, tensor.CPU)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.Float32s()
}

func unaryParams(v *tensor.View) gpu.Params {
	p := gpu.Params{
		N:    u32(v.NumElements()),
		Rank: u32(v.Rank()),
		OffA: u32(v.Offset()),
	}
	gpu.SetInts(&p.Shape, v.Shape())
	gpu.SetInts(&p.StrideA, v.Strides())
	return p
}
