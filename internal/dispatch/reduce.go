package dispatch

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/backend/cpu"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Sum returns the sum of all elements as a rank-0 tensor.
func (d *Dispatcher) Sum(a *tensor.View) (*tensor.View, error) {
	return d.reduceAll(a, false)
}

// Mean returns the mean of all elements as a rank-0 tensor.
func (d *Dispatcher) Mean(a *tensor.View) (*tensor.View, error) {
	return d.reduceAll(a, true)
}

func (d *Dispatcher) reduceAll(a *tensor.View, mean bool) (*tensor.View, error) {
	if err := valid(a); err != nil {
		return nil, err
	}
	out, err := d.Empty(tensor.Shape{}, a.Device())
	if err != nil {
		return nil, err
	}
	p, err := pin(a, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	kernel := gpu.KernelSum
	if mean {
		kernel = gpu.KernelMean
	}
	shape, strides, off := a.Shape(), a.Strides(), a.Offset()
	params := unaryParams(a)
	params.Extent = u32(a.NumElements())
	// One invocation walks every element in row-major order.
	err = d.run(a.Device(), &launch{
		kernel:  kernel,
		bufs:    []*tensor.Storage{p[0], p[1]},
		writes:  []int{1},
		params:  params,
		threads: 1,
		host: func(b [][]float32) {
			op := cpu.Operand{Data: b[0], Strides: strides, Offset: off}
			if mean {
				b[1][0] = cpu.Mean(shape, op)
			} else {
				b[1][0] = cpu.Sum(shape, op)
			}
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// SumAxis sums a along axis. Negative axes count from the end; keep
// retains the reduced axis with extent 1.
func (d *Dispatcher) SumAxis(a *tensor.View, axis int, keep bool) (*tensor.View, error) {
	return d.reduceAxis(a, axis, keep, false)
}

// MeanAxis averages a along axis.
func (d *Dispatcher) MeanAxis(a *tensor.View, axis int, keep bool) (*tensor.View, error) {
	return d.reduceAxis(a, axis, keep, true)
}

func (d *Dispatcher) reduceAxis(a *tensor.View, axis int, keep, mean bool) (*tensor.View, error) {
	if err := valid(a); err != nil {
		return nil, err
	}
	shape := a.Shape()
	ax, err := tensor.NormalizeAxis(axis, len(shape))
	if err != nil {
		return nil, err
	}
	outShape := tensor.ReducedShape(shape, ax, keep)
	out, err := d.Empty(outShape, a.Device())
	if err != nil {
		return nil, err
	}
	p, err := pin(a, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	kernel := gpu.KernelSumAxis
	if mean {
		kernel = gpu.KernelMeanAxis
	}
	strides, off := a.Strides(), a.Offset()
	params := unaryParams(a)
	params.N = u32(outShape.NumElements())
	params.Axis = u32(ax)
	params.Extent = u32(shape[ax])
	err = d.run(a.Device(), &launch{
		kernel:  kernel,
		bufs:    []*tensor.Storage{p[0], p[1]},
		writes:  []int{1},
		params:  params,
		threads: outShape.NumElements(),
		host: func(b [][]float32) {
			op := cpu.Operand{Data: b[0], Strides: strides, Offset: off}
			if mean {
				cpu.MeanAxis(b[1], shape, ax, op)
			} else {
				cpu.SumAxis(b[1], shape, ax, op)
			}
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// ReduceTo sums the broadcast gradient g down to target, the shape of the
// operand that was broadcast. target must broadcast to g's shape.
func (d *Dispatcher) ReduceTo(g *tensor.View, target tensor.Shape) (*tensor.View, error) {
	if err := valid(g); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	gshape := g.Shape()
	if len(target) > len(gshape) {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "cannot reduce %v to %v", gshape, target)
	}
	padded := target.PadLeft(len(gshape))
	for i := range gshape {
		if padded[i] != gshape[i] && padded[i] != 1 {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "cannot reduce %v to %v", gshape, target)
		}
	}
	out, err := d.Empty(target, g.Device())
	if err != nil {
		return nil, err
	}
	p, err := pin(g, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	strides, off := g.Strides(), g.Offset()
	params := unaryParams(g)
	params.N = u32(target.NumElements())
	gpu.SetInts(&params.Aux, padded)
	err = d.run(g.Device(), &launch{
		kernel:  gpu.KernelReduceTo,
		bufs:    []*tensor.Storage{p[0], p[1]},
		writes:  []int{1},
		params:  params,
		threads: target.NumElements(),
		host: func(b [][]float32) {
			cpu.ReduceTo(b[1], gshape, padded, cpu.Operand{Data: b[0], Strides: strides, Offset: off})
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}
