package dispatch

import (
	"github.com/pkg/errors"

	"github.com/orchard-ml/orchard/internal/backend/cpu"
	"github.com/orchard-ml/orchard/internal/gpu"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Add returns a + b with broadcasting.
func (d *Dispatcher) Add(a, b *tensor.View) (*tensor.View, error) {
	return d.binary(cpu.OpAdd, gpu.KernelAdd, a, b, false)
}

// Mul returns a * b with broadcasting.
func (d *Dispatcher) Mul(a, b *tensor.View) (*tensor.View, error) {
	return d.binary(cpu.OpMul, gpu.KernelMul, a, b, false)
}

// Div returns a / b with broadcasting. In safe mode elements whose divisor
// is 0 are 0. Otherwise a zero anywhere in b fails with
// tensor.ErrDivisionByZero before anything is dispatched.
func (d *Dispatcher) Div(a, b *tensor.View, safe bool) (*tensor.View, error) {
	if !safe {
		if err := valid(a, b); err != nil {
			return nil, err
		}
		vals, err := d.Values(b)
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			if v == 0 {
				return nil, errors.Wrapf(tensor.ErrDivisionByZero, "divisor element %d", i)
			}
		}
	}
	return d.binary(cpu.OpDiv, gpu.KernelDiv, a, b, safe)
}

func (d *Dispatcher) binary(op cpu.BinaryOp, kernel string, a, b *tensor.View, safe bool) (*tensor.View, error) {
	if err := valid(a, b); err != nil {
		return nil, err
	}
	dev, err := sameDevice(a, b)
	if err != nil {
		return nil, err
	}
	bc, err := tensor.BroadcastStrides(a.Shape(), a.Strides(), b.Shape(), b.Strides())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", op)
	}
	out, err := d.Empty(bc.Shape, dev)
	if err != nil {
		return nil, err
	}
	p, err := pin(a, b, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	n := bc.Shape.NumElements()
	offA, offB := a.Offset(), b.Offset()
	params := gpu.Params{
		N:    u32(n),
		Rank: u32(len(bc.Shape)),
		Mode: boolMode(safe),
		OffA: u32(offA),
		OffB: u32(offB),
	}
	gpu.SetInts(&params.Shape, bc.Shape)
	gpu.SetInts(&params.StrideA, bc.StridesA)
	gpu.SetInts(&params.StrideB, bc.StridesB)

	fused := op == cpu.OpAdd && a.IsContiguous() && b.IsContiguous() && a.Shape().Equal(b.Shape())
	err = d.run(dev, &launch{
		kernel:  kernel,
		bufs:    []*tensor.Storage{p[0], p[1], p[2]},
		writes:  []int{2},
		params:  params,
		threads: n,
		host: func(buf [][]float32) {
			if fused {
				d.ctx.Host.AddFused(buf[2][:n], buf[0][offA:offA+n], buf[1][offB:offB+n])
				return
			}
			cpu.Binary(op, buf[2], bc.Shape,
				cpu.Operand{Data: buf[0], Strides: bc.StridesA, Offset: offA},
				cpu.Operand{Data: buf[1], Strides: bc.StridesB, Offset: offB},
				safe)
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// DivScalar returns a / s. Strict division by 0 fails with
// tensor.ErrDivisionByZero; safe division by 0 yields zeros.
func (d *Dispatcher) DivScalar(a *tensor.View, s float32, safe bool) (*tensor.View, error) {
	if err := valid(a); err != nil {
		return nil, err
	}
	if !safe && s == 0 {
		return nil, errors.Wrap(tensor.ErrDivisionByZero, "scalar divisor")
	}
	out, err := d.Empty(a.Shape(), a.Device())
	if err != nil {
		return nil, err
	}
	p, err := pin(a, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	shape, strides, off := a.Shape(), a.Strides(), a.Offset()
	params := unaryParams(a)
	params.Mode = boolMode(safe)
	params.Scalar = s
	err = d.run(a.Device(), &launch{
		kernel:  gpu.KernelDivScalar,
		bufs:    []*tensor.Storage{p[0], p[1]},
		writes:  []int{1},
		params:  params,
		threads: a.NumElements(),
		host: func(b [][]float32) {
			cpu.DivScalar(b[1], shape, cpu.Operand{Data: b[0], Strides: strides, Offset: off}, s, safe)
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// DivScalarInPlace divides the elements addressed by a by s. Other views of
// the same store observe the change.
func (d *Dispatcher) DivScalarInPlace(a *tensor.View, s float32, safe bool) error {
	if !safe && s == 0 {
		return errors.Wrap(tensor.ErrDivisionByZero, "scalar divisor")
	}
	p, err := pin(a)
	if err != nil {
		return err
	}
	defer p.release()

	shape, strides, off := a.Shape(), a.Strides(), a.Offset()
	params := unaryParams(a)
	params.Mode = boolMode(safe)
	params.Scalar = s
	return d.run(a.Device(), &launch{
		kernel:  gpu.KernelDivScalarInPlace,
		bufs:    []*tensor.Storage{p[0]},
		writes:  []int{0},
		params:  params,
		threads: a.NumElements(),
		host: func(b [][]float32) {
			cpu.DivScalarInPlace(shape, cpu.Operand{Data: b[0], Strides: strides, Offset: off}, s, safe)
		},
	})
}

// MatMul returns the [m,n] product of a [m,k] and b [k,n]. Strided
// operands are read in place.
func (d *Dispatcher) MatMul(a, b *tensor.View) (*tensor.View, error) {
	if err := valid(a, b); err != nil {
		return nil, err
	}
	dev, err := sameDevice(a, b)
	if err != nil {
		return nil, err
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "matmul needs rank-2 operands, got %v and %v", as, bs)
	}
	if as[1] != bs[0] {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "matmul inner dimensions differ: %v @ %v", as, bs)
	}
	m, k, n := as[0], as[1], bs[1]
	out, err := d.Empty(tensor.Shape{m, n}, dev)
	if err != nil {
		return nil, err
	}
	p, err := pin(a, b, out)
	if err != nil {
		out.Release()
		return nil, err
	}
	defer p.release()

	sa, sb := a.Strides(), b.Strides()
	offA, offB := a.Offset(), b.Offset()
	params := gpu.Params{
		N:      u32(m * n),
		Rank:   2,
		OffA:   u32(offA),
		OffB:   u32(offB),
		Extent: u32(k),
	}
	gpu.SetInts(&params.Shape, []int{m, n})
	gpu.SetInts(&params.StrideA, sa)
	gpu.SetInts(&params.StrideB, sb)
	err = d.run(dev, &launch{
		kernel:  gpu.KernelMatMul,
		bufs:    []*tensor.Storage{p[0], p[1], p[2]},
		writes:  []int{2},
		params:  params,
		threads: m * n,
		host: func(buf [][]float32) {
			cpu.MatMul(buf[2], m, k, n,
				cpu.Operand{Data: buf[0], Strides: sa, Offset: offA},
				cpu.Operand{Data: buf[1], Strides: sb, Offset: offB})
		},
	})
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Expand materialises v broadcast to shape.
func (d *Dispatcher) Expand(v *tensor.View, shape tensor.Shape) (*tensor.View, error) {
	if err := valid(v); err != nil {
		return nil, err
	}
	e, err := v.Expand(shape)
	if err != nil {
		return nil, err
	}
	defer e.Release()
	return d.Contiguous(e)
}

// TransposeGrad returns a dense copy of g with dimensions d0 and d1
// swapped.
func (d *Dispatcher) TransposeGrad(g *tensor.View, d0, d1 int) (*tensor.View, error) {
	if err := valid(g); err != nil {
		return nil, err
	}
	t, err := g.Transpose(d0, d1)
	if err != nil {
		return nil, err
	}
	defer t.Release()
	return d.Contiguous(t)
}
