package ops

import (
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// reduceBroadcast sums g back to target when the forward pass broadcast an
// operand of that shape. It takes ownership of g.
func reduceBroadcast(g *tensor.View, target tensor.Shape, d *dispatch.Dispatcher) (*tensor.View, error) {
	if g.Shape().Equal(target) {
		return g, nil
	}
	defer g.Release()
	return d.ReduceTo(g, target)
}

// AddOp represents output = a + b.
type AddOp struct {
	aShape, bShape tensor.Shape
}

// NewAddOp records the operand shapes of a + b.
func NewAddOp(a, b *tensor.View) *AddOp {
	return &AddOp{aShape: a.Shape(), bShape: b.Shape()}
}

// Name implements Operation.
func (op *AddOp) Name() string { return "add" }

// Backward implements Operation.
func (op *AddOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	out := make(grads, 2)
	for i, shape := range []tensor.Shape{op.aShape, op.bShape} {
		if !needs[i] {
			continue
		}
		c, err := d.Contiguous(g)
		if err != nil {
			return out.fail(err)
		}
		if out[i], err = reduceBroadcast(c, shape, d); err != nil {
			return out.fail(err)
		}
	}
	return out, nil
}

// Release implements Operation.
func (op *AddOp) Release() {}

// MulOp represents output = a * b.
type MulOp struct {
	in saved
}

// NewMulOp saves a and b.
func NewMulOp(a, b *tensor.View) (*MulOp, error) {
	in, err := save(a, b)
	if err != nil {
		return nil, err
	}
	return &MulOp{in: in}, nil
}

// Name implements Operation.
func (op *MulOp) Name() string { return "mul" }

// Backward implements Operation: grad_a = g*b, grad_b = g*a.
func (op *MulOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	out := make(grads, 2)
	for i := range out {
		if !needs[i] {
			continue
		}
		other := op.in[1-i]
		p, err := d.Mul(g, other)
		if err != nil {
			return out.fail(err)
		}
		if out[i], err = reduceBroadcast(p, op.in[i].Shape(), d); err != nil {
			return out.fail(err)
		}
	}
	return out, nil
}

// Release implements Operation.
func (op *MulOp) Release() { op.in.release() }

// DivOp represents output = a / b.
//
// Backward pass:
//   - grad_a = g / b
//   - grad_b = -(g / b) * (a / b)
//
// In safe mode both quotients are 0 where b is 0, so neither gradient
// picks up an infinity from a masked element.
type DivOp struct {
	in   saved
	safe bool
}

// NewDivOp saves a and b.
func NewDivOp(a, b *tensor.View, safe bool) (*DivOp, error) {
	in, err := save(a, b)
	if err != nil {
		return nil, err
	}
	return &DivOp{in: in, safe: safe}, nil
}

// Name implements Operation.
func (op *DivOp) Name() string { return "div" }

// Backward implements Operation.
func (op *DivOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	a, b := op.in[0], op.in[1]
	out := make(grads, 2)

	// The forward pass already rejected zero divisors in strict mode.
	q, err := d.Div(g, b, true)
	if err != nil {
		return nil, err
	}
	defer q.Release()

	if needs[0] {
		c, err := d.Contiguous(q)
		if err != nil {
			return out.fail(err)
		}
		if out[0], err = reduceBroadcast(c, a.Shape(), d); err != nil {
			return out.fail(err)
		}
	}
	if needs[1] {
		ratio, err := d.Div(a, b, true)
		if err != nil {
			return out.fail(err)
		}
		p, err := d.Mul(q, ratio)
		ratio.Release()
		if err != nil {
			return out.fail(err)
		}
		neg, err := d.DivScalar(p, -1, false)
		p.Release()
		if err != nil {
			return out.fail(err)
		}
		if out[1], err = reduceBroadcast(neg, b.Shape(), d); err != nil {
			return out.fail(err)
		}
	}
	return out, nil
}

// Release implements Operation.
func (op *DivOp) Release() { op.in.release() }

// DivScalarOp represents output = a / s.
type DivScalarOp struct {
	s    float32
	safe bool
}

// NewDivScalarOp records the divisor.
func NewDivScalarOp(s float32, safe bool) *DivScalarOp {
	return &DivScalarOp{s: s, safe: safe}
}

// Name implements Operation.
func (op *DivScalarOp) Name() string { return "div_scalar" }

// Backward implements Operation: grad_a = g / s.
func (op *DivScalarOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	if !needs[0] {
		return []*tensor.View{nil}, nil
	}
	ga, err := d.DivScalar(g, op.s, op.safe)
	if err != nil {
		return nil, err
	}
	return []*tensor.View{ga}, nil
}

// Release implements Operation.
func (op *DivScalarOp) Release() {}
