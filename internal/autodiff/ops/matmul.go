package ops

import (
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// MatMulOp represents output = a @ b for rank-2 operands.
//
// Backward pass:
//   - grad_a = g @ bᵗ
//   - grad_b = aᵗ @ g
//
// The transposes are strided views; no copy is made.
type MatMulOp struct {
	in saved
}

// NewMatMulOp saves a and b.
func NewMatMulOp(a, b *tensor.View) (*MatMulOp, error) {
	in, err := save(a, b)
	if err != nil {
		return nil, err
	}
	return &MatMulOp{in: in}, nil
}

// Name implements Operation.
func (op *MatMulOp) Name() string { return "matmul" }

// Backward implements Operation.
func (op *MatMulOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	a, b := op.in[0], op.in[1]
	out := make(grads, 2)
	if needs[0] {
		bt, err := b.Transpose(0, 1)
		if err != nil {
			return out.fail(err)
		}
		out[0], err = d.MatMul(g, bt)
		bt.Release()
		if err != nil {
			return out.fail(err)
		}
	}
	if needs[1] {
		at, err := a.Transpose(0, 1)
		if err != nil {
			return out.fail(err)
		}
		out[1], err = d.MatMul(at, g)
		at.Release()
		if err != nil {
			return out.fail(err)
		}
	}
	return out, nil
}

// Release implements Operation.
func (op *MatMulOp) Release() { op.in.release() }
