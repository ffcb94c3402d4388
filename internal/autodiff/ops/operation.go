// Package ops defines the differentiable operations recorded by the autograd
// graph.
//
// Each operation keeps the views its backward pass needs (as aliases, so the
// forward tensors may be released) and turns an output gradient into one
// gradient per input:
//   - AddOp: d(a+b)/da = 1, d(a+b)/db = 1
//   - MulOp: d(a*b)/da = b, d(a*b)/db = a
//   - DivOp: d(a/b)/da = 1/b, d(a/b)/db = -a/b²
//   - DivScalarOp: d(a/s)/da = 1/s
//   - MatMulOp: d(A@B)/dA = g@Bᵗ, d(A@B)/dB = Aᵗ@g
//   - TransposeOp, ViewOp: the inverse layout change
//   - SumOp, MeanOp, SumAxisOp, MeanAxisOp: broadcast back over the reduced axes
//   - CopyOp: move the gradient back to the source device
//
// Gradients of broadcast operands are summed back to the operand shape.
package ops

import (
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// Operation is a recorded node's local derivative.
type Operation interface {
	// Name identifies the operation in errors and logs.
	Name() string

	// Backward returns the gradient for each input given the output
	// gradient g. Entries whose needs flag is false may be nil. The caller
	// owns the returned views.
	Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error)

	// Release drops the saved views.
	Release()
}

// saved holds aliases of forward views.
type saved []*tensor.View

func save(views ...*tensor.View) (saved, error) {
	s := make(saved, 0, len(views))
	for _, v := range views {
		a, err := v.Alias()
		if err != nil {
			s.release()
			return nil, err
		}
		s = append(s, a)
	}
	return s, nil
}

func (s saved) release() {
	for _, v := range s {
		v.Release()
	}
}

// releaseAll drops every non-nil view in vs.
func releaseAll(vs []*tensor.View) {
	for _, v := range vs {
		if v != nil {
			v.Release()
		}
	}
}

// grads collects per-input results; on error every collected view is
// released.
type grads []*tensor.View

func (g grads) fail(err error) ([]*tensor.View, error) {
	releaseAll(g)
	return nil, err
}
