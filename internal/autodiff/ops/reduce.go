package ops

import (
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// SumOp represents output = sum(a) over every element.
type SumOp struct {
	inShape tensor.Shape
	mean    bool
}

// NewSumOp records the input shape.
func NewSumOp(inShape tensor.Shape) *SumOp {
	return &SumOp{inShape: inShape.Clone()}
}

// NewMeanOp records the input shape of a full mean.
func NewMeanOp(inShape tensor.Shape) *SumOp {
	return &SumOp{inShape: inShape.Clone(), mean: true}
}

// Name implements Operation.
func (op *SumOp) Name() string {
	if op.mean {
		return "mean"
	}
	return "sum"
}

// Backward implements Operation: g is broadcast to the input shape and, for
// the mean, divided by the element count.
func (op *SumOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	if !needs[0] {
		return []*tensor.View{nil}, nil
	}
	ga, err := spread(g, op.inShape, op.inShape.NumElements(), op.mean, d)
	if err != nil {
		return nil, err
	}
	return []*tensor.View{ga}, nil
}

// Release implements Operation.
func (op *SumOp) Release() {}

// SumAxisOp represents output = sum(a, axis) or mean(a, axis).
type SumAxisOp struct {
	inShape tensor.Shape
	axis    int
	keep    bool
	mean    bool
}

// NewSumAxisOp records an axis sum. axis is already normalised.
func NewSumAxisOp(inShape tensor.Shape, axis int, keep bool) *SumAxisOp {
	return &SumAxisOp{inShape: inShape.Clone(), axis: axis, keep: keep}
}

// NewMeanAxisOp records an axis mean. axis is already normalised.
func NewMeanAxisOp(inShape tensor.Shape, axis int, keep bool) *SumAxisOp {
	return &SumAxisOp{inShape: inShape.Clone(), axis: axis, keep: keep, mean: true}
}

// Name implements Operation.
func (op *SumAxisOp) Name() string {
	if op.mean {
		return "mean_axis"
	}
	return "sum_axis"
}

// Backward implements Operation: the reduced axis is restored with extent
// 1 and g is broadcast across it.
func (op *SumAxisOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	if !needs[0] {
		return []*tensor.View{nil}, nil
	}
	kept := g
	if !op.keep {
		c, err := d.Contiguous(g)
		if err != nil {
			return nil, err
		}
		defer c.Release()
		if kept, err = c.View(tensor.ReducedShape(op.inShape, op.axis, true)...); err != nil {
			return nil, err
		}
		defer kept.Release()
	}
	ga, err := spread(kept, op.inShape, op.inShape[op.axis], op.mean, d)
	if err != nil {
		return nil, err
	}
	return []*tensor.View{ga}, nil
}

// Release implements Operation.
func (op *SumAxisOp) Release() {}

// spread broadcasts g to shape, dividing by count when mean is set.
func spread(g *tensor.View, shape tensor.Shape, count int, mean bool, d *dispatch.Dispatcher) (*tensor.View, error) {
	e, err := d.Expand(g, shape)
	if err != nil {
		return nil, err
	}
	if !mean {
		return e, nil
	}
	defer e.Release()
	return d.DivScalar(e, float32(count), false)
}
