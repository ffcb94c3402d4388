package ops

import (
	"github.com/orchard-ml/orchard/internal/dispatch"
	"github.com/orchard-ml/orchard/internal/tensor"
)

// TransposeOp represents output = transpose(a, d0, d1).
type TransposeOp struct {
	d0, d1 int
}

// NewTransposeOp records the swapped dimensions.
func NewTransposeOp(d0, d1 int) *TransposeOp {
	return &TransposeOp{d0: d0, d1: d1}
}

// Name implements Operation.
func (op *TransposeOp) Name() string { return "transpose" }

// Backward implements Operation: the gradient is transposed back.
func (op *TransposeOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	if !needs[0] {
		return []*tensor.View{nil}, nil
	}
	ga, err := d.TransposeGrad(g, op.d0, op.d1)
	if err != nil {
		return nil, err
	}
	return []*tensor.View{ga}, nil
}

// Release implements Operation.
func (op *TransposeOp) Release() {}

// ViewOp represents a reshape of a contiguous tensor.
type ViewOp struct {
	inShape tensor.Shape
}

// NewViewOp records the input shape.
func NewViewOp(inShape tensor.Shape) *ViewOp {
	return &ViewOp{inShape: inShape.Clone()}
}

// Name implements Operation.
func (op *ViewOp) Name() string { return "view" }

// Backward implements Operation: the gradient is reshaped to the input.
func (op *ViewOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	if !needs[0] {
		return []*tensor.View{nil}, nil
	}
	c, err := d.Contiguous(g)
	if err != nil {
		return nil, err
	}
	defer c.Release()
	ga, err := c.View(op.inShape...)
	if err != nil {
		return nil, err
	}
	return []*tensor.View{ga}, nil
}

// Release implements Operation.
func (op *ViewOp) Release() {}

// CopyOp represents a contiguous copy, clone or device transfer. The
// gradient is returned to the source device.
type CopyOp struct {
	src tensor.Device
}

// NewCopyOp records the source device.
func NewCopyOp(src tensor.Device) *CopyOp {
	return &CopyOp{src: src}
}

// Name implements Operation.
func (op *CopyOp) Name() string { return "copy" }

// Backward implements Operation.
func (op *CopyOp) Backward(g *tensor.View, d *dispatch.Dispatcher, needs []bool) ([]*tensor.View, error) {
	if !needs[0] {
		return []*tensor.View{nil}, nil
	}
	ga, err := d.To(g, op.src)
	if err != nil {
		return nil, err
	}
	return []*tensor.View{ga}, nil
}

// Release implements Operation.
func (op *CopyOp) Release() {}
